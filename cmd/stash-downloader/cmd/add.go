package cmd

import (
	"fmt"
	"net/url"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/internal/bridge"
	"go-stash-downloader/internal/models"
)

var addCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Add URLs to the download queue",
	Long: `Adds each URL to the persistent download queue. URLs already in the queue are skipped.
URLs sent by an external client while no consumer was running are added as well.
With --scrape the metadata is fetched up front so it can be reviewed before running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().String("type", "", "Content type hint (video, image, gallery)")
	addCmd.Flags().Bool("scrape", false, "Scrape metadata before queueing")
}

// attachBridge connects a bridge server to the app queue and delivers mailbox messages.
func attachBridge(a *app) (*bridge.Server, *bridge.Bus) {
	bus := bridge.NewBus()
	mb := bridge.NewMailbox(a.db)
	srv := bridge.NewServer(a.queue, a.settings, bus, mb)
	srv.AllowOrigins(a.stash.Origin())
	srv.AllowOrigins(a.cfg.BridgeAllowedOrigins...)
	if _, err := bridge.DrainMailbox(mb, bus); err != nil {
		log.WithError(err).Warn("Could not drain external URL mailbox")
	}
	return srv, bus
}

func runAdd(cmd *cobra.Command, args []string) error {
	hint, err := parseTypeFlag(cmd)
	if err != nil {
		return err
	}
	scrape, _ := cmd.Flags().GetBool("scrape")

	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	srv, _ := attachBridge(a)
	defer srv.Close()

	var added, skipped, failed int
	for _, u := range args {
		if parsed, perr := url.Parse(u); perr != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			log.WithField("url", u).Error("Not an http(s) URL, not queued")
			failed++
			continue
		}
		var md *models.ScrapedMetadata
		if scrape {
			md, err = a.registry.Scrape(cmd.Context(), u, hint)
			if err != nil {
				log.WithError(err).WithField("url", u).Error("Scrape failed, not queued")
				failed++
				continue
			}
		}
		id, ok := a.queue.AddWithHint(u, hint, md)
		if !ok {
			skipped++
			continue
		}
		added++
		fmt.Printf("%s\t%s\n", id, u)
	}

	log.Infof("Queued %d URL(s), %d already present, %d failed. Queue size: %d", added, skipped, failed, a.queue.Len())
	if failed > 0 {
		return fmt.Errorf("%d URL(s) could not be queued", failed)
	}
	return nil
}
