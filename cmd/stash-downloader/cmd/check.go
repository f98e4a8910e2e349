package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"go-stash-downloader/internal/pipeline"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the Stash connection and the plugin's download tools",
	Long: `Verifies that the Stash server is reachable and asks the downloader plugin whether yt-dlp,
praw and the metadata embedding tools are installed on the host.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.StashUrl == "" {
		return errors.New("no Stash server configured: set StashUrl or pass --stash-url")
	}

	checks := pipeline.CheckDependencies(cmd.Context(), a.stash, a.cfg.PluginID)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Tool\tAvailable\tVersion\tError")
	fmt.Fprintln(tw, "----\t---------\t-------\t-----")
	missing := 0
	for _, c := range checks {
		if !c.Available {
			missing++
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", c.Name, c.Available, c.Version, c.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if missing == len(checks) {
		return fmt.Errorf("plugin %q did not report any available tools", a.cfg.PluginID)
	}
	return nil
}
