package cmd

import (
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-stash-downloader/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local bridge for browser extensions and other clients",
	Long: `Starts an HTTP and websocket bridge on the listen address. Clients can submit URLs, read
and edit the queue and settings, and subscribe to queue events at /api/events.
With --process newly added items are downloaded while the bridge runs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (overrides config ListenAddr)")
	serveCmd.Flags().Bool("process", false, "Download pending items while serving")
	serveCmd.Flags().Duration("poll", 5*time.Second, "How often pending items are picked up with --process")

	viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("serve.process", serveCmd.Flags().Lookup("process"))
	viper.BindPFlag("serve.poll", serveCmd.Flags().Lookup("poll"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true, index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := viper.GetString("serve.listen")
	if addr == "" {
		addr = a.cfg.ListenAddr
	}

	srv, _ := attachBridge(a)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("serve.process") {
		wake := make(chan struct{}, 1)
		unsubscribe := a.queue.Subscribe(func(e queue.Event) {
			if e.Type == queue.EventAdded {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		})
		defer unsubscribe()

		poll := viper.GetDuration("serve.poll")
		if poll <= 0 {
			poll = 5 * time.Second
		}
		go func() {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				if len(a.queue.Pending()) > 0 {
					s := a.processor.ProcessPending(ctx)
					log.Infof("Batch finished. Completed: %d, Failed: %d", s.Completed, s.Failed)
				}
				select {
				case <-ctx.Done():
					return
				case <-wake:
				case <-ticker.C:
				}
			}
		}()
	}

	return srv.ListenAndServe(ctx, addr)
}
