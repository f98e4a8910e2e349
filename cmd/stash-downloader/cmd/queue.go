package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/models"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the download queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued items",
	RunE:  runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one queue item, including its log, as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove items from the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueRemove,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>...",
	Short: "Reset failed items to pending",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQueueRetry,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the queue",
	Long:  `Removes every item from the queue. With --completed only completed items are removed.`,
	RunE:  runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueRemoveCmd, queueRetryCmd, queueClearCmd)

	queueListCmd.Flags().String("status", "", "Only list items with this status")
	queueRemoveCmd.Flags().Bool("forget", false, "Also remove the items from the search index")
	queueClearCmd.Flags().Bool("completed", false, "Only remove completed items")
}

func runQueueList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tStatus\tType\tTitle\tURL\tProgress")
	fmt.Fprintln(tw, "--\t------\t----\t-----\t---\t--------")
	count := 0
	for _, item := range a.queue.Items() {
		if status != "" && string(item.Status) != status {
			continue
		}
		title, ctype := "", string(item.ContentType)
		if md := item.EffectiveMetadata(); md != nil {
			title = md.Title
			if md.ContentType != "" {
				ctype = string(md.ContentType)
			}
		}
		progress := ""
		if item.Progress != nil {
			progress = fmt.Sprintf("%.0f%%", item.Progress.Percentage)
		} else if item.Status == models.StatusFailed {
			progress = item.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", item.ID, item.Status, ctype, title, item.URL, progress)
		count++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := a.queue.Stats()
	fmt.Printf("\n%d shown. Total %d: %d pending, %d downloading, %d processing, %d complete, %d failed\n",
		count, s.Total, s.Pending, s.Downloading, s.Processing, s.Complete, s.Failed)
	return nil
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	item, ok := a.queue.Get(args[0])
	if !ok {
		return fmt.Errorf("queue item %s not found", args[0])
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(item)
}

func runQueueRemove(cmd *cobra.Command, args []string) error {
	forget, _ := cmd.Flags().GetBool("forget")
	a, err := openApp(appOptions{database: true, index: forget})
	if err != nil {
		return err
	}
	defer a.Close()

	missing := 0
	for _, id := range args {
		if !a.queue.Remove(id) {
			log.Warnf("Queue item %s not found", id)
			missing++
			continue
		}
		if forget {
			if err := index.DeleteItem(a.index, id); err != nil {
				log.WithError(err).Warnf("Could not remove %s from search index", id)
			}
		}
		log.Infof("Removed %s", id)
	}
	if missing > 0 {
		return fmt.Errorf("%d item(s) not found", missing)
	}
	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	missing := 0
	for _, id := range args {
		if !a.queue.Retry(id) {
			log.Warnf("Queue item %s not found", id)
			missing++
			continue
		}
		log.Infof("Reset %s to pending", id)
	}
	if missing > 0 {
		return fmt.Errorf("%d item(s) not found", missing)
	}
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	completedOnly, _ := cmd.Flags().GetBool("completed")
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if completedOnly {
		n := a.queue.ClearCompleted()
		log.Infof("Removed %d completed item(s). %d remaining.", n, a.queue.Len())
		return nil
	}
	n := a.queue.Len()
	a.queue.ClearAll()
	log.Infof("Removed %d item(s).", n)
	return nil
}
