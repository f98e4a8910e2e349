package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/pipeline"
	"go-stash-downloader/internal/queue"
)

var runCmd = &cobra.Command{
	Use:   "run [id...]",
	Short: "Download pending queue items",
	Long: `Processes pending queue items: scrapes missing metadata, downloads through the best
available strategy, optionally imports into Stash and records the result in the search index.
With ids only those items are processed. With --watch the queue is polled for new items until interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntP("concurrency", "c", 0, "Number of items processed at once (0 uses config Concurrency)")
	runCmd.Flags().Duration("watch", 0, "Keep polling for new pending items at this interval")
	runCmd.Flags().Bool("no-progress", false, "Disable the live status line")

	viper.BindPFlag("run.concurrency", runCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("run.watch", runCmd.Flags().Lookup("watch"))
	viper.BindPFlag("run.no_progress", runCmd.Flags().Lookup("no-progress"))
}

// statusLine renders queue counts plus the most recent transfer progress.
type statusLine struct {
	mu     sync.Mutex
	writer *uilive.Writer
	last   map[string]models.Progress
	titles map[string]string
}

func newStatusLine() *statusLine {
	w := uilive.New()
	w.RefreshInterval = 200 * time.Millisecond
	w.Start()
	return &statusLine{writer: w, last: map[string]models.Progress{}, titles: map[string]string{}}
}

func (s *statusLine) handle(e queue.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Item != nil {
		if e.Item.Progress != nil && e.Item.Status.Active() {
			s.last[e.ID] = *e.Item.Progress
			if md := e.Item.EffectiveMetadata(); md != nil && md.Title != "" {
				s.titles[e.ID] = md.Title
			}
		} else {
			delete(s.last, e.ID)
		}
	}
	fmt.Fprintf(s.writer, "Queue: %d pending, %d downloading, %d processing, %d complete, %d failed\n",
		e.Stats.Pending, e.Stats.Downloading, e.Stats.Processing, e.Stats.Complete, e.Stats.Failed)
	for _, line := range s.progressLines() {
		fmt.Fprintln(s.writer.Newline(), line)
	}
}

// progressLines lists active transfers ordered by name so lines keep their place between refreshes.
func (s *statusLine) progressLines() []string {
	type entry struct {
		id, name string
		p        models.Progress
	}
	entries := make([]entry, 0, len(s.last))
	for id, p := range s.last {
		name := s.titles[id]
		if name == "" {
			name = id
		}
		entries = append(entries, entry{id: id, name: name, p: p})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].name != entries[j].name {
			return entries[i].name < entries[j].name
		}
		return entries[i].id < entries[j].id
	})

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("  %s: %.1f%% (%s/%s)", e.name, e.p.Percentage,
			helpers.BytesToSize(uint64(e.p.BytesDownloaded)), helpers.BytesToSize(uint64(e.p.TotalBytes))))
	}
	return lines
}

func (s *statusLine) Stop() {
	s.writer.Stop()
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true, index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if c := viper.GetInt("run.concurrency"); c > 0 {
		a.processor.Options.Concurrency = c
	}
	log.Infof("Using download concurrency level: %d", a.processor.Options.Concurrency)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !viper.GetBool("run.no_progress") {
		status := newStatusLine()
		unsubscribe := a.queue.Subscribe(status.handle)
		defer func() {
			unsubscribe()
			status.Stop()
		}()
	}

	if len(args) > 0 {
		return processIDs(ctx, a.processor, args)
	}

	watch := viper.GetDuration("run.watch")
	total := pipeline.Summary{}
	for {
		s := a.processor.ProcessPending(ctx)
		total.Completed += s.Completed
		total.Failed += s.Failed
		if watch <= 0 || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(watch):
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Infof("Run finished. Completed: %d, Failed: %d", total.Completed, total.Failed)
	if total.Failed > 0 {
		return fmt.Errorf("%d item(s) failed, see 'queue list --status failed'", total.Failed)
	}
	return nil
}

func processIDs(ctx context.Context, p *pipeline.Processor, ids []string) error {
	var failed int
	for _, id := range ids {
		if err := p.Process(ctx, id); err != nil {
			log.WithError(err).WithField("id", id).Error("Item failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d item(s) failed", failed, len(ids))
	}
	return nil
}
