package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/matcher"
	"go-stash-downloader/internal/models"
)

var matchCmd = &cobra.Command{
	Use:   "match <id>",
	Short: "Match a queue item's tags, performers and studio against Stash",
	Long: `Looks up every tag, performer and studio name of the item on the Stash server and ranks
the candidates by name similarity. Matches at or above the threshold are selected automatically.
With --apply the selected Stash names are written into the item's edited metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Int("threshold", 0, "Auto-match threshold 0-100 (0 uses config AutoMatchThreshold)")
	matchCmd.Flags().Bool("apply", false, "Write selected matches into the item's edited metadata")
	matchCmd.Flags().Bool("json", false, "Print the match result as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	threshold, _ := cmd.Flags().GetInt("threshold")
	apply, _ := cmd.Flags().GetBool("apply")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.StashUrl == "" {
		return errors.New("matching needs a Stash server: set StashUrl or pass --stash-url")
	}
	item, ok := a.queue.Get(args[0])
	if !ok {
		return fmt.Errorf("queue item %s not found", args[0])
	}
	md := item.EffectiveMetadata()
	if md == nil {
		return fmt.Errorf("queue item %s has no metadata yet, run 'add --scrape' or 'scrape' first", item.ID)
	}
	if threshold <= 0 {
		threshold = a.cfg.AutoMatchThreshold
	}

	entities, err := index.NewEntityIndex()
	if err != nil {
		return err
	}
	defer entities.Close()

	res := matcher.New(a.stash, entities, threshold).MatchMetadata(cmd.Context(), md)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if err := printMatches(res); err != nil {
		return err
	}

	if apply {
		edited := applyMatches(*md, res)
		a.queue.UpdateFunc(item.ID, func(it models.QueueItem) models.QueueItem {
			it.EditedMetadata = &edited
			return it
		})
		log.Infof("Updated edited metadata for %s", item.ID)
	}
	return nil
}

func printMatches(res matcher.Result) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Kind\tLocal\tStatus\tBest Candidate\tScore\tConfidence")
	fmt.Fprintln(tw, "----\t-----\t------\t--------------\t-----\t----------")
	rows := append(append([]models.EntityMatch{}, res.Tags...), res.Performers...)
	if res.Studio != nil {
		rows = append(rows, *res.Studio)
	}
	for _, m := range rows {
		best, score, conf := "", "", ""
		if len(m.Candidates) > 0 {
			c := m.Candidates[0]
			best, score, conf = c.Entity.Name, fmt.Sprint(c.Score), string(c.Confidence)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", m.Local.Kind, m.Local.Name, m.Status, best, score, conf)
	}
	return tw.Flush()
}

// applyMatches replaces matched names with their Stash names. Unmatched and skipped names are kept.
func applyMatches(md models.ScrapedMetadata, res matcher.Result) models.ScrapedMetadata {
	md.Tags = selectedNames(res.Tags, md.Tags)
	md.Performers = selectedNames(res.Performers, md.Performers)
	if res.Studio != nil && res.Studio.Selected != nil {
		md.Studio = res.Studio.Selected.Entity.Name
	}
	return md
}

func selectedNames(matches []models.EntityMatch, fallback []string) []string {
	if len(matches) == 0 {
		return fallback
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Status == models.MatchMatched && m.Selected != nil {
			out = append(out, m.Selected.Entity.Name)
			continue
		}
		out = append(out, m.Local.Name)
	}
	return out
}
