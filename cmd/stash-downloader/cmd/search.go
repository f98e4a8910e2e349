package cmd

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search downloaded items",
	Long: `Searches the Bleve index of completed downloads using the Bleve query string syntax,
e.g. "sunset", "+tags:landscape", or "sourceName:rule34".`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringP("query", "q", "", "Search query (required)")
	searchCmd.Flags().Int("limit", 20, "Maximum number of hits")
	searchCmd.Flags().Bool("rebuild", false, "Rebuild the index from completed queue items before searching")
}

// rebuildIndex recreates the index from the completed items still in the queue.
func rebuildIndex() error {
	if err := index.DeleteIndex(globalConfig.BleveIndexPath); err != nil {
		return fmt.Errorf("removing index: %w", err)
	}
	a, err := openApp(appOptions{database: true, index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	n := 0
	for _, item := range a.queue.Items() {
		if item.Status != models.StatusComplete {
			continue
		}
		if err := index.IndexItem(a.index, index.ItemFromQueue(item)); err != nil {
			log.WithError(err).Warnf("Failed to index %s", item.ID)
			continue
		}
		n++
	}
	log.Infof("Rebuilt index with %d completed item(s)", n)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	if rebuild {
		if err := rebuildIndex(); err != nil {
			return err
		}
		if query == "" {
			return nil
		}
	}
	if query == "" {
		return fmt.Errorf("search query cannot be empty (use -q)")
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		return fmt.Errorf("opening index at %s: %w", globalConfig.BleveIndexPath, err)
	}
	defer func() {
		log.Debug("Closing Bleve index.")
		if err := idx.Close(); err != nil {
			log.Errorf("Error closing Bleve index: %v", err)
		}
	}()

	res, err := index.SearchIndex(idx, query, limit)
	if err != nil {
		return fmt.Errorf("performing search: %w", err)
	}
	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s", len(res.Hits), res.Total, res.Took)

	if res.Total == 0 {
		fmt.Println("No results found matching your query.")
		return nil
	}
	fmt.Println("--- Search Results ---")
	for i, hit := range res.Hits {
		fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		fields := make([]string, 0, len(hit.Fields))
		for f := range hit.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Printf("  %s: %v\n", f, hit.Fields[f])
		}
		fmt.Println("---")
	}
	return nil
}
