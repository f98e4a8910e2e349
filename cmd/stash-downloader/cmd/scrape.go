package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go-stash-downloader/internal/models"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape a URL and print the normalized metadata",
	Long: `Resolves the site adapter for the URL, scrapes it and prints the normalized metadata as JSON.
Nothing is queued or downloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().String("type", "", "Content type hint (video, image, gallery)")
}

func parseTypeFlag(cmd *cobra.Command) (models.ContentType, error) {
	raw, _ := cmd.Flags().GetString("type")
	hint, ok := models.ParseContentType(raw)
	if !ok {
		return "", fmt.Errorf("invalid --type %q: expected video, image or gallery", raw)
	}
	return hint, nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	hint, err := parseTypeFlag(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	md, err := a.registry.Scrape(cmd.Context(), args[0], hint)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}
