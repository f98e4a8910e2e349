package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as JSON",
	Long:  `Prints the configuration after defaults and flag overrides are applied. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := globalConfig
		cfg.ApiKey = mask(cfg.ApiKey)
		cfg.RedditClientSecret = mask(cfg.RedditClientSecret)
		cfg.RedditPassword = mask(cfg.RedditPassword)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
