package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/internal/models"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or edit the stored runtime settings",
	Long: `Runtime settings live in the database and are shared with bridge clients. Non-empty values
override the config file for the Stash connection, proxy and Reddit credentials.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored settings as JSON",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Update stored settings, e.g. set stashUrl=http://localhost:9999",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.settings.Get()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{database: true})
	if err != nil {
		return err
	}
	defer a.Close()

	current, err := a.settings.Get()
	if err != nil {
		return err
	}
	updated, err := setSettings(current, args)
	if err != nil {
		return err
	}
	if err := a.settings.Save(updated); err != nil {
		return err
	}
	log.Infof("Saved %d setting(s)", len(args))
	return nil
}

// setSettings applies key=value pairs, keyed by the JSON field names, to s.
func setSettings(s models.Settings, pairs []string) (models.Settings, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return s, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return s, err
	}
	known := settingsKeys()

	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return s, fmt.Errorf("invalid setting %q: expected key=value", p)
		}
		kind, ok := known[key]
		if !ok {
			return s, fmt.Errorf("unknown setting %q", key)
		}
		if kind == "bool" {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return s, fmt.Errorf("setting %s: %w", key, err)
			}
			fields[key] = b
			continue
		}
		fields[key] = value
	}

	raw, err = json.Marshal(fields)
	if err != nil {
		return s, err
	}
	var out models.Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return s, err
	}
	return out, nil
}

func settingsKeys() map[string]string {
	return map[string]string{
		"stashUrl":           "string",
		"apiKey":             "string",
		"showNotifications":  "bool",
		"targetVersion":      "string",
		"serverDownloadPath": "string",
		"httpProxy":          "string",
		"redditClientId":     "string",
		"redditClientSecret": "string",
		"redditUsername":     "string",
		"redditPassword":     "string",
	}
}
