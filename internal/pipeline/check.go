package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
)

// DependencyCheck is the host-side report for one external tool.
type DependencyCheck struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var dependencyModes = []struct {
	name string
	mode string
}{
	{"yt-dlp", "check_ytdlp"},
	{"praw", "check_praw"},
	{"metadata", "check_metadata_deps"},
}

// CheckDependencies asks the host plugin which download tools are installed. A failed
// operation is reported as unavailable rather than aborting the check.
func CheckDependencies(ctx context.Context, host HostOperator, pluginID string) []DependencyCheck {
	out := make([]DependencyCheck, 0, len(dependencyModes))
	for _, d := range dependencyModes {
		c := DependencyCheck{Name: d.name}
		raw, err := host.RunPluginOperation(ctx, pluginID, map[string]any{"mode": d.mode})
		switch {
		case err != nil:
			c.Error = err.Error()
		case len(raw) == 0:
			c.Error = "no response from plugin"
		default:
			var rec struct {
				Available *bool  `json:"available"`
				Installed *bool  `json:"installed"`
				Success   *bool  `json:"success"`
				Version   string `json:"version"`
				Error     string `json:"error"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				c.Error = fmt.Sprintf("unreadable response: %v", err)
				break
			}
			c.Available = firstTrue(rec.Available, rec.Installed, rec.Success)
			c.Version = rec.Version
			c.Error = rec.Error
		}
		out = append(out, c)
	}
	return out
}

func firstTrue(flags ...*bool) bool {
	for _, f := range flags {
		if f != nil {
			return *f
		}
	}
	return false
}
