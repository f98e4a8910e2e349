package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("empty-dirs", "e", false, "Also remove empty directories")
	cleanCmd.Flags().BoolP("api-log", "l", false, "Also remove api.log")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary (.tmp) files from the download directory",
	Long: `Recursively scans the configured SavePath and removes partial downloads ending in .tmp.
Optionally removes empty directories and the API request log as well.`,
	RunE: runClean,
}

type cleanOptions struct {
	emptyDirs bool
	apiLog    bool
}

type cleanReport struct {
	tmpRemoved  int
	dirsRemoved int
	logRemoved  bool
	failed      int
}

func (r cleanReport) String() string {
	var parts []string
	if r.tmpRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d .tmp file(s)", r.tmpRemoved))
	}
	if r.dirsRemoved > 0 {
		parts = append(parts, fmt.Sprintf("%d empty director(y/ies)", r.dirsRemoved))
	}
	if r.logRemoved {
		parts = append(parts, "api.log")
	}
	summary := "Clean complete. Removed: "
	if len(parts) > 0 {
		summary += strings.Join(parts, ", ")
	} else {
		summary += "0 files"
	}
	if r.failed > 0 {
		summary += fmt.Sprintf(". Failed to remove %d file(s).", r.failed)
	}
	return summary
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	savePath := cfg.SavePath
	if savePath == "" {
		if cfg.DatabasePath == "" {
			return errors.New("SavePath is not configured (and cannot be inferred from DatabasePath)")
		}
		savePath = filepath.Dir(cfg.DatabasePath)
		log.Warnf("SavePath is empty, inferring base directory from DatabasePath: %s", savePath)
	}
	info, err := os.Stat(savePath)
	if err != nil {
		return fmt.Errorf("accessing SavePath %q: %w", savePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("SavePath is not a directory: %s", savePath)
	}

	var opts cleanOptions
	opts.emptyDirs, _ = cmd.Flags().GetBool("empty-dirs")
	opts.apiLog, _ = cmd.Flags().GetBool("api-log")

	log.Infof("Scanning for .tmp files in %s...", savePath)
	report, walkErr := cleanDir(savePath, opts, skipPaths(cfg.DatabasePath, cfg.BleveIndexPath))
	log.Info(report.String())
	if walkErr != nil {
		return fmt.Errorf("walking %q: %w", savePath, walkErr)
	}
	if report.failed > 0 {
		return fmt.Errorf("failed to remove %d file(s)", report.failed)
	}
	return nil
}

func skipPaths(paths ...string) map[string]bool {
	out := map[string]bool{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			out[abs] = true
		}
	}
	return out
}

// cleanDir removes partial downloads below root. Directories in skip (database and index
// stores) are never entered.
func cleanDir(root string, opts cleanOptions, skip map[string]bool) (cleanReport, error) {
	var r cleanReport
	var dirs []string

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if d.IsDir() {
			if abs, aerr := filepath.Abs(path); aerr == nil && skip[abs] {
				return filepath.SkipDir
			}
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}

		name := strings.ToLower(d.Name())
		remove := strings.HasSuffix(name, ".tmp")
		isLog := opts.apiLog && name == "api.log" && filepath.Dir(path) == filepath.Clean(root)
		if !remove && !isLog {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Errorf("Failed to remove %q: %v", path, err)
				r.failed++
			}
			return nil
		}
		log.Infof("Removed %s", path)
		if isLog {
			r.logRemoved = true
		} else {
			r.tmpRemoved++
		}
		return nil
	})

	if opts.emptyDirs {
		// Deepest first so parents emptied by their children are removed too.
		sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
		for _, dir := range dirs {
			entries, err := os.ReadDir(dir)
			if err != nil || len(entries) > 0 {
				continue
			}
			if err := os.Remove(dir); err != nil {
				log.Errorf("Failed to remove directory %q: %v", dir, err)
				r.failed++
				continue
			}
			log.Debugf("Removed empty directory %s", dir)
			r.dirsRemoved++
		}
	}
	return r, walkErr
}
