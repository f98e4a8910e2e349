package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/stash"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TaskDownload is the plugin task that runs the external download tool.
const TaskDownload = "Download"

// Host is the part of the Stash client the downloader needs. *stash.Client satisfies it.
type Host interface {
	RunPluginOperation(ctx context.Context, pluginID string, args map[string]any) (json.RawMessage, error)
	RunPluginTaskAndWait(ctx context.Context, pluginID, taskName string, args map[string]any, opts stash.TaskOptions) (stash.TaskResult, error)
}

// ServerOptions configures one server-side download.
type ServerOptions struct {
	FallbackURL string
	OutputDir   string
	Quality     string
	OnProgress  ProgressFunc
	OnJobStart  func(jobID string)
}

// ServerResult is the outcome of a server-side download.
type ServerResult struct {
	Success   bool     `json:"success"`
	FilePath  string   `json:"filePath,omitempty"`
	FilePaths []string `json:"filePaths,omitempty"`
	Error     string   `json:"error,omitempty"`
	JobID     string   `json:"jobId,omitempty"`
}

// Paths returns every file the download produced.
func (r *ServerResult) Paths() []string {
	if len(r.FilePaths) > 0 {
		return r.FilePaths
	}
	if r.FilePath != "" {
		return []string{r.FilePath}
	}
	return nil
}

type toolResult struct {
	Success   bool     `json:"success"`
	FilePath  string   `json:"file_path"`
	FilePaths []string `json:"file_paths"`
	Error     string   `json:"error"`
}

type toolProgress struct {
	Status          string  `json:"status"` // starting | downloading
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Percentage      float64 `json:"percentage"`
	Speed           float64 `json:"speed"`
	ETA             float64 `json:"eta"`
}

// IsRedditGallery reports whether rawURL is a Reddit post page, which is downloaded with
// the dedicated gallery operation instead of the generic tool.
func IsRedditGallery(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	isReddit := host == "reddit.com" || strings.HasSuffix(host, ".reddit.com")
	return isReddit && strings.Contains(u.Path, "/comments/")
}

// DownloadServerSide delegates the download of rawURL to the host's plugin task runner.
func (s *Service) DownloadServerSide(ctx context.Context, rawURL string, opts ServerOptions) (*ServerResult, error) {
	if s.host == nil {
		return nil, ErrNoHost
	}
	if opts.OutputDir == "" {
		opts.OutputDir = s.cfg.ServerDownloadPath
	}
	if opts.Quality == "" {
		opts.Quality = s.cfg.Quality
	}
	if IsRedditGallery(rawURL) {
		return s.downloadRedditGallery(ctx, rawURL, opts)
	}

	correlation := uuid.NewString()
	resultID := "download_" + correlation
	progressID := resultID + "_progress"
	logger := log.WithFields(log.Fields{"url": rawURL, "result": resultID})

	args := map[string]any{
		"mode":        "download",
		"url":         rawURL,
		"output_dir":  opts.OutputDir,
		"quality":     opts.Quality,
		"result_id":   resultID,
		"progress_id": progressID,
	}
	if opts.FallbackURL != "" && opts.FallbackURL != rawURL {
		args["fallback_url"] = opts.FallbackURL
	}

	defer s.cleanupResult(ctx, resultID, progressID)

	pollCtx, stopPolling := context.WithCancel(ctx)
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		err := s.poll.Poll(pollCtx, func(ctx context.Context) (bool, error) {
			s.readProgress(ctx, progressID, opts.OnProgress)
			return false, nil
		})
		if errors.Is(err, ErrPollTimeout) {
			logger.Debug("Progress polling stopped after max attempts")
		}
	}()

	logger.Info("Submitting server-side download")
	task, err := s.host.RunPluginTaskAndWait(ctx, s.pluginID, TaskDownload, args, stash.TaskOptions{
		MaxWait:      s.taskMaxWait(),
		PollInterval: s.poll.Interval,
		OnJobStart:   opts.OnJobStart,
	})
	stopPolling()
	<-pollDone

	result := &ServerResult{JobID: task.JobID}
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	if !task.Success {
		result.Error = task.Error
		return result, fmt.Errorf("%w: %s", ErrTaskFailed, task.Error)
	}

	raw, err := s.host.RunPluginOperation(ctx, s.pluginID, map[string]any{"mode": "read_result", "result_id": resultID})
	if err != nil {
		return result, fmt.Errorf("%w: reading result: %w", ErrResultMissing, err)
	}
	if len(raw) == 0 {
		return result, fmt.Errorf("%w: no result file for %s", ErrResultMissing, rawURL)
	}
	var tr toolResult
	if err := json.Unmarshal(raw, &tr); err != nil {
		return result, fmt.Errorf("%w: unreadable result: %v", ErrResultMissing, err)
	}
	if !tr.Success || tr.Error != "" {
		result.Error = tr.Error
		return result, fmt.Errorf("%w: %s", ErrToolReported, tr.Error)
	}
	if tr.FilePath == "" && len(tr.FilePaths) == 0 {
		return result, fmt.Errorf("%w: tool succeeded without a file path", ErrResultMissing)
	}

	result.Success = true
	result.FilePath = tr.FilePath
	result.FilePaths = tr.FilePaths
	logger.WithField("path", result.FilePath).Info("Server-side download complete")
	return result, nil
}

func (s *Service) downloadRedditGallery(ctx context.Context, rawURL string, opts ServerOptions) (*ServerResult, error) {
	log.WithField("url", rawURL).Info("Downloading Reddit post via gallery operation")
	raw, err := s.host.RunPluginOperation(ctx, s.pluginID, map[string]any{
		"mode":       "download_reddit_gallery",
		"url":        rawURL,
		"output_dir": opts.OutputDir,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: gallery operation returned nothing", ErrResultMissing)
	}
	var tr toolResult
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: unreadable result: %v", ErrResultMissing, err)
	}
	if !tr.Success || tr.Error != "" {
		return &ServerResult{Error: tr.Error}, fmt.Errorf("%w: %s", ErrToolReported, tr.Error)
	}
	if len(tr.FilePaths) == 0 {
		return &ServerResult{}, fmt.Errorf("%w: gallery operation returned no files", ErrResultMissing)
	}
	return &ServerResult{Success: true, FilePaths: tr.FilePaths, FilePath: tr.FilePaths[0]}, nil
}

func (s *Service) readProgress(ctx context.Context, progressID string, onProgress ProgressFunc) {
	raw, err := s.host.RunPluginOperation(ctx, s.pluginID, map[string]any{"mode": "read_result", "result_id": progressID})
	if err != nil || len(raw) == 0 {
		return
	}
	var tp toolProgress
	if err := json.Unmarshal(raw, &tp); err != nil {
		log.WithError(err).Debug("Ignoring unreadable progress record")
		return
	}
	if onProgress == nil {
		return
	}
	switch tp.Status {
	case "starting", "downloading":
		onProgress(models.Progress{
			BytesDownloaded: tp.DownloadedBytes,
			TotalBytes:      tp.TotalBytes,
			Percentage:      tp.Percentage,
			Speed:           tp.Speed,
			TimeRemaining:   tp.ETA,
			LastActivity:    time.Now(),
		})
	}
}

// cleanupResult removes the intermediate result files. Failures are ignored.
func (s *Service) cleanupResult(ctx context.Context, ids ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		if _, err := s.host.RunPluginOperation(ctx, s.pluginID, map[string]any{"mode": "cleanup_result", "result_id": id}); err != nil {
			log.WithError(err).Debugf("Cleanup of %s failed", id)
		}
	}
}
