// Package downloader picks and runs a download strategy for a scraped item: direct
// streaming fetch, delegation to the Stash host's download task, or a gallery batch.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

// Strategy names recorded on results and in item logs.
const (
	StrategyDirectImage = "direct-image"
	StrategyDirectVideo = "direct-video"
	StrategyServer      = "server"
	StrategyDirect      = "direct"
)

// Environment describes where downloads run. InHost means requests to origins other than
// PageOrigin are subject to cross-origin restrictions and go through the host instead.
type Environment struct {
	InHost     bool
	PageOrigin string
}

// IsExternal reports whether rawURL has a different origin than the page.
func (e Environment) IsExternal(rawURL string) bool {
	return origin(rawURL) != origin(e.PageOrigin)
}

func origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// Service downloads media.
type Service struct {
	client   *http.Client
	host     Host
	pluginID string
	env      Environment
	cfg      models.Config
	poll     PollPolicy
}

// NewService creates a downloader. host may be nil, which disables server-side downloads.
func NewService(cfg models.Config, client *http.Client, host Host, env Environment) *Service {
	if client == nil {
		client = &http.Client{}
	}
	poll := DefaultPollPolicy
	if cfg.PollIntervalMs > 0 {
		poll.Interval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	}
	poll.MaxAttempts = cfg.PollMaxAttempts
	return &Service{
		client:   client,
		host:     host,
		pluginID: cfg.PluginID,
		env:      env,
		cfg:      cfg,
		poll:     poll,
	}
}

// SetPollPolicy replaces the server-side progress polling policy.
func (s *Service) SetPollPolicy(p PollPolicy) { s.poll = p }

func (s *Service) timeoutFor(kind models.ContentType) time.Duration {
	if kind == models.ContentImage || kind == models.ContentGallery {
		if s.cfg.ImageTimeoutSec > 0 {
			return time.Duration(s.cfg.ImageTimeoutSec) * time.Second
		}
		return 60 * time.Second
	}
	if s.cfg.DownloadTimeoutSec > 0 {
		return time.Duration(s.cfg.DownloadTimeoutSec) * time.Second
	}
	return 5 * time.Minute
}

func (s *Service) taskMaxWait() time.Duration {
	if s.cfg.TaskMaxWaitSec > 0 {
		return time.Duration(s.cfg.TaskMaxWaitSec) * time.Second
	}
	return 30 * time.Minute
}

// Request is one download request.
type Request struct {
	URL            string
	DirectVideoURL string
	DirectImageURL string
	ContentType    models.ContentType
	Timeout        time.Duration
	OutputDir      string // server-side only
	OnProgress     ProgressFunc
	OnJobStart     func(jobID string)
}

// Result is what a strategy produced: a blob for client-side fetches, or the host-side
// result for delegated downloads.
type Result struct {
	Strategy string
	Blob     *Blob
	Server   *ServerResult
}

// Download runs the strategies in order:
//  1. Image requests (or a distinct direct image URL) are fetched directly.
//  2. A distinct direct video URL is delegated to the host when it is cross-origin and
//     running in the host, otherwise fetched directly, falling through on failure.
//  3. In the host, cross-origin page URLs are delegated unconditionally.
//  4. Otherwise the page URL is fetched directly.
func (s *Service) Download(ctx context.Context, req Request) (*Result, error) {
	logger := log.WithField("url", req.URL)

	if req.ContentType == models.ContentImage || (req.DirectImageURL != "" && req.DirectImageURL != req.URL) {
		imageURL := req.DirectImageURL
		if imageURL == "" {
			imageURL = req.URL
		}
		blob, err := s.FetchStream(ctx, imageURL, models.ContentImage, req.Timeout, req.OnProgress)
		if err == nil {
			return &Result{Strategy: StrategyDirectImage, Blob: blob}, nil
		}
		if req.ContentType == models.ContentImage || ctx.Err() != nil {
			return nil, err
		}
		logger.WithError(err).Warn("Direct image download failed, trying next strategy")
	}

	if v := req.DirectVideoURL; v != "" && v != req.URL {
		if s.env.InHost && s.env.IsExternal(v) {
			res, err := s.DownloadServerSide(ctx, v, ServerOptions{
				FallbackURL: req.URL,
				OutputDir:   req.OutputDir,
				OnProgress:  req.OnProgress,
				OnJobStart:  req.OnJobStart,
			})
			if err == nil {
				return &Result{Strategy: StrategyServer, Server: res}, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			logger.WithError(err).Warn("Server-side download failed, trying a direct fetch")
		}
		blob, err := s.FetchStream(ctx, v, models.ContentVideo, req.Timeout, req.OnProgress)
		if err == nil {
			return &Result{Strategy: StrategyDirectVideo, Blob: blob}, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		logger.WithError(err).Warn("Direct video download failed, trying next strategy")
	}

	if s.env.InHost && s.env.IsExternal(req.URL) {
		res, err := s.DownloadServerSide(ctx, req.URL, ServerOptions{
			OutputDir:  req.OutputDir,
			OnProgress: req.OnProgress,
			OnJobStart: req.OnJobStart,
		})
		return &Result{Strategy: StrategyServer, Server: res}, err
	}

	kind := req.ContentType
	if kind == "" {
		kind = models.ContentVideo
	}
	blob, err := s.FetchStream(ctx, req.URL, kind, req.Timeout, req.OnProgress)
	if err != nil {
		return nil, err
	}
	return &Result{Strategy: StrategyDirect, Blob: blob}, nil
}

// GalleryProgress is reported before each gallery image is fetched.
type GalleryProgress struct {
	TotalImages      int    `json:"totalImages"`
	DownloadedImages int    `json:"downloadedImages"`
	CurrentImageURL  string `json:"currentImageUrl"`
}

// GalleryFile is one successfully downloaded gallery image.
type GalleryFile struct {
	Image    models.GalleryImage
	Filename string
	Blob     *Blob
}

// DownloadGallery fetches images one at a time. Failed images are logged and skipped;
// the returned error is non-nil only if the context ended.
func (s *Service) DownloadGallery(ctx context.Context, images []models.GalleryImage, onProgress func(GalleryProgress)) ([]GalleryFile, error) {
	var files []GalleryFile
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		if onProgress != nil {
			onProgress(GalleryProgress{TotalImages: len(images), DownloadedImages: len(files), CurrentImageURL: img.URL})
		}

		blob, err := s.FetchStream(ctx, img.URL, models.ContentImage, 0, nil)
		if err != nil {
			if errors.Is(err, ErrTimeout) && ctx.Err() != nil {
				return files, ctx.Err()
			}
			log.WithError(err).Warnf("Skipping gallery image %d/%d: %s", i+1, len(images), img.URL)
			continue
		}
		files = append(files, GalleryFile{Image: img, Filename: galleryFilename(img, i+1, blob), Blob: blob})
	}
	if onProgress != nil {
		onProgress(GalleryProgress{TotalImages: len(images), DownloadedImages: len(files)})
	}
	return files, nil
}

func galleryFilename(img models.GalleryImage, n int, blob *Blob) string {
	if img.Filename != "" {
		return img.Filename
	}
	if name := helpers.FilenameFromURL(img.URL); name != "" {
		return name
	}
	return fmt.Sprintf("image_%d.%s", n, extensionFor(blob.ContentType))
}
