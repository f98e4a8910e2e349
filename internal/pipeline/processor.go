// Package pipeline drives queue items through scrape, download, save and import.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/downloader"
	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/queue"
	"go-stash-downloader/internal/worker"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrNotPending   = errors.New("queue item is not pending")
	ErrNoFiles      = errors.New("download produced no files")
)

// Scraper resolves metadata for a URL. *scraper.Registry satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, rawURL string, hint models.ContentType) (*models.ScrapedMetadata, error)
}

// Downloader runs downloads. *downloader.Service satisfies it.
type Downloader interface {
	Download(ctx context.Context, req downloader.Request) (*downloader.Result, error)
	DownloadGallery(ctx context.Context, images []models.GalleryImage, onProgress func(downloader.GalleryProgress)) ([]downloader.GalleryFile, error)
}

// Importer hands finished files to the host library. *stash.Client satisfies it.
type Importer interface {
	ScanPaths(ctx context.Context, paths []string) (string, error)
}

// HostOperator runs plugin operations. *stash.Client satisfies it.
type HostOperator interface {
	RunPluginOperation(ctx context.Context, pluginID string, args map[string]any) (json.RawMessage, error)
}

// Options configures a Processor.
type Options struct {
	SavePath        string
	ServerOutputDir string
	PluginID        string
	Concurrency     int
	ItemDelay       time.Duration
	ScanAfterImport bool
	EmbedMetadata   bool
}

// OptionsFromConfig maps the loaded config onto processor options.
func OptionsFromConfig(cfg models.Config) Options {
	return Options{
		SavePath:        cfg.SavePath,
		ServerOutputDir: cfg.ServerDownloadPath,
		PluginID:        cfg.PluginID,
		Concurrency:     cfg.Concurrency,
		ItemDelay:       time.Duration(cfg.ItemDelayMs) * time.Millisecond,
		ScanAfterImport: cfg.ScanAfterImport,
		EmbedMetadata:   cfg.EmbedMetadata,
	}
}

// Processor moves queue items through their lifecycle. Importer, Host and Index are optional.
type Processor struct {
	Queue      *queue.Queue
	Scraper    Scraper
	Downloader Downloader
	Importer   Importer
	Host       HostOperator
	Index      bleve.Index
	Options    Options

	now func() time.Time
}

func New(q *queue.Queue, s Scraper, d Downloader, opts Options) *Processor {
	return &Processor{Queue: q, Scraper: s, Downloader: d, Options: opts, now: time.Now}
}

// Summary counts the outcome of a batch.
type Summary struct {
	Completed int
	Failed    int
}

// ProcessPending runs every pending item with bounded concurrency, in submission order.
func (p *Processor) ProcessPending(ctx context.Context) Summary {
	ids := p.Queue.Pending()
	if len(ids) == 0 {
		log.Info("No pending items")
		return Summary{}
	}
	log.Infof("Processing %d pending items (concurrency %d)", len(ids), p.Options.Concurrency)

	results := worker.RunLimited(ctx, ids, p.Options.Concurrency, p.Options.ItemDelay, func(ctx context.Context, id string) (string, error) {
		return id, p.Process(ctx, id)
	})
	var s Summary
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
		} else {
			s.Completed++
		}
	}
	return s
}

// Process runs one pending item to Complete or Failed. The returned error is also recorded
// on the item.
func (p *Processor) Process(ctx context.Context, id string) error {
	item, ok := p.Queue.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if item.Status != models.StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, item.Status)
	}
	logger := log.WithFields(log.Fields{"id": id, "url": item.URL})

	started := p.now()
	p.Queue.Update(id, queue.Patch{
		Status:        queue.Ptr(models.StatusDownloading),
		StartedAt:     &started,
		Error:         queue.Ptr(""),
		ClearProgress: true,
	})
	p.Queue.AppendLog(id, models.LevelInfo, "Starting download")

	md := item.EffectiveMetadata()
	if md == nil {
		scraped, err := p.Scraper.Scrape(ctx, item.URL, item.ContentType)
		if err != nil {
			return p.fail(id, fmt.Errorf("scraping %s: %w", item.URL, err))
		}
		md = scraped
		p.Queue.Update(id, queue.Patch{Metadata: md})
		p.Queue.AppendLog(id, models.LevelInfo, fmt.Sprintf("Scraped metadata with %s: %s", md.SourceName, md.Title))
	}

	var (
		paths []string
		hash  string
		err   error
	)
	if md.ContentType == models.ContentGallery && len(md.Gallery) > 0 {
		paths, hash, err = p.downloadGallery(ctx, id, md)
	} else {
		paths, hash, err = p.downloadSingle(ctx, id, item, md)
	}
	if err != nil {
		return p.fail(id, err)
	}
	if len(paths) == 0 {
		return p.fail(id, ErrNoFiles)
	}

	p.Queue.Update(id, queue.Patch{Status: queue.Ptr(models.StatusProcessing), ClearProgress: true})
	p.Queue.AppendLog(id, models.LevelInfo, fmt.Sprintf("Downloaded %d file(s)", len(paths)))

	if p.Index != nil && hash != "" {
		if dupe, found := index.HasContentHash(p.Index, hash); found && dupe != id {
			p.Queue.AppendLog(id, models.LevelWarning, "Same content was already downloaded by item "+dupe)
		}
	}
	if p.Options.EmbedMetadata && md.ContentType != models.ContentVideo {
		p.embedMetadata(ctx, id, paths, md)
	}
	if p.Options.ScanAfterImport && p.Importer != nil {
		jobID, err := p.Importer.ScanPaths(ctx, paths)
		if err != nil {
			return p.fail(id, fmt.Errorf("importing into Stash: %w", err))
		}
		p.Queue.AppendLog(id, models.LevelInfo, "Started library scan job "+jobID)
	}

	done := p.now()
	p.Queue.Update(id, queue.Patch{
		Status:      queue.Ptr(models.StatusComplete),
		CompletedAt: &done,
		FilePaths:   paths,
		ContentHash: &hash,
	})
	p.Queue.AppendLog(id, models.LevelSuccess, "Download complete")
	logger.WithField("files", len(paths)).Info("Item complete")

	if p.Index != nil {
		if final, ok := p.Queue.Get(id); ok {
			if err := index.IndexItem(p.Index, index.ItemFromQueue(final)); err != nil {
				logger.WithError(err).Warn("Failed to index completed item")
			}
		}
	}
	return nil
}

func (p *Processor) fail(id string, err error) error {
	msg := err.Error()
	if hint := downloader.UserHint(err); hint != "" {
		msg += ". " + hint
	}
	p.Queue.Update(id, queue.Patch{Status: queue.Ptr(models.StatusFailed), Error: &msg, ClearProgress: true})
	p.Queue.AppendLog(id, models.LevelError, msg)
	log.WithError(err).WithField("id", id).Error("Item failed")
	return err
}

// progressInterval spaces out progress writes; each one persists the queue.
var progressInterval = 250 * time.Millisecond

func (p *Processor) progress(id string) downloader.ProgressFunc {
	every := &rate.Sometimes{Interval: progressInterval}
	return func(pr models.Progress) {
		if pr.Percentage >= 100 {
			p.Queue.Update(id, queue.Patch{Progress: &pr})
			return
		}
		every.Do(func() {
			p.Queue.Update(id, queue.Patch{Progress: &pr})
		})
	}
}

func (p *Processor) targetDir(md *models.ScrapedMetadata) string {
	dir := p.Options.SavePath
	if md.SourceName != "" {
		dir = filepath.Join(dir, helpers.ConvertToSlug(md.SourceName))
	}
	return dir
}

func (p *Processor) downloadSingle(ctx context.Context, id string, item models.QueueItem, md *models.ScrapedMetadata) ([]string, string, error) {
	pageURL := md.URL
	if pageURL == "" {
		pageURL = item.URL
	}
	res, err := p.Downloader.Download(ctx, downloader.Request{
		URL:            pageURL,
		DirectVideoURL: md.VideoURL,
		DirectImageURL: md.ImageURL,
		ContentType:    md.ContentType,
		OutputDir:      p.Options.ServerOutputDir,
		OnProgress:     p.progress(id),
		OnJobStart: func(jobID string) {
			p.Queue.Update(id, queue.Patch{JobID: &jobID})
			p.Queue.AppendLog(id, models.LevelInfo, "Host job started: "+jobID)
		},
	})
	if err != nil {
		return nil, "", err
	}
	p.Queue.AppendLog(id, models.LevelInfo, "Downloaded using strategy "+res.Strategy)

	if res.Server != nil {
		return res.Server.Paths(), "", nil
	}
	if res.Blob == nil {
		return nil, "", ErrNoFiles
	}
	path, hash, err := downloader.SaveBlob(p.targetDir(md), blobFilename(md, res.Blob), res.Blob)
	if err != nil {
		return nil, "", err
	}
	return []string{path}, hash, nil
}

func (p *Processor) downloadGallery(ctx context.Context, id string, md *models.ScrapedMetadata) ([]string, string, error) {
	files, err := p.Downloader.DownloadGallery(ctx, md.Gallery, func(g downloader.GalleryProgress) {
		pct := 0.0
		if g.TotalImages > 0 {
			pct = float64(g.DownloadedImages) / float64(g.TotalImages) * 100
		}
		p.Queue.Update(id, queue.Patch{Progress: &models.Progress{
			BytesDownloaded: int64(g.DownloadedImages),
			TotalBytes:      int64(g.TotalImages),
			Percentage:      pct,
			LastActivity:    p.now(),
		}})
	})
	if err != nil {
		return nil, "", err
	}
	if skipped := len(md.Gallery) - len(files); skipped > 0 {
		p.Queue.AppendLog(id, models.LevelWarning, fmt.Sprintf("Skipped %d of %d gallery images", skipped, len(md.Gallery)))
	}

	dir := filepath.Join(p.targetDir(md), helpers.SanitizeFilename(titleOr(md, id)))
	var paths []string
	var firstHash string
	for _, f := range files {
		path, hash, err := downloader.SaveBlob(dir, f.Filename, f.Blob)
		if err != nil {
			return paths, firstHash, err
		}
		if firstHash == "" {
			firstHash = hash
		}
		paths = append(paths, path)
	}
	return paths, firstHash, nil
}

func (p *Processor) embedMetadata(ctx context.Context, id string, paths []string, md *models.ScrapedMetadata) {
	for _, path := range paths {
		_, err := p.hostOp(ctx, map[string]any{
			"mode":      "embed_metadata",
			"file_path": path,
			"metadata":  md,
		})
		if err != nil {
			p.Queue.AppendLog(id, models.LevelWarning, "Could not embed metadata: "+err.Error())
			return
		}
	}
}

func (p *Processor) hostOp(ctx context.Context, args map[string]any) (json.RawMessage, error) {
	if p.Host == nil {
		return nil, downloader.ErrNoHost
	}
	return p.Host.RunPluginOperation(ctx, p.Options.PluginID, args)
}

func titleOr(md *models.ScrapedMetadata, fallback string) string {
	if t := strings.TrimSpace(md.Title); t != "" {
		return t
	}
	return fallback
}

func blobFilename(md *models.ScrapedMetadata, blob *downloader.Blob) string {
	if md.Title != "" {
		name := md.Title
		if md.SourceID != "" {
			name = fmt.Sprintf("%s [%s]", name, md.SourceID)
		}
		if ext := filepath.Ext(blob.Filename); ext != "" {
			name += ext
		}
		return name
	}
	return blob.Filename
}
