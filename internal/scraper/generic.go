package scraper

import (
	"context"
	"net/url"
	"path"
	"strings"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"
)

var (
	videoExtensions = map[string]bool{
		"mp4": true, "webm": true, "mkv": true, "mov": true, "avi": true,
		"m4v": true, "flv": true, "wmv": true, "ts": true, "m3u8": true,
	}
	imageExtensions = map[string]bool{
		"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
		"bmp": true, "avif": true, "heic": true, "tiff": true,
	}
)

// ContentTypeFromExtension classifies a lower-case file extension.
func ContentTypeFromExtension(ext string) (models.ContentType, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch {
	case videoExtensions[ext]:
		return models.ContentVideo, true
	case imageExtensions[ext]:
		return models.ContentImage, true
	}
	return "", false
}

// GenericScraper is the fallback: it accepts any URL and guesses the content type from
// the file extension, defaulting to Video. It makes no network calls.
type GenericScraper struct{}

func NewGeneric() *GenericScraper { return &GenericScraper{} }

func (g *GenericScraper) Name() string { return "Generic" }

func (g *GenericScraper) SupportedContentTypes() []models.ContentType {
	return []models.ContentType{models.ContentVideo, models.ContentImage, models.ContentGallery}
}

func (g *GenericScraper) CanHandle(string) bool { return true }

func (g *GenericScraper) Scrape(_ context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	ct, ok := ContentTypeFromExtension(helpers.ExtensionFromURL(rawURL))
	if !ok {
		ct = models.ContentVideo
	}

	meta := &models.ScrapedMetadata{
		URL:         rawURL,
		ContentType: ct,
		SourceName:  g.Name(),
	}
	if name := helpers.FilenameFromURL(rawURL); name != "" {
		meta.Title = strings.TrimSuffix(name, path.Ext(name))
	} else if u, err := url.Parse(rawURL); err == nil {
		meta.Title = u.Hostname()
	}
	if ct == models.ContentImage {
		meta.ImageURL = rawURL
	} else {
		meta.VideoURL = rawURL
	}
	return meta, nil
}
