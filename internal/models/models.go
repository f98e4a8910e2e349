package models

import (
	"errors"
	"time"
)

// ContentType classifies what a scraped URL points at.
type ContentType string

const (
	ContentVideo   ContentType = "Video"
	ContentImage   ContentType = "Image"
	ContentGallery ContentType = "Gallery"
)

// ParseContentType accepts the case-insensitive names used on the command line and in
// bridge payloads. An empty string yields "" with ok=true (no hint).
func ParseContentType(s string) (ContentType, bool) {
	switch s {
	case "":
		return "", true
	case "video", "Video", "VIDEO":
		return ContentVideo, true
	case "image", "Image", "IMAGE":
		return ContentImage, true
	case "gallery", "Gallery", "GALLERY":
		return ContentGallery, true
	}
	return "", false
}

// Rating is the normalized booru content rating.
type Rating string

const (
	RatingSafe         Rating = "safe"
	RatingQuestionable Rating = "questionable"
	RatingExplicit     Rating = "explicit"
)

// Booru tag categories.
const (
	TagGeneral   = "general"
	TagArtist    = "artist"
	TagCharacter = "character"
	TagCopyright = "copyright"
	TagMeta      = "meta"
)

var ErrGalleryWithoutImages = errors.New("gallery metadata has no images")

type (
	// ScrapedMetadata is the normalized result of scraping one URL.
	ScrapedMetadata struct {
		URL          string         `json:"url"`
		Title        string         `json:"title,omitempty"`
		Description  string         `json:"description,omitempty"`
		Date         string         `json:"date,omitempty"`
		VideoURL     string         `json:"videoUrl,omitempty"`
		ImageURL     string         `json:"imageUrl,omitempty"`
		ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
		ContentType  ContentType    `json:"contentType"`
		Gallery      []GalleryImage `json:"galleryImages,omitempty"`
		Tags         []string       `json:"tags,omitempty"`
		Performers   []string       `json:"performers,omitempty"`
		Studio       string         `json:"studio,omitempty"`

		// Source-specific fields
		Rating     string `json:"rating,omitempty"`
		Score      *int   `json:"score,omitempty"`
		SourceID   string `json:"sourceId,omitempty"`
		SourceName string `json:"sourceName,omitempty"`
	}

	GalleryImage struct {
		URL          string `json:"url"`
		ThumbnailURL string `json:"thumbnailUrl,omitempty"`
		Filename     string `json:"filename,omitempty"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		Order        int    `json:"order"`
	}

	// NormalizedBooruPost is the adapter-internal shape shared by all booru sites.
	NormalizedBooruPost struct {
		ID         string     `json:"id"`
		FileURL    string     `json:"fileUrl"`
		PreviewURL string     `json:"previewUrl,omitempty"`
		SampleURL  string     `json:"sampleUrl,omitempty"`
		Tags       []BooruTag `json:"tags"`
		Rating     Rating     `json:"rating"`
		Score      int        `json:"score"`
		Width      int        `json:"width,omitempty"`
		Height     int        `json:"height,omitempty"`
		FileExt    string     `json:"fileExt,omitempty"`
	}

	BooruTag struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
)

// Validate checks the content-type invariants of a scrape result.
func (m *ScrapedMetadata) Validate() error {
	if m.ContentType == ContentGallery && len(m.Gallery) == 0 && m.ImageURL == "" {
		return ErrGalleryWithoutImages
	}
	return nil
}

// TagsOfType returns the tag names in the given category, in order.
func (p NormalizedBooruPost) TagsOfType(kind string) []string {
	var out []string
	for _, t := range p.Tags {
		if t.Type == kind {
			out = append(out, t.Name)
		}
	}
	return out
}

// DownloadStatus is the lifecycle state of a queue item.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusProcessing  DownloadStatus = "processing"
	StatusComplete    DownloadStatus = "complete"
	StatusFailed      DownloadStatus = "failed"
)

// Active reports whether the status represents an in-flight transfer.
func (s DownloadStatus) Active() bool {
	return s == StatusDownloading || s == StatusProcessing
}

// Log levels for queue item log entries.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

type (
	// QueueItem is one unit of download work. The queue owns all items.
	QueueItem struct {
		ID             string           `json:"id"`
		URL            string           `json:"url"`
		ContentType    ContentType      `json:"contentType,omitempty"` // caller's hint, if any
		Status         DownloadStatus   `json:"status"`
		Metadata       *ScrapedMetadata `json:"metadata,omitempty"`
		EditedMetadata *ScrapedMetadata `json:"editedMetadata,omitempty"`
		Progress       *Progress        `json:"progress,omitempty"`
		AddedAt        time.Time        `json:"addedAt"`
		StartedAt      *time.Time       `json:"startedAt,omitempty"`
		CompletedAt    *time.Time       `json:"completedAt,omitempty"`
		Logs           []LogEntry       `json:"logs,omitempty"`
		Error          string           `json:"error,omitempty"`
		JobID          string           `json:"jobId,omitempty"`
		FilePaths      []string         `json:"filePaths,omitempty"`
		ContentHash    string           `json:"contentHash,omitempty"`
	}

	Progress struct {
		BytesDownloaded int64     `json:"bytesDownloaded"`
		TotalBytes      int64     `json:"totalBytes"`
		Percentage      float64   `json:"percentage"`
		Speed           float64   `json:"speed"`         // bytes per second
		TimeRemaining   float64   `json:"timeRemaining"` // seconds
		LastActivity    time.Time `json:"lastActivity"`
	}

	LogEntry struct {
		Level     string    `json:"level"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}

	// QueueStats holds per-status counts.
	QueueStats struct {
		Total       int `json:"total"`
		Pending     int `json:"pending"`
		Downloading int `json:"downloading"`
		Processing  int `json:"processing"`
		Complete    int `json:"complete"`
		Failed      int `json:"failed"`
	}
)

// EffectiveMetadata prefers user-edited metadata over the scraped record.
func (i QueueItem) EffectiveMetadata() *ScrapedMetadata {
	if i.EditedMetadata != nil {
		return i.EditedMetadata
	}
	return i.Metadata
}
