package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"
)

// RedditScraper delegates fetching to the host plugin (mode scrape_reddit), which returns
// a pre-shaped post record, and maps that record onto ScrapedMetadata.
type RedditScraper struct {
	host     HostOperator
	pluginID string
}

func NewReddit(host HostOperator, pluginID string) *RedditScraper {
	return &RedditScraper{host: host, pluginID: pluginID}
}

type redditRecord struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	CreatedUTC    float64 `json:"created_utc"`
	Score         *int    `json:"score"`
	Over18        bool    `json:"over_18"`
	IsGallery     bool    `json:"is_gallery"`
	IsVideo       bool    `json:"is_video"`
	PostHint      string  `json:"post_hint"`
	VideoURL      string  `json:"video_url"`
	ImageURL      string  `json:"image_url"`
	Thumbnail     string  `json:"thumbnail"`
	GalleryImages []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"gallery_images"`
	Error string `json:"error"`
}

func (r *RedditScraper) Name() string { return "Reddit" }

func (r *RedditScraper) SupportedContentTypes() []models.ContentType {
	return []models.ContentType{models.ContentVideo, models.ContentImage, models.ContentGallery}
}

func redditHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsRedditMediaURL reports whether rawURL is a bare i.redd.it / v.redd.it media link.
func IsRedditMediaURL(rawURL string) bool {
	host := redditHost(rawURL)
	return host == "i.redd.it" || host == "v.redd.it"
}

func (r *RedditScraper) CanHandle(rawURL string) bool {
	host := redditHost(rawURL)
	return host == "reddit.com" || strings.HasSuffix(host, ".reddit.com") ||
		host == "redd.it" || strings.HasSuffix(host, ".redd.it")
}

func (r *RedditScraper) Scrape(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	if IsRedditMediaURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrNeedPostURL, rawURL)
	}

	out, err := r.host.RunPluginOperation(ctx, r.pluginID, map[string]any{
		"mode": "scrape_reddit",
		"url":  rawURL,
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: reddit post %s", ErrEmptyResponse, rawURL)
	}

	var rec redditRecord
	if err := json.Unmarshal(out, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if rec.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrHostOperation, rec.Error)
	}
	return r.toMetadata(rawURL, rec), nil
}

func (r *RedditScraper) toMetadata(rawURL string, rec redditRecord) *models.ScrapedMetadata {
	meta := &models.ScrapedMetadata{
		URL:          rawURL,
		Title:        rec.Title,
		Description:  rec.Selftext,
		ThumbnailURL: rec.Thumbnail,
		Score:        rec.Score,
		SourceID:     rec.ID,
		SourceName:   r.Name(),
	}
	if rec.CreatedUTC > 0 {
		meta.Date = time.Unix(int64(rec.CreatedUTC), 0).UTC().Format("2006-01-02")
	}
	if rec.Author != "" && rec.Author != "[deleted]" {
		meta.Performers = []string{"u/" + rec.Author}
	}
	if rec.Subreddit != "" {
		sub := "r/" + rec.Subreddit
		meta.Tags = []string{sub}
		meta.Studio = sub
	}
	if rec.Over18 {
		meta.Rating = string(models.RatingExplicit)
	}

	meta.ContentType = redditContentType(rec)
	switch meta.ContentType {
	case models.ContentGallery:
		for i, img := range rec.GalleryImages {
			meta.Gallery = append(meta.Gallery, models.GalleryImage{
				URL:      img.URL,
				Filename: helpers.FilenameFromURL(img.URL),
				Width:    img.Width,
				Height:   img.Height,
				Order:    i,
			})
		}
		if len(meta.Gallery) > 0 {
			meta.ImageURL = meta.Gallery[0].URL
		}
	case models.ContentVideo:
		meta.VideoURL = firstNonEmpty(rec.VideoURL, rec.URL)
	default:
		meta.ImageURL = firstNonEmpty(rec.ImageURL, rec.URL)
	}
	return meta
}

// redditContentType applies the priority gallery flag, video flag, post hint, URL extension.
func redditContentType(rec redditRecord) models.ContentType {
	switch {
	case rec.IsGallery:
		return models.ContentGallery
	case rec.IsVideo:
		return models.ContentVideo
	}
	switch {
	case strings.Contains(rec.PostHint, "video"):
		return models.ContentVideo
	case rec.PostHint == "image":
		return models.ContentImage
	}
	if ct, ok := ContentTypeFromExtension(helpers.ExtensionFromURL(rec.URL)); ok {
		return ct
	}
	return models.ContentImage
}
