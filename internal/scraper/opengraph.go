package scraper

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"go-stash-downloader/internal/models"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// OpenGraphScraper is the catch-all for video pages. It reads og:* meta tags; when the
// page cannot be fetched it still returns the page URL so the host-side video tool can
// handle it.
type OpenGraphScraper struct {
	fetcher Fetcher
}

func NewOpenGraph(f Fetcher) *OpenGraphScraper {
	return &OpenGraphScraper{fetcher: f}
}

func (o *OpenGraphScraper) Name() string { return "OpenGraph" }

func (o *OpenGraphScraper) SupportedContentTypes() []models.ContentType {
	return []models.ContentType{models.ContentVideo}
}

func (o *OpenGraphScraper) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (o *OpenGraphScraper) Scrape(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	meta := &models.ScrapedMetadata{
		URL:         rawURL,
		ContentType: models.ContentVideo,
		SourceName:  o.Name(),
	}

	body, err := fetch(ctx, o.fetcher, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.WithError(err).Warnf("Could not read page metadata for %s", rawURL)
		return meta, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Warnf("Could not parse page %s", rawURL)
		return meta, nil
	}

	doc.Find("meta").Each(func(i int, s *goquery.Selection) {
		property, exists := s.Attr("property")
		if !exists {
			property, _ = s.Attr("name")
		}
		content, exists := s.Attr("content")
		if !exists || content == "" {
			return
		}

		switch property {
		case "og:title":
			meta.Title = content
		case "og:description", "description":
			if meta.Description == "" {
				meta.Description = content
			}
		case "og:video:secure_url":
			meta.VideoURL = resolveURL(rawURL, content)
		case "og:video", "og:video:url":
			if meta.VideoURL == "" {
				meta.VideoURL = resolveURL(rawURL, content)
			}
		case "og:image", "og:image:url":
			if meta.ThumbnailURL == "" {
				meta.ThumbnailURL = resolveURL(rawURL, content)
			}
		case "video:release_date", "article:published_time":
			if len(content) >= 10 {
				meta.Date = content[:10]
			}
		case "video:tag", "article:tag":
			meta.Tags = append(meta.Tags, content)
		case "og:site_name":
			meta.Studio = content
		}
	})

	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return meta, nil
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
