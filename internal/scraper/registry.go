package scraper

import (
	"context"
	"fmt"
	"net/url"

	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

// Registry holds adapters in priority order, most site-specific first, plus a
// fallback that accepts anything.
type Registry struct {
	scrapers []Scraper
	fallback Scraper
}

// NewRegistry creates a registry. fallback may be nil.
func NewRegistry(fallback Scraper, scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers, fallback: fallback}
}

// NewDefaultRegistry registers the built-in adapters.
func NewDefaultRegistry(fetcher Fetcher, host HostOperator, pluginID string) *Registry {
	return NewRegistry(NewGeneric(),
		NewRule34(fetcher),
		NewGelbooru(fetcher),
		NewDanbooru(fetcher),
		NewReddit(host, pluginID),
		NewOpenGraph(fetcher),
	)
}

// Register appends s after the existing adapters.
func (r *Registry) Register(s Scraper) {
	r.scrapers = append(r.scrapers, s)
}

// Scrapers returns the registered adapters in priority order, without the fallback.
func (r *Registry) Scrapers() []Scraper {
	out := make([]Scraper, len(r.scrapers))
	copy(out, r.scrapers)
	return out
}

// FindScraper returns the first adapter that handles rawURL. With a non-empty hint only
// adapters declaring that content type are considered. Falls back to the generic adapter.
func (r *Registry) FindScraper(rawURL string, hint models.ContentType) Scraper {
	for _, s := range r.scrapers {
		if hint != "" && !supports(s, hint) {
			continue
		}
		if s.CanHandle(rawURL) {
			return s
		}
	}
	return r.fallback
}

// Scrape resolves an adapter and scrapes rawURL, routing pool URLs to ScrapePool when
// the adapter supports it.
func (r *Registry) Scrape(ctx context.Context, rawURL string, hint models.ContentType) (*models.ScrapedMetadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	s := r.FindScraper(rawURL, hint)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoScraper, rawURL)
	}
	logger := log.WithFields(log.Fields{"scraper": s.Name(), "url": rawURL})
	logger.Debug("Scraping")

	var meta *models.ScrapedMetadata
	if ps, ok := s.(PoolScraper); ok {
		if _, isPool := ps.ParsePoolID(rawURL); isPool {
			meta, err = ps.ScrapePool(ctx, rawURL)
		}
	}
	if meta == nil && err == nil {
		meta, err = s.Scrape(ctx, rawURL)
	}
	if err != nil {
		return nil, err
	}

	if meta.SourceName == "" {
		meta.SourceName = s.Name()
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), err)
	}
	logger.WithField("contentType", meta.ContentType).Debug("Scrape complete")
	return meta, nil
}
