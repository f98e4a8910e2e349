// Package scraper resolves a URL to a site adapter and normalizes what the site
// returns into models.ScrapedMetadata.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go-stash-downloader/internal/models"
)

var (
	ErrNoScraper         = errors.New("no scraper can handle this URL")
	ErrInvalidURL        = errors.New("invalid URL")
	ErrInvalidPostURL    = errors.New("could not parse a post id from URL")
	ErrEmptyResponse     = errors.New("upstream returned no posts")
	ErrUpstreamStatus    = errors.New("upstream API request failed")
	ErrMalformedResponse = errors.New("unexpected upstream response shape")
	ErrNeedPostURL       = errors.New("direct media URLs cannot be scraped; use the post URL instead")
	ErrPoolNotSupported  = errors.New("scraper does not support pools")
	ErrEmptyPool         = errors.New("pool has no posts")
	ErrHostOperation     = errors.New("host plugin operation reported an error")
)

// Scraper is implemented by every site adapter.
type Scraper interface {
	Name() string
	SupportedContentTypes() []models.ContentType
	CanHandle(rawURL string) bool
	Scrape(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error)
}

// PoolScraper is the optional capability of adapters that understand pools/galleries.
type PoolScraper interface {
	Scraper
	ParsePoolID(rawURL string) (string, bool)
	BuildPoolAPIURL(id string) string
	ParsePoolResponse(data []byte) ([]string, error)
	ScrapePool(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error)
}

// Fetcher retrieves a URL body. *api.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// HostOperator runs synchronous plugin operations on the host. *stash.Client satisfies it.
type HostOperator interface {
	RunPluginOperation(ctx context.Context, pluginID string, args map[string]any) (json.RawMessage, error)
}

func supports(s Scraper, ct models.ContentType) bool {
	for _, c := range s.SupportedContentTypes() {
		if c == ct {
			return true
		}
	}
	return false
}

func fetch(ctx context.Context, f Fetcher, rawURL string) ([]byte, error) {
	body, err := f.Get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamStatus, err)
	}
	return body, nil
}
