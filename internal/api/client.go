package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("upstream rate limit exceeded")
	ErrUnauthorized = errors.New("upstream request unauthorized")
	ErrNotFound     = errors.New("upstream resource not found")
	ErrServerError  = errors.New("upstream server error")
	ErrHttpStatus   = errors.New("unexpected HTTP status code")
	ErrMalformed    = errors.New("malformed upstream response")
)

const userAgent = "stash-downloader/1.0 (+https://github.com/stashapp)"

// maxBodyBytes caps metadata responses; media never goes through this client.
const maxBodyBytes = 16 << 20

// Client fetches JSON and HTML metadata from site APIs with retry on transient failures.
type Client struct {
	HttpClient        *http.Client
	MaxRetries        int
	InitialRetryDelay time.Duration
}

// NewHTTPClient builds the shared HTTP client: proxy from config, optional logging
// transport, and the configured API timeout.
func NewHTTPClient(cfg models.Config, base http.RoundTripper) *http.Client {
	if base == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConnsPerHost:   5,
		}
		if cfg.HttpProxy != "" {
			if proxyURL, err := url.Parse(cfg.HttpProxy); err == nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			} else {
				log.WithError(err).Warnf("Ignoring invalid HttpProxy %q", cfg.HttpProxy)
			}
		}
		base = transport
	}
	return &http.Client{
		Transport: base,
		Timeout:   time.Duration(cfg.ApiClientTimeoutSec) * time.Second,
	}
}

// NewClient creates a metadata client around httpClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		HttpClient:        httpClient,
		MaxRetries:        2,
		InitialRetryDelay: 500 * time.Millisecond,
	}
}

// GetJSON fetches rawURL and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decoding JSON from %s: %v", ErrMalformed, rawURL, err)
	}
	return nil
}

// Get fetches rawURL and returns the body. Network errors, 408, 429 and 5xx responses
// are retried with exponential backoff; other non-2xx statuses fail immediately.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.InitialRetryDelay * time.Duration(1<<(attempt-1))
			log.Debugf("Retrying %s in %v (attempt %d/%d)", rawURL, backoff, attempt+1, c.MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("error creating request for %s: %w", rawURL, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", rawURL, err)
			log.WithError(err).Warnf("Attempt %d/%d failed for %s", attempt+1, c.MaxRetries+1, rawURL)
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				lastErr = fmt.Errorf("reading body from %s: %w", rawURL, readErr)
				continue
			}
			return body, nil
		}

		lastErr = statusError(rawURL, resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
		log.WithError(lastErr).Warnf("Attempt %d/%d failed for %s", attempt+1, c.MaxRetries+1, rawURL)
	}
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func statusError(rawURL string, code int) error {
	var kind error
	switch {
	case code == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrUnauthorized
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code >= 500:
		kind = ErrServerError
	default:
		kind = ErrHttpStatus
	}
	return fmt.Errorf("%w: status %d from %s", kind, code, rawURL)
}
