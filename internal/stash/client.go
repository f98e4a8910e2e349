// Package stash talks to the Stash host application's GraphQL API: plugin operations,
// plugin tasks and their jobs, library scans, and entity lookups for the tagger.
package stash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotConfigured = errors.New("stash URL is not configured")
	ErrUnauthorized  = errors.New("stash request unauthorized (check API key)")
	ErrServerError   = errors.New("stash server error")
	ErrGraphQL       = errors.New("stash GraphQL error")
	ErrRateLimited   = errors.New("stash rate limit exceeded")
	ErrTaskTimeout   = errors.New("plugin task did not finish in time")
	ErrJobNotFound   = errors.New("job not found")
)

// Client is a minimal GraphQL client for one Stash instance.
type Client struct {
	BaseURL    string
	ApiKey     string
	HttpClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a client for the Stash instance at baseURL.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ApiKey:     apiKey,
		HttpClient: httpClient,
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// Origin returns the scheme://host of the Stash instance.
func (c *Client) Origin() string {
	return c.BaseURL
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Do executes a GraphQL document and decodes the "data" member into out (if non-nil).
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	if c.BaseURL == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("error marshalling GraphQL request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			sleep := time.Duration(attempt) * c.RetryDelay
			log.WithError(lastErr).Warnf("Stash request failed, retrying (%d/%d) after %s", attempt, c.MaxRetries, sleep)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}

		var retry bool
		retry, lastErr = c.doOnce(ctx, payload, out)
		if lastErr == nil || !retry {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, payload []byte, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("error creating GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("ApiKey", c.ApiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("GraphQL request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("error reading GraphQL response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, ErrRateLimited
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("GraphQL request failed with status %d", resp.StatusCode)
	}

	var gr graphqlResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return false, fmt.Errorf("error unmarshalling GraphQL response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, 0, len(gr.Errors))
		for _, e := range gr.Errors {
			msgs = append(msgs, e.Message)
		}
		return false, fmt.Errorf("%w: %s", ErrGraphQL, strings.Join(msgs, "; "))
	}
	if out != nil && len(gr.Data) > 0 {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return false, fmt.Errorf("error decoding GraphQL data: %w", err)
		}
	}
	return false, nil
}
