package stash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go-stash-downloader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gqlCall struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeHost answers GraphQL calls by matching a substring of the query.
func fakeHost(t *testing.T, handlers map[string]func(gqlCall) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graphql", r.URL.Path)
		var call gqlCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		for key, h := range handlers {
			if strings.Contains(call.Query, key) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"data": h(call)})
				return
			}
		}
		t.Fatalf("unexpected query: %s", call.Query)
	}))
}

func newTestClient(url string) *Client {
	c := NewClient(url, "key", &http.Client{Timeout: 5 * time.Second})
	c.RetryDelay = time.Millisecond
	return c
}

func TestDo_SendsApiKeyAndSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("ApiKey"))
		_, _ = w.Write([]byte(`{"errors":[{"message":"boom"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	err := c.Do(context.Background(), "query { x }", nil, nil)
	assert.ErrorIs(t, err, ErrGraphQL)
	assert.Contains(t, err.Error(), "boom")
}

func TestDo_StatusMapping(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Do(context.Background(), "query { x }", nil, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDo_NotConfigured(t *testing.T) {
	err := NewClient("", "", nil).Do(context.Background(), "query { x }", nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRunPluginOperation(t *testing.T) {
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"runPluginOperation": func(c gqlCall) any {
			assert.Equal(t, "stash-downloader", c.Variables["plugin_id"])
			args := c.Variables["args"].(map[string]any)
			if args["mode"] == "empty" {
				return map[string]any{"runPluginOperation": nil}
			}
			return map[string]any{"runPluginOperation": map[string]any{"ok": true}}
		},
	})
	defer srv.Close()
	c := newTestClient(srv.URL)

	out, err := c.RunPluginOperation(context.Background(), "stash-downloader", map[string]any{"mode": "check_ytdlp"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))

	out, err = c.RunPluginOperation(context.Background(), "stash-downloader", map[string]any{"mode": "empty"})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunPluginTaskAndWait(t *testing.T) {
	var polls int32
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"runPluginTask": func(c gqlCall) any {
			assert.Equal(t, "Download", c.Variables["task_name"])
			return map[string]any{"runPluginTask": "42"}
		},
		"findJob": func(c gqlCall) any {
			n := atomic.AddInt32(&polls, 1)
			status := JobRunning
			if n >= 3 {
				status = JobFinished
			}
			return map[string]any{"findJob": map[string]any{"id": "42", "status": status, "progress": 0.5}}
		},
	})
	defer srv.Close()

	var started string
	var progressCalls int
	res, err := newTestClient(srv.URL).RunPluginTaskAndWait(context.Background(), "p", "Download", nil, TaskOptions{
		PollInterval: time.Millisecond,
		OnJobStart:   func(id string) { started = id },
		OnProgress:   func(float64) { progressCalls++ },
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.JobID)
	assert.Equal(t, "42", started)
	assert.Equal(t, 3, progressCalls)
}

func TestRunPluginTaskAndWait_FailedJob(t *testing.T) {
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"runPluginTask": func(gqlCall) any { return map[string]any{"runPluginTask": "7"} },
		"findJob": func(gqlCall) any {
			return map[string]any{"findJob": map[string]any{"id": "7", "status": JobFailed, "error": "yt-dlp exited 1"}}
		},
	})
	defer srv.Close()

	res, err := newTestClient(srv.URL).RunPluginTaskAndWait(context.Background(), "p", "Download", nil, TaskOptions{PollInterval: time.Millisecond})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "yt-dlp exited 1", res.Error)
}

func TestRunPluginTaskAndWait_Timeout(t *testing.T) {
	var stopped atomic.Value
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"runPluginTask": func(gqlCall) any { return map[string]any{"runPluginTask": "9"} },
		"findJob": func(gqlCall) any {
			return map[string]any{"findJob": map[string]any{"id": "9", "status": JobRunning}}
		},
		"stopJob": func(c gqlCall) any {
			stopped.Store(c.Variables["job_id"])
			return map[string]any{"stopJob": true}
		},
	})
	defer srv.Close()

	res, err := newTestClient(srv.URL).RunPluginTaskAndWait(context.Background(), "p", "Download", nil, TaskOptions{
		PollInterval: time.Millisecond,
		MaxWait:      20 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrTaskTimeout)
	assert.Equal(t, "9", res.JobID)
	assert.Equal(t, "9", stopped.Load(), "abandoned job is stopped")
}

func TestFindEntities(t *testing.T) {
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"findPerformers": func(c gqlCall) any {
			filter := c.Variables["filter"].(map[string]any)
			assert.Equal(t, "jane", filter["q"])
			return map[string]any{"findPerformers": map[string]any{"performers": []map[string]any{
				{"id": "1", "name": "Jane Doe", "alias_list": []string{"JD"}},
			}}}
		},
	})
	defer srv.Close()

	got, err := newTestClient(srv.URL).FindEntities(context.Background(), models.EntityPerformer, "jane", 25)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Entity{ID: "1", Kind: models.EntityPerformer, Name: "Jane Doe", Aliases: []string{"JD"}}, got[0])
}

func TestScanPaths(t *testing.T) {
	srv := fakeHost(t, map[string]func(gqlCall) any{
		"metadataScan": func(c gqlCall) any {
			input := c.Variables["input"].(map[string]any)
			assert.Equal(t, []any{"/data/a.mp4"}, input["paths"])
			return map[string]any{"metadataScan": "5"}
		},
	})
	defer srv.Close()

	id, err := newTestClient(srv.URL).ScanPaths(context.Background(), []string{"/data/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "5", id)
}
