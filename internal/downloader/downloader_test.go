package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/stash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost scripts the plugin task runner.
type fakeHost struct {
	mu         sync.Mutex
	task       stash.TaskResult
	taskErr    error
	final      string // read_result payload for the result id
	progress   string // read_result payload for the progress id
	gallery    string // download_reddit_gallery payload
	taskArgs   map[string]any
	operations []map[string]any
}

func (h *fakeHost) RunPluginOperation(_ context.Context, _ string, args map[string]any) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operations = append(h.operations, args)

	var out string
	switch args["mode"] {
	case "read_result":
		if strings.HasSuffix(args["result_id"].(string), "_progress") {
			out = h.progress
		} else {
			out = h.final
		}
	case "download_reddit_gallery":
		out = h.gallery
	}
	if out == "" {
		return nil, nil
	}
	return json.RawMessage(out), nil
}

func (h *fakeHost) RunPluginTaskAndWait(_ context.Context, _ string, _ string, args map[string]any, opts stash.TaskOptions) (stash.TaskResult, error) {
	h.mu.Lock()
	h.taskArgs = args
	h.mu.Unlock()
	if opts.OnJobStart != nil {
		opts.OnJobStart("job-1")
	}
	// Give the progress poller a chance to run.
	time.Sleep(30 * time.Millisecond)
	res := h.task
	res.JobID = "job-1"
	return res, h.taskErr
}

func (h *fakeHost) modes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, op := range h.operations {
		out = append(out, op["mode"].(string))
	}
	return out
}

func newTestService(host Host, env Environment) *Service {
	s := NewService(models.Config{PluginID: "stash-downloader", ServerDownloadPath: "/data", Quality: "best"}, &http.Client{}, host, env)
	s.SetPollPolicy(PollPolicy{Interval: 5 * time.Millisecond, MaxAttempts: 100})
	return s
}

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte(strings.Repeat("v", 4096)))
		case "/image.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		case "/named":
			w.Header().Set("Content-Disposition", `attachment; filename="clip name.webm"`)
			_, _ = w.Write([]byte("data"))
		case "/empty":
			w.WriteHeader(http.StatusOK)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStream_ReportsProgress(t *testing.T) {
	srv := mediaServer(t)
	s := newTestService(nil, Environment{})

	var last models.Progress
	calls := 0
	blob, err := s.FetchStream(context.Background(), srv.URL+"/video.mp4", models.ContentVideo, 0, func(p models.Progress) {
		calls++
		last = p
	})
	require.NoError(t, err)
	assert.Len(t, blob.Data, 4096)
	assert.Equal(t, "video/mp4", blob.ContentType)
	assert.Equal(t, "video.mp4", blob.Filename)
	assert.Positive(t, calls)
	assert.Equal(t, int64(4096), last.BytesDownloaded)
	assert.Equal(t, int64(4096), last.TotalBytes)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)
}

func TestFetchStream_Errors(t *testing.T) {
	srv := mediaServer(t)
	s := newTestService(nil, Environment{})
	ctx := context.Background()

	_, err := s.FetchStream(ctx, srv.URL+"/missing", models.ContentVideo, 0, nil)
	assert.ErrorIs(t, err, ErrHttpStatus)
	assert.Contains(t, err.Error(), "404")

	_, err = s.FetchStream(ctx, srv.URL+"/empty", models.ContentVideo, 0, nil)
	assert.ErrorIs(t, err, ErrNoBody)

	_, err = s.FetchStream(ctx, srv.URL+"/slow", models.ContentVideo, 20*time.Millisecond, nil)
	assert.ErrorIs(t, err, ErrTimeout)

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	_, err = s.FetchStream(ctx, closedURL+"/x.mp4", models.ContentVideo, 0, nil)
	assert.ErrorIs(t, err, ErrNetwork)

	assert.NotEqual(t, UserHint(fmtErr(ErrTimeout)), UserHint(fmtErr(ErrNetwork)))
	assert.NotEqual(t, UserHint(fmtErr(ErrNetwork)), UserHint(fmtErr(ErrHttpStatus)))
}

func fmtErr(err error) error { return errors.Join(errors.New("context"), err) }

func TestFetchStream_ContentDispositionAndDefaults(t *testing.T) {
	srv := mediaServer(t)
	s := newTestService(nil, Environment{})

	blob, err := s.FetchStream(context.Background(), srv.URL+"/named", models.ContentImage, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "clip name.webm", blob.Filename)
	assert.NotEmpty(t, blob.ContentType)

	assert.Equal(t, "image/jpeg", blobContentType("application/octet-stream", "https://x/noext", models.ContentImage))
	assert.Equal(t, "video/mp4", blobContentType("", "https://x/noext", models.ContentVideo))
}

func TestDownload_ImageIsNeverDelegated(t *testing.T) {
	srv := mediaServer(t)
	host := &fakeHost{}
	s := newTestService(host, Environment{InHost: true, PageOrigin: "http://stash.local"})

	res, err := s.Download(context.Background(), Request{URL: "https://booru.example/post/1", DirectImageURL: srv.URL + "/image.png", ContentType: models.ContentImage})
	require.NoError(t, err)
	assert.Equal(t, StrategyDirectImage, res.Strategy)
	assert.Equal(t, []byte("png-bytes"), res.Blob.Data)

	_, err = s.Download(context.Background(), Request{URL: srv.URL + "/missing", ContentType: models.ContentImage})
	assert.ErrorIs(t, err, ErrHttpStatus)
	assert.Nil(t, host.taskArgs)
}

func TestDownload_DirectVideoFallsThroughToPageFetch(t *testing.T) {
	srv := mediaServer(t)
	s := newTestService(nil, Environment{})

	res, err := s.Download(context.Background(), Request{URL: srv.URL + "/video.mp4", DirectVideoURL: srv.URL + "/missing"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDirect, res.Strategy)

	res, err = s.Download(context.Background(), Request{URL: "https://page.example/watch", DirectVideoURL: srv.URL + "/video.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDirectVideo, res.Strategy)
}

func TestDownload_InHostDelegatesExternalURLs(t *testing.T) {
	host := &fakeHost{
		task:  stash.TaskResult{Success: true},
		final: `{"success":true,"file_path":"/data/clip.mp4"}`,
	}
	s := newTestService(host, Environment{InHost: true, PageOrigin: "http://stash.local:9999"})

	res, err := s.Download(context.Background(), Request{URL: "https://site.example/watch/1", DirectVideoURL: "https://cdn.example/v.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StrategyServer, res.Strategy)
	assert.Equal(t, "/data/clip.mp4", res.Server.FilePath)
	assert.Equal(t, "https://cdn.example/v.mp4", host.taskArgs["url"])
	assert.Equal(t, "https://site.example/watch/1", host.taskArgs["fallback_url"])

	host.taskArgs = nil
	res, err = s.Download(context.Background(), Request{URL: "https://site.example/watch/2"})
	require.NoError(t, err)
	assert.Equal(t, StrategyServer, res.Strategy)
	assert.Equal(t, "https://site.example/watch/2", host.taskArgs["url"])
	assert.NotContains(t, host.taskArgs, "fallback_url")
}

func TestDownload_FailedDelegationFallsBackToDirectVideo(t *testing.T) {
	srv := mediaServer(t)
	host := &fakeHost{taskErr: errors.New("plugin task crashed")}
	s := newTestService(host, Environment{InHost: true, PageOrigin: "http://stash.local:9999"})

	res, err := s.Download(context.Background(), Request{URL: "https://site.example/watch/3", DirectVideoURL: srv.URL + "/video.mp4"})
	require.NoError(t, err)
	assert.Equal(t, StrategyDirectVideo, res.Strategy)
	require.NotNil(t, res.Blob)
	assert.Len(t, res.Blob.Data, 4096)
	assert.Equal(t, srv.URL+"/video.mp4", host.taskArgs["url"], "delegation was attempted first")
}

func TestDownloadServerSide_Success(t *testing.T) {
	host := &fakeHost{
		task:     stash.TaskResult{Success: true},
		progress: `{"status":"downloading","downloaded_bytes":50,"total_bytes":100,"percentage":50,"speed":10,"eta":5}`,
		final:    `{"success":true,"file_path":"/data/out.mp4"}`,
	}
	s := newTestService(host, Environment{})

	var mu sync.Mutex
	var seen []models.Progress
	var jobID string
	res, err := s.DownloadServerSide(context.Background(), "https://site.example/v", ServerOptions{
		OnProgress: func(p models.Progress) { mu.Lock(); seen = append(seen, p); mu.Unlock() },
		OnJobStart: func(id string) { jobID = id },
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"/data/out.mp4"}, res.Paths())
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, "job-1", res.JobID)

	args := host.taskArgs
	assert.Equal(t, "download", args["mode"])
	assert.Equal(t, "/data", args["output_dir"])
	assert.Equal(t, "best", args["quality"])
	assert.Equal(t, args["result_id"].(string)+"_progress", args["progress_id"])

	mu.Lock()
	require.NotEmpty(t, seen)
	assert.Equal(t, int64(50), seen[0].BytesDownloaded)
	assert.Equal(t, 5.0, seen[0].TimeRemaining)
	mu.Unlock()

	modes := host.modes()
	assert.Equal(t, []string{"cleanup_result", "cleanup_result"}, modes[len(modes)-2:])
}

func TestDownloadServerSide_FailureShapes(t *testing.T) {
	tests := []struct {
		name string
		host *fakeHost
		want error
	}{
		{"task failed", &fakeHost{task: stash.TaskResult{Error: "plugin crashed"}}, ErrTaskFailed},
		{"task transport error", &fakeHost{taskErr: stash.ErrTaskTimeout}, ErrTaskFailed},
		{"result never written", &fakeHost{task: stash.TaskResult{Success: true}}, ErrResultMissing},
		{"tool reported error", &fakeHost{task: stash.TaskResult{Success: true}, final: `{"success":false,"error":"Unsupported URL"}`}, ErrToolReported},
		{"success without path", &fakeHost{task: stash.TaskResult{Success: true}, final: `{"success":true}`}, ErrResultMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestService(tt.host, Environment{}).DownloadServerSide(context.Background(), "https://site.example/v", ServerOptions{})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, tt.host.modes(), "cleanup_result")
		})
	}
}

func TestDownloadServerSide_RedditGallery(t *testing.T) {
	host := &fakeHost{gallery: `{"success":true,"file_paths":["/data/a.jpg","/data/b.jpg"]}`}
	res, err := newTestService(host, Environment{}).DownloadServerSide(context.Background(), "https://www.reddit.com/r/pics/comments/abc/title/", ServerOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a.jpg", "/data/b.jpg"}, res.Paths())
	assert.Nil(t, host.taskArgs)
	assert.Equal(t, []string{"download_reddit_gallery"}, host.modes())
}

func TestDownloadServerSide_NoHost(t *testing.T) {
	_, err := newTestService(nil, Environment{}).DownloadServerSide(context.Background(), "https://x/v", ServerOptions{})
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestDownloadGallery_SkipsFailures(t *testing.T) {
	srv := mediaServer(t)
	s := newTestService(nil, Environment{})
	images := []models.GalleryImage{
		{URL: srv.URL + "/image.png", Order: 0},
		{URL: srv.URL + "/missing.png", Order: 1},
		{URL: srv.URL + "/image.png", Filename: "custom.png", Order: 2},
	}

	var reports []GalleryProgress
	files, err := s.DownloadGallery(context.Background(), images, func(p GalleryProgress) { reports = append(reports, p) })
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "image.png", files[0].Filename)
	assert.Equal(t, "custom.png", files[1].Filename)

	require.Len(t, reports, 4)
	assert.Equal(t, GalleryProgress{TotalImages: 3, DownloadedImages: 0, CurrentImageURL: images[0].URL}, reports[0])
	assert.Equal(t, 1, reports[2].DownloadedImages)
	assert.Equal(t, 2, reports[3].DownloadedImages)
}

func TestGalleryFilenameFallback(t *testing.T) {
	name := galleryFilename(models.GalleryImage{URL: "https://x/"}, 3, &Blob{ContentType: "image/png"})
	assert.Equal(t, "image_3.png", name)
}

func TestSaveBlob(t *testing.T) {
	dir := t.TempDir()
	blob := &Blob{Data: []byte("hello"), ContentType: "video/mp4", Filename: "clip.mp4"}

	p1, h1, err := SaveBlob(dir, "", blob)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), p1)
	assert.NotEmpty(t, h1)

	p2, h2, err := SaveBlob(dir, "", blob)
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "identical content is reused")
	assert.Equal(t, h1, h2)

	other := &Blob{Data: []byte("different"), ContentType: "video/mp4", Filename: "clip.mp4"}
	p3, _, err := SaveBlob(dir, "", other)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip (1).mp4"), p3)

	p4, _, err := SaveBlob(dir, `bad:name?`, &Blob{Data: []byte("x"), ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "badname.jpg"), p4)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestPollPolicy(t *testing.T) {
	calls := 0
	err := PollPolicy{Interval: time.Millisecond, MaxAttempts: 3}.Poll(context.Background(), func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 3, calls)

	calls = 0
	err = PollPolicy{Interval: time.Millisecond}.Poll(context.Background(), func(context.Context) (bool, error) {
		calls++
		return calls == 2, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestEnvironmentIsExternal(t *testing.T) {
	env := Environment{InHost: true, PageOrigin: "http://localhost:9999/plugins"}
	assert.False(t, env.IsExternal("http://LOCALHOST:9999/scene/1"))
	assert.True(t, env.IsExternal("https://example.com/v.mp4"))
	assert.True(t, IsRedditGallery("https://old.reddit.com/r/x/comments/1/y"))
	assert.False(t, IsRedditGallery("https://www.reddit.com/r/x/"))
}
