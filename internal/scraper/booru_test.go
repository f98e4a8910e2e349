package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-stash-downloader/internal/api"
	"go-stash-downloader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves canned bodies by exact URL.
type fakeFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string) ([]byte, error) {
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: status 404 from %s", api.ErrNotFound, rawURL)
	}
	return []byte(body), nil
}

func TestParsePostAndPoolID(t *testing.T) {
	tests := []struct {
		url    string
		postID string
		postOK bool
		poolID string
		poolOK bool
	}{
		{"https://rule34.xxx/index.php?page=post&s=view&id=12345", "12345", true, "", false},
		{"https://rule34.xxx/index.php?page=pool&s=show&id=77", "", false, "77", true},
		{"https://gelbooru.com/index.php?s=view&page=post&id=9", "9", true, "", false},
		{"https://danbooru.donmai.us/posts/4242?q=x", "4242", true, "", false},
		{"https://danbooru.donmai.us/pools/12", "", false, "12", true},
		{"https://rule34.xxx/index.php?page=post&s=list&tags=x", "", false, "", false},
		{"https://rule34.xxx/index.php?page=post&s=view&id=abc", "", false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, ok := ParsePostID(tt.url)
			assert.Equal(t, tt.postOK, ok)
			assert.Equal(t, tt.postID, id)

			id, ok = ParsePoolID(tt.url)
			assert.Equal(t, tt.poolOK, ok)
			assert.Equal(t, tt.poolID, id)
		})
	}
}

func TestNormalizeRating(t *testing.T) {
	tests := map[string]models.Rating{
		"g":            models.RatingSafe,
		"s":            models.RatingSafe,
		"safe":         models.RatingSafe,
		"general":      models.RatingSafe,
		"q":            models.RatingQuestionable,
		"questionable": models.RatingQuestionable,
		"sensitive":    models.RatingQuestionable,
		"e":            models.RatingExplicit,
		"Explicit":     models.RatingExplicit,
		"weird":        models.Rating("weird"),
	}
	for in, want := range tests {
		got := NormalizeRating(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, got, NormalizeRating(string(got)), "idempotent for %s", in)
	}

	assert.Equal(t, models.RatingQuestionable, NewDanbooru(nil).normalizeRating("s"))
	assert.Equal(t, models.RatingSafe, NewDanbooru(nil).normalizeRating("g"))
}

func TestParsePostResponse_Rule34(t *testing.T) {
	b := NewRule34(nil)
	post, err := b.ParsePostResponse([]byte(`[{"id":12345,"file_url":"https://x/full.jpg","tags":"tag1 tag2","rating":"s","score":10}]`))
	require.NoError(t, err)

	assert.Equal(t, "12345", post.ID)
	assert.Equal(t, "https://x/full.jpg", post.FileURL)
	assert.Equal(t, []models.BooruTag{{Name: "tag1", Type: "general"}, {Name: "tag2", Type: "general"}}, post.Tags)
	assert.Equal(t, models.RatingSafe, post.Rating)
	assert.Equal(t, 10, post.Score)
	assert.Equal(t, "jpg", post.FileExt)
}

func TestParsePostResponse_Shapes(t *testing.T) {
	b := NewGelbooru(nil)
	shapes := map[string]string{
		"array":         `[{"id":1,"file_url":"https://x/1.png","tags":"a"}]`,
		"post array":    `{"@attributes":{"count":1},"post":[{"id":"1","file_url":"https://x/1.png","tags":"a"}]}`,
		"post object":   `{"post":{"id":1,"file_url":"https://x/1.png","tags":"a"}}`,
		"danbooru-bare": `{"id":1,"file_url":"https://x/1.png","tag_string_general":"a"}`,
	}
	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			post, err := b.ParsePostResponse([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "1", post.ID)
			assert.Equal(t, "https://x/1.png", post.FileURL)
			assert.Equal(t, []string{"a"}, post.TagsOfType(models.TagGeneral))
		})
	}

	for _, empty := range []string{``, `[]`, `{"@attributes":{"count":0}}`, `{"post":[]}`} {
		_, err := b.ParsePostResponse([]byte(empty))
		assert.ErrorIs(t, err, ErrEmptyResponse, empty)
	}
	_, err := b.ParsePostResponse([]byte(`[{"id":`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestParsePostResponse_CategorizedTags(t *testing.T) {
	b := NewDanbooru(nil)
	post, err := b.ParsePostResponse([]byte(`{
		"id": 5, "file_url": "https://x/5.webm", "rating": "e", "score": 3,
		"tag_string_artist": "some_artist", "tag_string_character": "hatsune_miku",
		"tag_string_copyright": "vocaloid", "tag_string_general": "1girl long_hair",
		"image_width": 1920, "image_height": 1080, "file_ext": "webm"
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"some_artist"}, post.TagsOfType(models.TagArtist))
	assert.Equal(t, []string{"hatsune_miku"}, post.TagsOfType(models.TagCharacter))
	assert.Equal(t, []string{"1girl", "long_hair"}, post.TagsOfType(models.TagGeneral))
	assert.Equal(t, 1920, post.Width)
	assert.Equal(t, models.RatingExplicit, post.Rating)

	meta := b.ToMetadata("https://danbooru.donmai.us/posts/5", post)
	assert.Equal(t, models.ContentVideo, meta.ContentType)
	assert.Equal(t, "https://x/5.webm", meta.VideoURL)
	assert.Equal(t, "some artist", meta.Studio)
	assert.Equal(t, []string{"hatsune miku"}, meta.Performers)
	assert.Equal(t, []string{"vocaloid", "1girl", "long hair"}, meta.Tags)

	objTags, err := NewGelbooru(nil).ParsePostResponse([]byte(`[{"id":1,"tags":[{"name":"artist_x","type":1},{"name":"plain","type":""}]}]`))
	require.NoError(t, err)
	assert.Equal(t, []models.BooruTag{{Name: "artist_x", Type: models.TagArtist}, {Name: "plain", Type: models.TagGeneral}}, objTags.Tags)
}

func TestTitleAndFormatTag(t *testing.T) {
	b := NewRule34(nil)
	tag := func(name, kind string) models.BooruTag { return models.BooruTag{Name: name, Type: kind} }

	assert.Equal(t, "Rule34 #9", b.Title(models.NormalizedBooruPost{ID: "9", Tags: []models.BooruTag{tag("x", "general")}}))
	assert.Equal(t, "alice, bob by carol", b.Title(models.NormalizedBooruPost{Tags: []models.BooruTag{
		tag("alice", "character"), tag("bob", "character"), tag("eve", "character"), tag("carol", "artist"),
	}}))
	assert.Equal(t, "alice by carol et al.", b.Title(models.NormalizedBooruPost{Tags: []models.BooruTag{
		tag("alice_(cosplay)", "character"), tag("carol", "artist"), tag("dave", "artist"),
	}}))
	assert.Equal(t, "by carol", b.Title(models.NormalizedBooruPost{Tags: []models.BooruTag{tag("carol", "artist")}}))

	assert.Equal(t, "hatsune miku", FormatTag("hatsune_miku_(cosplay)"))
	assert.Equal(t, "long hair", FormatTag("long_hair"))
}

func TestScrapePool_SkipsFailedMembers(t *testing.T) {
	b := NewRule34(nil)
	b.APIBase = "https://api.test"
	f := &fakeFetcher{
		bodies: map[string]string{
			b.BuildPoolAPIURL("5"): `{"post_ids":[1,2,3]}`,
			b.BuildPostAPIURL("1"): `[{"id":1,"file_url":"https://x/one.jpg","tags":"alice_(x)","preview_url":"https://x/p1.jpg","width":10,"height":20}]`,
			b.BuildPostAPIURL("3"): `[{"id":3,"file_url":"https://x/three.png","tags":"b"}]`,
		},
		errs: map[string]error{
			b.BuildPostAPIURL("2"): errors.New("connection reset"),
		},
	}
	b.fetcher = f

	meta, err := b.ScrapePool(context.Background(), "https://rule34.xxx/index.php?page=pool&s=show&id=5")
	require.NoError(t, err)
	assert.Equal(t, models.ContentGallery, meta.ContentType)
	require.Len(t, meta.Gallery, 2)
	assert.Equal(t, "https://x/one.jpg", meta.Gallery[0].URL)
	assert.Equal(t, "one.jpg", meta.Gallery[0].Filename)
	assert.Equal(t, "https://x/p1.jpg", meta.Gallery[0].ThumbnailURL)
	assert.Equal(t, 10, meta.Gallery[0].Width)
	assert.Equal(t, 0, meta.Gallery[0].Order)
	assert.Equal(t, "https://x/three.png", meta.Gallery[1].URL)
	assert.Equal(t, 1, meta.Gallery[1].Order)
	assert.Equal(t, "5", meta.SourceID)
	assert.NoError(t, meta.Validate())
}

func TestScrapePool_Empty(t *testing.T) {
	b := NewRule34(nil)
	b.APIBase = "https://api.test"
	b.fetcher = &fakeFetcher{bodies: map[string]string{b.BuildPoolAPIURL("5"): `{"post_ids":[]}`}}

	_, err := b.ScrapePool(context.Background(), "https://rule34.xxx/index.php?page=pool&s=show&id=5")
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestParsePoolResponse(t *testing.T) {
	b := NewDanbooru(nil)
	tests := map[string][]string{
		`{"id":1,"post_ids":[4,5,6]}`: {"4", "5", "6"},
		`{"post_ids":"7 8"}`:          {"7", "8"},
		`{"pool":{"post_ids":[9]}}`:   {"9"},
		`[{"post_ids":[1,2]}]`:        {"1", "2"},
		`[{"id":"10"},{"id":11}]`:     {"10", "11"},
	}
	for body, want := range tests {
		got, err := b.ParsePoolResponse([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, want, got, body)
	}
}

func TestBooruScrape_OverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index.php", r.URL.Path)
		assert.Equal(t, "dapi", r.URL.Query().Get("page"))
		assert.Equal(t, "1", r.URL.Query().Get("json"))
		assert.Equal(t, "12345", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(`[{"id":12345,"file_url":"https://x/full.jpg","tags":"tag1 tag2","rating":"s","score":10}]`))
	}))
	defer srv.Close()

	b := NewRule34(api.NewClient(srv.Client()))
	b.APIBase = srv.URL

	meta, err := b.Scrape(context.Background(), "https://rule34.xxx/index.php?page=post&s=view&id=12345")
	require.NoError(t, err)
	assert.Equal(t, "Rule34 #12345", meta.Title)
	assert.Equal(t, models.ContentImage, meta.ContentType)
	assert.Equal(t, "https://x/full.jpg", meta.ImageURL)
	assert.Equal(t, "safe", meta.Rating)
	require.NotNil(t, meta.Score)
	assert.Equal(t, 10, *meta.Score)
	assert.Equal(t, []string{"tag1", "tag2"}, meta.Tags)
}

func TestBooruScrape_InvalidURL(t *testing.T) {
	_, err := NewRule34(&fakeFetcher{}).Scrape(context.Background(), "https://rule34.xxx/index.php?page=post&s=list")
	assert.ErrorIs(t, err, ErrInvalidPostURL)
}

func TestBooruScrape_UpstreamError(t *testing.T) {
	b := NewRule34(&fakeFetcher{})
	_, err := b.Scrape(context.Background(), "https://rule34.xxx/index.php?page=post&s=view&id=1")
	assert.ErrorIs(t, err, ErrUpstreamStatus)
	assert.ErrorIs(t, err, api.ErrNotFound)
}
