package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

type apiStyle int

const (
	styleGelbooru apiStyle = iota // index.php?page=dapi JSON API
	styleDanbooru                 // /posts/N.json
)

// BooruScraper implements the shared booru family: Rule34, Gelbooru and Danbooru-style sites.
type BooruScraper struct {
	name    string
	domains []string
	style   apiStyle
	ratings map[string]models.Rating

	// APIBase is scheme://host of the JSON API.
	APIBase string
	fetcher Fetcher
}

func NewRule34(f Fetcher) *BooruScraper {
	return &BooruScraper{
		name:    "Rule34",
		domains: []string{"rule34.xxx"},
		style:   styleGelbooru,
		APIBase: "https://api.rule34.xxx",
		fetcher: f,
	}
}

func NewGelbooru(f Fetcher) *BooruScraper {
	return &BooruScraper{
		name:    "Gelbooru",
		domains: []string{"gelbooru.com", "safebooru.org"},
		style:   styleGelbooru,
		APIBase: "https://gelbooru.com",
		fetcher: f,
	}
}

// NewDanbooru returns the Danbooru adapter. Danbooru uses "s" for sensitive, not safe.
func NewDanbooru(f Fetcher) *BooruScraper {
	return &BooruScraper{
		name:    "Danbooru",
		domains: []string{"danbooru.donmai.us", "safebooru.donmai.us"},
		style:   styleDanbooru,
		ratings: map[string]models.Rating{"s": models.RatingQuestionable},
		APIBase: "https://danbooru.donmai.us",
		fetcher: f,
	}
}

func (b *BooruScraper) Name() string { return b.name }

func (b *BooruScraper) SupportedContentTypes() []models.ContentType {
	return []models.ContentType{models.ContentImage, models.ContentGallery}
}

func (b *BooruScraper) CanHandle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

var (
	danbooruPostPath = regexp.MustCompile(`^/posts/(\d+)`)
	danbooruPoolPath = regexp.MustCompile(`^/pools/(\d+)`)
	parenthetical    = regexp.MustCompile(`\s*\([^)]*\)`)
)

// ParsePostID extracts N from page=post&s=view&id=N or /posts/N.
func ParsePostID(rawURL string) (string, bool) {
	return parseID(rawURL, "post", "view", danbooruPostPath)
}

// ParsePoolID extracts N from page=pool&s=show&id=N or /pools/N.
func ParsePoolID(rawURL string) (string, bool) {
	return parseID(rawURL, "pool", "show", danbooruPoolPath)
}

func parseID(rawURL, page, s string, pathRe *regexp.Regexp) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if q.Get("page") == page && q.Get("s") == s {
		id := q.Get("id")
		if _, err := strconv.ParseUint(id, 10, 64); err == nil {
			return id, true
		}
		return "", false
	}
	if m := pathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], true
	}
	return "", false
}

func (b *BooruScraper) ParsePoolID(rawURL string) (string, bool) {
	return ParsePoolID(rawURL)
}

// BuildPostAPIURL returns the JSON API URL for a single post.
func (b *BooruScraper) BuildPostAPIURL(id string) string {
	if b.style == styleDanbooru {
		return fmt.Sprintf("%s/posts/%s.json", b.APIBase, id)
	}
	return fmt.Sprintf("%s/index.php?page=dapi&s=post&q=index&json=1&id=%s", b.APIBase, id)
}

func (b *BooruScraper) BuildPoolAPIURL(id string) string {
	if b.style == styleDanbooru {
		return fmt.Sprintf("%s/pools/%s.json", b.APIBase, id)
	}
	return fmt.Sprintf("%s/index.php?page=dapi&s=pool&q=index&json=1&id=%s", b.APIBase, id)
}

// NormalizeRating collapses site rating codes to safe/questionable/explicit.
// Unknown codes pass through unchanged.
func NormalizeRating(code string) models.Rating {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "g", "s", "safe", "general":
		return models.RatingSafe
	case "q", "questionable", "sensitive":
		return models.RatingQuestionable
	case "e", "explicit":
		return models.RatingExplicit
	}
	return models.Rating(code)
}

func (b *BooruScraper) normalizeRating(code string) models.Rating {
	if r, ok := b.ratings[strings.ToLower(strings.TrimSpace(code))]; ok {
		return r
	}
	return NormalizeRating(code)
}

// FormatTag turns a raw tag into display form: underscores become spaces and
// parenthetical qualifiers are dropped.
func FormatTag(tag string) string {
	tag = strings.ReplaceAll(tag, "_", " ")
	tag = parenthetical.ReplaceAllString(tag, "")
	return strings.Join(strings.Fields(tag), " ")
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func (f flexString) Int() int {
	n, _ := strconv.ParseFloat(string(f), 64)
	return int(n)
}

type rawTag struct {
	Name string     `json:"name"`
	Type flexString `json:"type"`
}

type rawPost struct {
	ID             flexString      `json:"id"`
	FileURL        string          `json:"file_url"`
	PreviewURL     string          `json:"preview_url"`
	PreviewFileURL string          `json:"preview_file_url"`
	SampleURL      string          `json:"sample_url"`
	LargeFileURL   string          `json:"large_file_url"`
	Image          string          `json:"image"`
	Tags           json.RawMessage `json:"tags"`
	TagString      string          `json:"tag_string"`
	TagsGeneral    string          `json:"tag_string_general"`
	TagsArtist     string          `json:"tag_string_artist"`
	TagsCharacter  string          `json:"tag_string_character"`
	TagsCopyright  string          `json:"tag_string_copyright"`
	TagsMeta       string          `json:"tag_string_meta"`
	Rating         string          `json:"rating"`
	Score          flexString      `json:"score"`
	Width          flexString      `json:"width"`
	Height         flexString      `json:"height"`
	ImageWidth     flexString      `json:"image_width"`
	ImageHeight    flexString      `json:"image_height"`
	FileExt        string          `json:"file_ext"`
}

// firstPost accepts a bare array, {"post":[...]}, {"post":{...}} or a bare post object.
func firstPost(data []byte) (*rawPost, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyResponse
	}

	if data[0] == '[' {
		var posts []rawPost
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(posts) == 0 {
			return nil, ErrEmptyResponse
		}
		return &posts[0], nil
	}

	var wrapper struct {
		Post json.RawMessage `json:"post"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	switch {
	case len(wrapper.Post) > 0 && string(wrapper.Post) != "null":
		return firstPost(wrapper.Post)
	case len(wrapper.ID) > 0:
		var p rawPost
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return &p, nil
	}
	return nil, ErrEmptyResponse
}

var gelbooruTagTypes = map[string]string{
	"0": models.TagGeneral,
	"1": models.TagArtist,
	"3": models.TagCopyright,
	"4": models.TagCharacter,
	"5": models.TagMeta,
}

func splitTags(s, kind string) []models.BooruTag {
	var out []models.BooruTag
	for _, name := range strings.Fields(s) {
		out = append(out, models.BooruTag{Name: name, Type: kind})
	}
	return out
}

func (p *rawPost) tags() []models.BooruTag {
	if p.TagsGeneral != "" || p.TagsArtist != "" || p.TagsCharacter != "" {
		var out []models.BooruTag
		out = append(out, splitTags(p.TagsArtist, models.TagArtist)...)
		out = append(out, splitTags(p.TagsCharacter, models.TagCharacter)...)
		out = append(out, splitTags(p.TagsCopyright, models.TagCopyright)...)
		out = append(out, splitTags(p.TagsGeneral, models.TagGeneral)...)
		out = append(out, splitTags(p.TagsMeta, models.TagMeta)...)
		return out
	}

	raw := bytes.TrimSpace(p.Tags)
	if len(raw) > 0 && raw[0] == '[' {
		var objs []rawTag
		if err := json.Unmarshal(raw, &objs); err == nil {
			out := make([]models.BooruTag, 0, len(objs))
			for _, t := range objs {
				name := strings.TrimSpace(t.Name)
				if name == "" {
					continue
				}
				kind := string(t.Type)
				if mapped, ok := gelbooruTagTypes[kind]; ok {
					kind = mapped
				}
				if kind == "" {
					kind = models.TagGeneral
				}
				out = append(out, models.BooruTag{Name: name, Type: kind})
			}
			return out
		}
	}

	var s string
	if len(raw) > 0 && raw[0] == '"' {
		_ = json.Unmarshal(raw, &s)
	} else {
		s = p.TagString
	}
	return splitTags(s, models.TagGeneral)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// normalize converts a raw post into the shared shape.
func (b *BooruScraper) normalize(p *rawPost) models.NormalizedBooruPost {
	post := models.NormalizedBooruPost{
		ID:         string(p.ID),
		FileURL:    p.FileURL,
		PreviewURL: firstNonEmpty(p.PreviewURL, p.PreviewFileURL),
		SampleURL:  firstNonEmpty(p.SampleURL, p.LargeFileURL),
		Tags:       p.tags(),
		Rating:     b.normalizeRating(p.Rating),
		Score:      p.Score.Int(),
		Width:      flexString(firstNonEmpty(string(p.Width), string(p.ImageWidth))).Int(),
		Height:     flexString(firstNonEmpty(string(p.Height), string(p.ImageHeight))).Int(),
		FileExt:    strings.ToLower(p.FileExt),
	}
	if post.FileExt == "" {
		post.FileExt = helpers.ExtensionFromURL(firstNonEmpty(p.FileURL, p.Image))
	}
	return post
}

// ParsePostResponse normalizes the first post of an API response.
func (b *BooruScraper) ParsePostResponse(data []byte) (models.NormalizedBooruPost, error) {
	raw, err := firstPost(data)
	if err != nil {
		return models.NormalizedBooruPost{}, err
	}
	return b.normalize(raw), nil
}

// FetchPost fetches and normalizes one post by id.
func (b *BooruScraper) FetchPost(ctx context.Context, id string) (models.NormalizedBooruPost, error) {
	apiURL := b.BuildPostAPIURL(id)
	data, err := fetch(ctx, b.fetcher, apiURL)
	if err != nil {
		return models.NormalizedBooruPost{}, err
	}
	post, err := b.ParsePostResponse(data)
	if err != nil {
		return models.NormalizedBooruPost{}, fmt.Errorf("%s post %s: %w", b.name, id, err)
	}
	if post.ID == "" {
		post.ID = id
	}
	return post, nil
}

// Title builds "char1, char2 by artist [et al.]", falling back to "{Source} #{id}".
func (b *BooruScraper) Title(post models.NormalizedBooruPost) string {
	chars := post.TagsOfType(models.TagCharacter)
	artists := post.TagsOfType(models.TagArtist)
	if len(chars) == 0 && len(artists) == 0 {
		return fmt.Sprintf("%s #%s", b.name, post.ID)
	}

	if len(chars) > 2 {
		chars = chars[:2]
	}
	names := make([]string, len(chars))
	for i, c := range chars {
		names[i] = FormatTag(c)
	}
	title := strings.Join(names, ", ")
	if len(artists) > 0 {
		title += " by " + FormatTag(artists[0])
		if len(artists) > 1 {
			title += " et al."
		}
	}
	return strings.TrimSpace(title)
}

func formatAll(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		f := FormatTag(t)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// ToMetadata maps a normalized post onto ScrapedMetadata for pageURL.
func (b *BooruScraper) ToMetadata(pageURL string, post models.NormalizedBooruPost) *models.ScrapedMetadata {
	score := post.Score
	meta := &models.ScrapedMetadata{
		URL:          pageURL,
		Title:        b.Title(post),
		ThumbnailURL: firstNonEmpty(post.PreviewURL, post.SampleURL),
		ContentType:  models.ContentImage,
		ImageURL:     post.FileURL,
		Performers:   formatAll(post.TagsOfType(models.TagCharacter)),
		Rating:       string(post.Rating),
		Score:        &score,
		SourceID:     post.ID,
		SourceName:   b.name,
	}
	if ct, ok := ContentTypeFromExtension(post.FileExt); ok && ct == models.ContentVideo {
		meta.ContentType = models.ContentVideo
		meta.VideoURL = post.FileURL
		meta.ImageURL = ""
	}
	if artists := post.TagsOfType(models.TagArtist); len(artists) > 0 {
		meta.Studio = FormatTag(artists[0])
	}
	var tags []string
	tags = append(tags, post.TagsOfType(models.TagCopyright)...)
	tags = append(tags, post.TagsOfType(models.TagGeneral)...)
	tags = append(tags, post.TagsOfType(models.TagMeta)...)
	meta.Tags = formatAll(tags)
	return meta
}

func (b *BooruScraper) Scrape(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	id, ok := ParsePostID(rawURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPostURL, rawURL)
	}
	post, err := b.FetchPost(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.ToMetadata(rawURL, post), nil
}

// ParsePoolResponse extracts ordered post ids from a pool API response. Accepts
// {"post_ids":[...]} (numbers or a space-separated string), {"pool":{...}} and
// an array of pools or posts.
func (b *BooruScraper) ParsePoolResponse(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmptyPool
	}

	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if len(items) == 0 {
			return nil, ErrEmptyPool
		}
		// An array of pools: take the first. An array of posts: collect their ids.
		var first struct {
			PostIDs json.RawMessage `json:"post_ids"`
		}
		if err := json.Unmarshal(items[0], &first); err == nil && len(first.PostIDs) > 0 {
			return b.ParsePoolResponse(items[0])
		}
		var ids []string
		for _, it := range items {
			var p struct {
				ID flexString `json:"id"`
			}
			if err := json.Unmarshal(it, &p); err == nil && p.ID != "" {
				ids = append(ids, string(p.ID))
			}
		}
		if len(ids) == 0 {
			return nil, ErrEmptyPool
		}
		return ids, nil
	}

	var obj struct {
		PostIDs json.RawMessage `json:"post_ids"`
		Pool    json.RawMessage `json:"pool"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(obj.PostIDs) == 0 && len(obj.Pool) > 0 {
		return b.ParsePoolResponse(obj.Pool)
	}

	raw := bytes.TrimSpace(obj.PostIDs)
	var ids []string
	switch {
	case len(raw) == 0:
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		ids = strings.Fields(s)
	default:
		var list []flexString
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		for _, id := range list {
			ids = append(ids, string(id))
		}
	}
	if len(ids) == 0 {
		return nil, ErrEmptyPool
	}
	return ids, nil
}

// ScrapePool scrapes every member of a pool into one Gallery result. Members that fail
// are logged and skipped; the first successful member supplies the gallery metadata.
func (b *BooruScraper) ScrapePool(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	poolID, ok := b.ParsePoolID(rawURL)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPostURL, rawURL)
	}
	data, err := fetch(ctx, b.fetcher, b.BuildPoolAPIURL(poolID))
	if err != nil {
		return nil, err
	}
	ids, err := b.ParsePoolResponse(data)
	if err != nil {
		return nil, fmt.Errorf("%s pool %s: %w", b.name, poolID, err)
	}

	logger := log.WithFields(log.Fields{"scraper": b.name, "pool": poolID})
	var meta *models.ScrapedMetadata
	var images []models.GalleryImage
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		post, err := b.FetchPost(ctx, id)
		if err != nil {
			logger.WithError(err).Warnf("Skipping pool member %s", id)
			continue
		}
		if meta == nil {
			meta = b.ToMetadata(rawURL, post)
		}
		filename := helpers.FilenameFromURL(post.FileURL)
		if filename == "" {
			filename = fmt.Sprintf("%s.%s", post.ID, post.FileExt)
		}
		images = append(images, models.GalleryImage{
			URL:          post.FileURL,
			ThumbnailURL: firstNonEmpty(post.PreviewURL, post.SampleURL),
			Filename:     filename,
			Width:        post.Width,
			Height:       post.Height,
			Order:        len(images),
		})
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: none of %d members of %s pool %s could be fetched", ErrEmptyPool, len(ids), b.name, poolID)
	}

	meta.ContentType = models.ContentGallery
	meta.Gallery = images
	meta.VideoURL = ""
	meta.ImageURL = images[0].URL
	meta.SourceID = poolID
	logger.Infof("Scraped pool with %d/%d images", len(images), len(ids))
	return meta, nil
}
