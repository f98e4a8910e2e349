package index

import (
	"path/filepath"
	"testing"
	"time"

	"go-stash-downloader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndSearchCompletedItem(t *testing.T) {
	idx, err := OpenOrCreateIndex(filepath.Join(t.TempDir(), "test.bleve"))
	require.NoError(t, err)
	defer idx.Close()

	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := ItemFromQueue(models.QueueItem{
		ID:          "q1",
		URL:         "https://rule34.xxx/index.php?page=post&s=view&id=1",
		FilePaths:   []string{"/data/downloads/post.jpg"},
		ContentHash: "ABCDEF0123",
		CompletedAt: &done,
		Metadata: &models.ScrapedMetadata{
			Title:       "Sunset",
			ContentType: models.ContentImage,
			Tags:        []string{"landscape", "orange"},
			Studio:      "painter",
			SourceName:  "Rule34",
		},
	})
	assert.Equal(t, "image", item.Type)
	assert.Equal(t, "/data/downloads", item.DirectoryPath)
	require.NoError(t, IndexItem(idx, item))

	res, err := SearchIndex(idx, "+tags:landscape", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "q1", res.Hits[0].ID)

	id, ok := HasContentHash(idx, "ABCDEF0123")
	assert.True(t, ok)
	assert.Equal(t, "q1", id)
	_, ok = HasContentHash(idx, "FFFF")
	assert.False(t, ok)

	require.NoError(t, DeleteItem(idx, "q1"))
	res, err = SearchIndex(idx, "sunset", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestItemFromQueuePrefersEditedMetadata(t *testing.T) {
	item := ItemFromQueue(models.QueueItem{
		ID:             "q1",
		Metadata:       &models.ScrapedMetadata{Title: "scraped"},
		EditedMetadata: &models.ScrapedMetadata{Title: "edited"},
	})
	assert.Equal(t, "edited", item.Title)
}

func TestEntityCandidates(t *testing.T) {
	x, err := NewEntityIndex()
	require.NoError(t, err)
	defer x.Close()

	require.NoError(t, x.Add(
		models.Entity{ID: "1", Kind: models.EntityPerformer, Name: "Jane Doe", Aliases: []string{"jdoe"}},
		models.Entity{ID: "2", Kind: models.EntityPerformer, Name: "John Smith"},
		models.Entity{ID: "3", Kind: models.EntityTag, Name: "Jane"},
	))
	assert.Equal(t, 3, x.Len())

	got, err := x.Candidates(models.EntityPerformer, "jane doe", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "1", got[0].ID)
	for _, e := range got {
		assert.Equal(t, models.EntityPerformer, e.Kind)
	}

	got, err = x.Candidates(models.EntityPerformer, "jdoe", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "1", got[0].ID)

	got, err = x.Candidates(models.EntityPerformer, "jonh smith", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "2", got[0].ID)
}
