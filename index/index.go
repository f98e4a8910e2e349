package index

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-stash-downloader/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

const defaultIndexPath = "stash-downloader.bleve"

// Item is one completed download. Fields are searchable by their JSON names
// (e.g. '+studio:someone' or '+tags:tagname').
type Item struct {
	ID            string    `json:"id"`   // queue item id
	Type          string    `json:"type"` // video, image or gallery
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url"`
	SourceName    string    `json:"sourceName,omitempty"`
	SourceID      string    `json:"sourceId,omitempty"`
	FilePath      string    `json:"filePath,omitempty"`
	FilePaths     []string  `json:"filePaths,omitempty"`
	DirectoryPath string    `json:"directoryPath,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	Performers    []string  `json:"performers,omitempty"`
	Studio        string    `json:"studio,omitempty"`
	Rating        string    `json:"rating,omitempty"`
	ContentHash   string    `json:"contentHash,omitempty"`
	DownloadedAt  time.Time `json:"downloadedAt,omitempty"`
}

// ItemFromQueue builds the index document for a completed queue item.
func ItemFromQueue(q models.QueueItem) Item {
	item := Item{
		ID:          q.ID,
		URL:         q.URL,
		FilePaths:   q.FilePaths,
		ContentHash: q.ContentHash,
	}
	if q.CompletedAt != nil {
		item.DownloadedAt = *q.CompletedAt
	}
	if len(q.FilePaths) > 0 {
		item.FilePath = q.FilePaths[0]
		item.DirectoryPath = filepath.Dir(q.FilePaths[0])
	}
	if m := q.EffectiveMetadata(); m != nil {
		item.Type = strings.ToLower(string(m.ContentType))
		item.Title = m.Title
		item.Description = m.Description
		item.SourceName = m.SourceName
		item.SourceID = m.SourceID
		item.Tags = m.Tags
		item.Performers = m.Performers
		item.Studio = m.Studio
		item.Rating = m.Rating
	}
	return item
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// DeleteItem removes an item from the index.
func DeleteItem(index bleve.Index, id string) error {
	return index.Delete(id)
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(index bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	req.Fields = []string{"*"}
	if size > 0 {
		req.Size = size
	}
	return index.Search(req)
}

// HasContentHash reports whether a completed download with the same content is indexed.
func HasContentHash(index bleve.Index, hash string) (string, bool) {
	if hash == "" {
		return "", false
	}
	q := bleve.NewTermQuery(strings.ToLower(hash))
	q.SetField("contentHash")
	res, err := index.Search(bleve.NewSearchRequestOptions(q, 1, 0, false))
	if err != nil || len(res.Hits) == 0 {
		return "", false
	}
	return res.Hits[0].ID, true
}

// DeleteIndex removes the index directory.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
