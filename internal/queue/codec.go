package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go-stash-downloader/internal/models"
)

// TaggedDate serializes as {"__type":"Date","value":<epoch ms>} so that dates survive a
// round trip as dates. Decoding also accepts RFC 3339 strings and null.
type TaggedDate struct {
	time.Time
}

type taggedDateJSON struct {
	Type  string `json:"__type"`
	Value int64  `json:"value"`
}

func (d TaggedDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(taggedDateJSON{Type: "Date", Value: d.UnixMilli()})
}

func (d *TaggedDate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		d.Time = time.Time{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var t time.Time
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		d.Time = t
		return nil
	}
	var tagged taggedDateJSON
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	if tagged.Type != "Date" {
		return fmt.Errorf("unexpected tagged value type %q", tagged.Type)
	}
	d.Time = time.UnixMilli(tagged.Value).UTC()
	return nil
}

func tag(t time.Time) TaggedDate { return TaggedDate{t} }

func tagPtr(t *time.Time) *TaggedDate {
	if t == nil {
		return nil
	}
	return &TaggedDate{*t}
}

func untagPtr(d *TaggedDate) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

type storedProgress struct {
	BytesDownloaded int64      `json:"bytesDownloaded"`
	TotalBytes      int64      `json:"totalBytes"`
	Percentage      float64    `json:"percentage"`
	Speed           float64    `json:"speed"`
	TimeRemaining   float64    `json:"timeRemaining"`
	LastActivity    TaggedDate `json:"lastActivity"`
}

type storedLog struct {
	Level     string     `json:"level"`
	Message   string     `json:"message"`
	Timestamp TaggedDate `json:"timestamp"`
}

type storedItem struct {
	ID             string                  `json:"id"`
	URL            string                  `json:"url"`
	ContentType    models.ContentType      `json:"contentType,omitempty"`
	Status         models.DownloadStatus   `json:"status"`
	Metadata       *models.ScrapedMetadata `json:"metadata,omitempty"`
	EditedMetadata *models.ScrapedMetadata `json:"editedMetadata,omitempty"`
	Progress       *storedProgress         `json:"progress,omitempty"`
	AddedAt        TaggedDate              `json:"addedAt"`
	StartedAt      *TaggedDate             `json:"startedAt,omitempty"`
	CompletedAt    *TaggedDate             `json:"completedAt,omitempty"`
	Logs           []storedLog             `json:"logs,omitempty"`
	Error          string                  `json:"error,omitempty"`
	JobID          string                  `json:"jobId,omitempty"`
	FilePaths      []string                `json:"filePaths,omitempty"`
	ContentHash    string                  `json:"contentHash,omitempty"`
}

func toStored(it models.QueueItem) storedItem {
	s := storedItem{
		ID:             it.ID,
		URL:            it.URL,
		ContentType:    it.ContentType,
		Status:         it.Status,
		Metadata:       it.Metadata,
		EditedMetadata: it.EditedMetadata,
		AddedAt:        tag(it.AddedAt),
		StartedAt:      tagPtr(it.StartedAt),
		CompletedAt:    tagPtr(it.CompletedAt),
		Error:          it.Error,
		JobID:          it.JobID,
		FilePaths:      it.FilePaths,
		ContentHash:    it.ContentHash,
	}
	if p := it.Progress; p != nil {
		s.Progress = &storedProgress{
			BytesDownloaded: p.BytesDownloaded,
			TotalBytes:      p.TotalBytes,
			Percentage:      p.Percentage,
			Speed:           p.Speed,
			TimeRemaining:   p.TimeRemaining,
			LastActivity:    tag(p.LastActivity),
		}
	}
	for _, l := range it.Logs {
		s.Logs = append(s.Logs, storedLog{Level: l.Level, Message: l.Message, Timestamp: tag(l.Timestamp)})
	}
	return s
}

func fromStored(s storedItem) models.QueueItem {
	it := models.QueueItem{
		ID:             s.ID,
		URL:            s.URL,
		ContentType:    s.ContentType,
		Status:         s.Status,
		Metadata:       s.Metadata,
		EditedMetadata: s.EditedMetadata,
		AddedAt:        s.AddedAt.Time,
		StartedAt:      untagPtr(s.StartedAt),
		CompletedAt:    untagPtr(s.CompletedAt),
		Error:          s.Error,
		JobID:          s.JobID,
		FilePaths:      s.FilePaths,
		ContentHash:    s.ContentHash,
	}
	if p := s.Progress; p != nil {
		it.Progress = &models.Progress{
			BytesDownloaded: p.BytesDownloaded,
			TotalBytes:      p.TotalBytes,
			Percentage:      p.Percentage,
			Speed:           p.Speed,
			TimeRemaining:   p.TimeRemaining,
			LastActivity:    p.LastActivity.Time,
		}
	}
	for _, l := range s.Logs {
		it.Logs = append(it.Logs, models.LogEntry{Level: l.Level, Message: l.Message, Timestamp: l.Timestamp.Time})
	}
	return it
}

// Encode serializes items with tagged dates.
func Encode(items []models.QueueItem) ([]byte, error) {
	stored := make([]storedItem, len(items))
	for i, it := range items {
		stored[i] = toStored(it)
	}
	return json.Marshal(stored)
}

// Decode parses the output of Encode.
func Decode(data []byte) ([]models.QueueItem, error) {
	var stored []storedItem
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decoding queue: %w", err)
	}
	items := make([]models.QueueItem, len(stored))
	for i, s := range stored {
		items[i] = fromStored(s)
	}
	return items, nil
}
