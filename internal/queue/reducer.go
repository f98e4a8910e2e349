// Package queue holds the ordered download queue: a pure reducer over immutable item
// slices, persistence with tagged dates, and recovery of interrupted items.
package queue

import (
	"slices"
	"time"

	"go-stash-downloader/internal/models"
)

type ActionKind int

const (
	ActionAdd ActionKind = iota
	ActionUpdate
	ActionRemove
	ActionClearCompleted
	ActionClearAll
)

// Action is one queue mutation. Item is used by ActionAdd, ID by ActionUpdate and
// ActionRemove, Update by ActionUpdate.
type Action struct {
	Kind   ActionKind
	Item   models.QueueItem
	ID     string
	Update func(models.QueueItem) models.QueueItem
}

// Reduce applies a to items and returns the resulting slice. items is never modified;
// when nothing changes the input slice is returned as is.
func Reduce(items []models.QueueItem, a Action) []models.QueueItem {
	switch a.Kind {
	case ActionAdd:
		if indexOfURL(items, a.Item.URL) >= 0 {
			return items
		}
		out := make([]models.QueueItem, 0, len(items)+1)
		out = append(out, items...)
		return append(out, a.Item)

	case ActionUpdate:
		i := indexOf(items, a.ID)
		if i < 0 || a.Update == nil {
			return items
		}
		out := slices.Clone(items)
		next := a.Update(items[i])
		next.ID = items[i].ID
		out[i] = next
		return out

	case ActionRemove:
		if indexOf(items, a.ID) < 0 {
			return items
		}
		return filter(items, func(it models.QueueItem) bool { return it.ID != a.ID })

	case ActionClearCompleted:
		return filter(items, func(it models.QueueItem) bool { return it.Status != models.StatusComplete })

	case ActionClearAll:
		return []models.QueueItem{}
	}
	return items
}

func filter(items []models.QueueItem, keep func(models.QueueItem) bool) []models.QueueItem {
	out := make([]models.QueueItem, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func indexOf(items []models.QueueItem, id string) int {
	return slices.IndexFunc(items, func(it models.QueueItem) bool { return it.ID == id })
}

func indexOfURL(items []models.QueueItem, url string) int {
	return slices.IndexFunc(items, func(it models.QueueItem) bool { return it.URL == url })
}

// Stats counts items per status.
func Stats(items []models.QueueItem) models.QueueStats {
	s := models.QueueStats{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusDownloading:
			s.Downloading++
		case models.StatusProcessing:
			s.Processing++
		case models.StatusComplete:
			s.Complete++
		case models.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Patch is a flat partial update; nil fields are left unchanged.
type Patch struct {
	Status         *models.DownloadStatus
	Metadata       *models.ScrapedMetadata
	EditedMetadata *models.ScrapedMetadata
	Progress       *models.Progress
	ClearProgress  bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          *string
	JobID          *string
	FilePaths      []string
	ContentHash    *string
}

// Apply merges the patch shallowly onto item.
func (p Patch) Apply(item models.QueueItem) models.QueueItem {
	if p.Status != nil {
		item.Status = *p.Status
	}
	if p.Metadata != nil {
		item.Metadata = p.Metadata
	}
	if p.EditedMetadata != nil {
		item.EditedMetadata = p.EditedMetadata
	}
	if p.ClearProgress {
		item.Progress = nil
	}
	if p.Progress != nil {
		item.Progress = p.Progress
	}
	if p.StartedAt != nil {
		item.StartedAt = p.StartedAt
	}
	if p.CompletedAt != nil {
		item.CompletedAt = p.CompletedAt
	}
	if p.Error != nil {
		item.Error = *p.Error
	}
	if p.JobID != nil {
		item.JobID = *p.JobID
	}
	if p.FilePaths != nil {
		item.FilePaths = slices.Clone(p.FilePaths)
	}
	if p.ContentHash != nil {
		item.ContentHash = *p.ContentHash
	}
	return item
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

// WithLog returns an update that appends a log entry without sharing the old log slice.
func WithLog(level, message string, at time.Time) func(models.QueueItem) models.QueueItem {
	return func(item models.QueueItem) models.QueueItem {
		logs := make([]models.LogEntry, 0, len(item.Logs)+1)
		logs = append(logs, item.Logs...)
		item.Logs = append(logs, models.LogEntry{Level: level, Message: message, Timestamp: at})
		return item
	}
}
