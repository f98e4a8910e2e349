package queue

import (
	"slices"
	"strings"
	"sync"
	"time"

	"go-stash-downloader/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event types delivered to subscribers.
const (
	EventAdded   = "added"
	EventUpdated = "updated"
	EventRemoved = "removed"
	EventCleared = "cleared"
)

// Event describes one queue change. Item is set for added/updated events.
type Event struct {
	Type  string            `json:"type"`
	ID    string            `json:"id,omitempty"`
	Item  *models.QueueItem `json:"item,omitempty"`
	Stats models.QueueStats `json:"stats"`
}

// Queue owns the ordered list of items. Every mutation goes through Reduce, replaces the
// slice, persists the snapshot and notifies subscribers.
type Queue struct {
	mu     sync.RWMutex
	saveMu sync.Mutex // orders reduce+save so snapshots reach the store in mutation order
	items  []models.QueueItem
	store  Store
	now    func() time.Time
	subsMu sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New creates an empty queue. store may be nil for an in-memory queue.
func New(store Store) *Queue {
	return &Queue{
		items: []models.QueueItem{},
		store: store,
		now:   time.Now,
		subs:  make(map[int]func(Event)),
	}
}

// Load restores the queue from store and runs interruption recovery. Loading does not
// write the snapshot back.
func Load(store Store, staleAfter time.Duration) (*Queue, error) {
	q := New(store)
	if store == nil {
		return q, nil
	}
	items, err := store.LoadQueue()
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	q.items = Recover(items, q.now(), staleAfter)
	log.Debugf("Loaded %d queue items", len(q.items))
	return q, nil
}

// SetClock overrides the time source.
func (q *Queue) SetClock(now func() time.Time) { q.now = now }

// dispatch applies a and, if anything changed, persists and returns the new slice.
func (q *Queue) dispatch(a Action) (changed bool) {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.Lock()
	prev := q.items
	next := Reduce(prev, a)
	changed = !sameSlice(prev, next)
	if changed {
		q.items = next
	}
	q.mu.Unlock()

	if changed && q.store != nil {
		if err := q.store.SaveQueue(next); err != nil {
			log.WithError(err).Error("Failed to persist queue")
		}
	}
	return changed
}

func sameSlice(a, b []models.QueueItem) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// Add queues url. It returns ("", false) when the URL is already queued.
func (q *Queue) Add(url string, metadata *models.ScrapedMetadata) (string, bool) {
	return q.AddWithHint(url, "", metadata)
}

// AddWithHint is Add with a content-type hint for scraper selection.
func (q *Queue) AddWithHint(url string, hint models.ContentType, metadata *models.ScrapedMetadata) (string, bool) {
	url = strings.TrimSpace(url)
	item := models.QueueItem{
		ID:          uuid.NewString(),
		URL:         url,
		ContentType: hint,
		Status:      models.StatusPending,
		Metadata:    metadata,
		AddedAt:     q.now(),
	}
	if !q.dispatch(Action{Kind: ActionAdd, Item: item}) {
		log.WithField("url", url).Info("URL is already in the queue")
		return "", false
	}
	q.publish(Event{Type: EventAdded, ID: item.ID, Item: &item})
	return item.ID, true
}

// UpdateFunc replaces the item with fn(item). Returns false if id is unknown.
func (q *Queue) UpdateFunc(id string, fn func(models.QueueItem) models.QueueItem) bool {
	if !q.dispatch(Action{Kind: ActionUpdate, ID: id, Update: fn}) {
		return false
	}
	if item, ok := q.Get(id); ok {
		q.publish(Event{Type: EventUpdated, ID: id, Item: &item})
	}
	return true
}

// Update merges a flat patch onto the item.
func (q *Queue) Update(id string, p Patch) bool {
	return q.UpdateFunc(id, p.Apply)
}

// AppendLog adds a log entry to the item.
func (q *Queue) AppendLog(id, level, message string) bool {
	return q.UpdateFunc(id, WithLog(level, message, q.now()))
}

// Retry resets a failed or interrupted item to Pending.
func (q *Queue) Retry(id string) bool {
	return q.UpdateFunc(id, func(it models.QueueItem) models.QueueItem {
		it.Status = models.StatusPending
		it.Error = ""
		it.Progress = nil
		it.StartedAt = nil
		it.CompletedAt = nil
		it.JobID = ""
		return it
	})
}

func (q *Queue) Remove(id string) bool {
	if !q.dispatch(Action{Kind: ActionRemove, ID: id}) {
		return false
	}
	q.publish(Event{Type: EventRemoved, ID: id})
	return true
}

// ClearCompleted removes all complete items and returns how many were removed.
func (q *Queue) ClearCompleted() int {
	before := q.Len()
	if !q.dispatch(Action{Kind: ActionClearCompleted}) {
		return 0
	}
	q.publish(Event{Type: EventCleared})
	return before - q.Len()
}

func (q *Queue) ClearAll() {
	if q.dispatch(Action{Kind: ActionClearAll}) {
		q.publish(Event{Type: EventCleared})
	}
}

// Items returns a copy of the current items in order.
func (q *Queue) Items() []models.QueueItem {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.items)
}

// Pending returns the ids of pending items in submission order.
func (q *Queue) Pending() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var ids []string
	for _, it := range q.items {
		if it.Status == models.StatusPending {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func (q *Queue) Get(id string) (models.QueueItem, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if i := indexOf(q.items, id); i >= 0 {
		return q.items[i], true
	}
	return models.QueueItem{}, false
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Stats is recomputed on every call.
func (q *Queue) Stats() models.QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats(q.items)
}

// Subscribe registers fn for every change and returns a function that removes it.
// fn runs synchronously on the mutating goroutine and must not block.
func (q *Queue) Subscribe(fn func(Event)) (unsubscribe func()) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	id := q.nextID
	q.nextID++
	q.subs[id] = fn
	return func() {
		q.subsMu.Lock()
		defer q.subsMu.Unlock()
		delete(q.subs, id)
	}
}

func (q *Queue) publish(e Event) {
	e.Stats = q.Stats()
	q.subsMu.Lock()
	subs := make([]func(Event), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.subsMu.Unlock()
	for _, fn := range subs {
		fn(e)
	}
}
