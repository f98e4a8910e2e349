package queue

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-stash-downloader/internal/database"
	"go-stash-downloader/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	items []models.QueueItem
	saves int
}

func (m *memStore) LoadQueue() ([]models.QueueItem, error) { return m.items, nil }

func (m *memStore) SaveQueue(items []models.QueueItem) error {
	m.items = items
	m.saves++
	return nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestAddRejectsDuplicateURL(t *testing.T) {
	q := New(nil)
	id, ok := q.Add("https://example.com/a", nil)
	require.True(t, ok)
	require.NotEmpty(t, id)

	id2, ok := q.Add("https://example.com/a", nil)
	assert.False(t, ok)
	assert.Empty(t, id2)
	assert.Equal(t, 1, q.Len())

	item, found := q.Get(id)
	require.True(t, found)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.False(t, item.AddedAt.IsZero())
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	items := []models.QueueItem{
		{ID: "1", URL: "u1", Status: models.StatusPending},
		{ID: "2", URL: "u2", Status: models.StatusComplete},
	}
	snapshot := append([]models.QueueItem(nil), items...)

	next := Reduce(items, Action{Kind: ActionUpdate, ID: "1", Update: Patch{Status: Ptr(models.StatusFailed)}.Apply})
	assert.Equal(t, snapshot, items)
	assert.Equal(t, models.StatusFailed, next[0].Status)

	next = Reduce(items, Action{Kind: ActionClearCompleted})
	assert.Len(t, next, 1)
	assert.Len(t, items, 2)

	unchanged := Reduce(items, Action{Kind: ActionRemove, ID: "missing"})
	assert.Same(t, &items[0], &unchanged[0])
}

func TestUpdateKeepsID(t *testing.T) {
	items := []models.QueueItem{{ID: "1", URL: "u1"}}
	next := Reduce(items, Action{Kind: ActionUpdate, ID: "1", Update: func(it models.QueueItem) models.QueueItem {
		it.ID = "other"
		return it
	}})
	assert.Equal(t, "1", next[0].ID)
}

func TestAppendLogDoesNotShareSlice(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := models.QueueItem{ID: "1", Logs: make([]models.LogEntry, 1, 4)}

	a := WithLog(models.LevelInfo, "a", now)(base)
	b := WithLog(models.LevelInfo, "b", now)(base)
	assert.Len(t, base.Logs, 1)
	assert.Equal(t, "a", a.Logs[1].Message)
	assert.Equal(t, "b", b.Logs[1].Message)
}

func TestQueueMutationsAndStats(t *testing.T) {
	store := &memStore{}
	q := New(store)

	a, _ := q.Add("https://a", nil)
	b, _ := q.Add("https://b", nil)
	c, _ := q.Add("https://c", nil)

	require.True(t, q.Update(a, Patch{Status: Ptr(models.StatusComplete)}))
	require.True(t, q.Update(b, Patch{Status: Ptr(models.StatusFailed), Error: Ptr("boom")}))
	require.True(t, q.AppendLog(c, models.LevelInfo, "queued"))
	assert.False(t, q.Update("missing", Patch{Status: Ptr(models.StatusComplete)}))

	stats := q.Stats()
	assert.Equal(t, models.QueueStats{Total: 3, Pending: 1, Complete: 1, Failed: 1}, stats)

	item, _ := q.Get(c)
	require.Len(t, item.Logs, 1)
	assert.Equal(t, "queued", item.Logs[0].Message)

	assert.Equal(t, 1, q.ClearCompleted())
	assert.Equal(t, 2, q.Len())

	require.True(t, q.Retry(b))
	item, _ = q.Get(b)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Empty(t, item.Error)
	assert.Equal(t, []string{b, c}, q.Pending())

	require.True(t, q.Remove(b))
	assert.False(t, q.Remove(b))

	q.ClearAll()
	assert.Zero(t, q.Len())
	assert.Empty(t, store.items)
	assert.Positive(t, store.saves)
}

func TestSubscribersSeeEveryChange(t *testing.T) {
	q := New(nil)
	var events []Event
	unsubscribe := q.Subscribe(func(e Event) { events = append(events, e) })

	id, _ := q.Add("https://a", nil)
	q.Update(id, Patch{Status: Ptr(models.StatusDownloading)})
	q.Remove(id)

	require.Len(t, events, 3)
	assert.Equal(t, EventAdded, events[0].Type)
	assert.Equal(t, 1, events[0].Stats.Pending)
	assert.Equal(t, EventUpdated, events[1].Type)
	assert.Equal(t, models.StatusDownloading, events[1].Item.Status)
	assert.Equal(t, EventRemoved, events[2].Type)
	assert.Equal(t, 0, events[2].Stats.Total)

	unsubscribe()
	q.Add("https://b", nil)
	assert.Len(t, events, 3)
}

func TestEncodeUsesTaggedDates(t *testing.T) {
	added := time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC)
	data, err := Encode([]models.QueueItem{{ID: "1", URL: "u", Status: models.StatusPending, AddedAt: added}})
	require.NoError(t, err)

	var raw []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{"__type":"Date","value":1714564800123}`, string(raw[0]["addedAt"]))
}

func TestCodecRoundTripPreservesDates(t *testing.T) {
	added := time.Date(2024, 5, 1, 12, 0, 0, 123_456_789, time.UTC)
	started := added.Add(time.Minute)
	items := []models.QueueItem{{
		ID:        "1",
		URL:       "https://a",
		Status:    models.StatusDownloading,
		AddedAt:   added,
		StartedAt: &started,
		Progress:  &models.Progress{BytesDownloaded: 10, TotalBytes: 20, Percentage: 50, LastActivity: started},
		Logs:      []models.LogEntry{{Level: models.LevelInfo, Message: "hi", Timestamp: added}},
		Metadata:  &models.ScrapedMetadata{URL: "https://a", Title: "A", ContentType: models.ContentImage},
	}}

	data, err := Encode(items)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.True(t, got[0].AddedAt.Equal(added.Truncate(time.Millisecond)))
	require.NotNil(t, got[0].StartedAt)
	assert.True(t, got[0].StartedAt.Equal(started.Truncate(time.Millisecond)))
	assert.Nil(t, got[0].CompletedAt)
	assert.True(t, got[0].Logs[0].Timestamp.Equal(added.Truncate(time.Millisecond)))
	assert.Equal(t, "A", got[0].Metadata.Title)
	assert.EqualValues(t, 50, got[0].Progress.Percentage)
}

func TestDecodeAcceptsPlainDateStrings(t *testing.T) {
	got, err := Decode([]byte(`[{"id":"1","url":"u","status":"pending","addedAt":"2024-05-01T12:00:00Z","startedAt":null}]`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), got[0].AddedAt.UTC())
	assert.Nil(t, got[0].StartedAt)
}

func TestRecoverInterruptedItems(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-20 * time.Minute)
	fresh := now.Add(-5 * time.Minute)
	progress := &models.Progress{Percentage: 40}

	items := []models.QueueItem{
		{ID: "stale", Status: models.StatusDownloading, StartedAt: &stale, Progress: progress},
		{ID: "fresh", Status: models.StatusProcessing, StartedAt: &fresh, Progress: progress},
		{ID: "nostart", Status: models.StatusDownloading},
		{ID: "done", Status: models.StatusComplete, Progress: progress},
	}

	got := Recover(items, now, DefaultStaleAfter)

	assert.Equal(t, models.StatusPending, got[0].Status)
	assert.Equal(t, InterruptedMessage, got[0].Error)
	assert.Nil(t, got[0].Progress)
	require.Len(t, got[0].Logs, 1)
	assert.Equal(t, models.LevelWarning, got[0].Logs[0].Level)

	assert.Equal(t, models.StatusProcessing, got[1].Status)
	assert.Nil(t, got[1].Progress)
	assert.Empty(t, got[1].Error)

	assert.Equal(t, models.StatusPending, got[2].Status)
	assert.Equal(t, InterruptedMessage, got[2].Error)

	assert.Equal(t, progress, got[3].Progress)
	assert.Equal(t, models.StatusDownloading, items[0].Status)
}

func TestLoadRecoversWithoutSaving(t *testing.T) {
	now := time.Now()
	stale := now.Add(-time.Hour)
	store := &memStore{items: []models.QueueItem{{ID: "1", URL: "u", Status: models.StatusDownloading, StartedAt: &stale}}}

	q, err := Load(store, DefaultStaleAfter)
	require.NoError(t, err)
	assert.Zero(t, store.saves)

	item, ok := q.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestDBStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := database.Open(path)
	require.NoError(t, err)

	empty, err := NewDBStore(db).LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, empty)

	q := New(NewDBStore(db))
	q.SetClock(fixedClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	id, ok := q.Add("https://rule34.xxx/index.php?page=post&s=view&id=1", &models.ScrapedMetadata{Title: "Post 1"})
	require.True(t, ok)
	require.NoError(t, db.Close())

	db, err = database.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q2, err := Load(NewDBStore(db), DefaultStaleAfter)
	require.NoError(t, err)
	item, ok := q2.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Post 1", item.Metadata.Title)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), item.AddedAt.UTC())
}

// slowStore delays the first save after arm is set, letting later mutations race it.
type slowStore struct {
	mu    sync.Mutex
	items []models.QueueItem
	arm   atomic.Bool
}

func (s *slowStore) LoadQueue() ([]models.QueueItem, error) { return nil, nil }

func (s *slowStore) SaveQueue(items []models.QueueItem) error {
	if s.arm.CompareAndSwap(true, false) {
		time.Sleep(100 * time.Millisecond)
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

func (s *slowStore) status(id string) models.DownloadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it.Status
		}
	}
	return ""
}

func TestConcurrentMutationsPersistInOrder(t *testing.T) {
	store := &slowStore{}
	q := New(store)
	a, _ := q.Add("https://example.com/a", nil)
	b, _ := q.Add("https://example.com/b", nil)

	store.arm.Store(true)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Update(a, Patch{Status: Ptr(models.StatusDownloading)})
	}()
	time.Sleep(20 * time.Millisecond)

	_, ok := q.Get(a)
	assert.True(t, ok, "reads are not blocked by a slow save")

	q.Update(b, Patch{Status: Ptr(models.StatusComplete)})
	wg.Wait()

	item, _ := q.Get(b)
	assert.Equal(t, models.StatusComplete, item.Status)
	assert.Equal(t, models.StatusComplete, store.status(b))
	assert.Equal(t, models.StatusDownloading, store.status(a))
}
