package queue

import (
	"errors"
	"fmt"

	"go-stash-downloader/internal/database"
	"go-stash-downloader/internal/models"
)

// StorageKey is the database key holding the serialized queue.
const StorageKey = "download_queue"

// Store persists the whole queue as one snapshot.
type Store interface {
	LoadQueue() ([]models.QueueItem, error)
	SaveQueue(items []models.QueueItem) error
}

// DBStore keeps the queue snapshot in the bitcask database.
type DBStore struct {
	db *database.DB
}

func NewDBStore(db *database.DB) *DBStore {
	return &DBStore{db: db}
}

// LoadQueue returns an empty queue when nothing has been saved yet.
func (s *DBStore) LoadQueue() ([]models.QueueItem, error) {
	data, err := s.db.Get([]byte(StorageKey))
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading queue: %w", err)
	}
	return Decode(data)
}

func (s *DBStore) SaveQueue(items []models.QueueItem) error {
	data, err := Encode(items)
	if err != nil {
		return fmt.Errorf("encoding queue: %w", err)
	}
	if err := s.db.Put([]byte(StorageKey), data); err != nil {
		return fmt.Errorf("saving queue: %w", err)
	}
	return nil
}
