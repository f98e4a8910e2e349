// Package settings keeps the user-editable settings blob in the database behind a
// read-through cache.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"go-stash-downloader/internal/database"
	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

// StorageKey is the database key of the settings blob.
const StorageKey = "stash-downloader-settings"

// Store caches the settings after the first read. The last write wins.
type Store struct {
	mu       sync.Mutex
	db       *database.DB
	defaults models.Settings
	cached   models.Settings
	loaded   bool
}

// NewStore returns a store that falls back to defaults when nothing has been saved.
func NewStore(db *database.DB, defaults models.Settings) *Store {
	return &Store{db: db, defaults: defaults}
}

// Get returns the cached settings, reading them from the database on first use.
func (s *Store) Get() (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.cached, nil
	}

	var stored models.Settings
	err := s.db.GetJSON(StorageKey, &stored)
	switch {
	case errors.Is(err, database.ErrNotFound):
		log.Debug("No stored settings, using defaults")
		stored = s.defaults
	case err != nil:
		return models.Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	s.cached = stored
	s.loaded = true
	return stored, nil
}

// Save persists v and updates the cache.
func (s *Store) Save(v models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.PutJSON(StorageKey, v); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	s.cached = v
	s.loaded = true
	return nil
}

// Reset drops the cache so the next Get reads the database again.
func (s *Store) Reset() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// Apply overlays non-empty settings onto cfg. Settings edited at runtime win over the
// config file for the host connection and Reddit credentials.
func Apply(cfg *models.Config, v models.Settings) {
	if v.StashURL != "" {
		cfg.StashUrl = v.StashURL
	}
	if v.APIKey != "" {
		cfg.ApiKey = v.APIKey
	}
	if v.ServerDownloadPath != "" {
		cfg.ServerDownloadPath = v.ServerDownloadPath
	}
	if v.HTTPProxy != "" {
		cfg.HttpProxy = v.HTTPProxy
	}
	if v.RedditClientID != "" {
		cfg.RedditClientID = v.RedditClientID
		cfg.RedditClientSecret = v.RedditClientSecret
		cfg.RedditUsername = v.RedditUsername
		cfg.RedditPassword = v.RedditPassword
	}
}
