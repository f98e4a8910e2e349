package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// maxValueSize bounds a single stored value. The queue snapshot is one value.
const maxValueSize = 32 << 20

// defaultMergeThreshold is how much dead data may pile up before Put compacts the store.
const defaultMergeThreshold = 16 << 20

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db             *bitcask.Bitcask
	mergeThreshold int64
	sync.RWMutex   // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path, bitcask.WithMaxValueSize(maxValueSize))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("Database opened successfully at %s", path)
	return &DB{db: dbInstance, mergeThreshold: defaultMergeThreshold}, nil
}

// Close compacts and then closes the database connection.
func (d *DB) Close() error {
	log.Debug("Closing database...")
	d.Lock()
	defer d.Unlock()
	if d.db.Reclaimable() > 0 {
		if err := d.db.Merge(); err != nil {
			log.WithError(err).Warn("Failed to merge database before closing")
		}
	}
	return d.db.Close()
}

// Merge rewrites the datafiles keeping only live values.
func (d *DB) Merge() error {
	d.Lock()
	defer d.Unlock()
	return d.merge()
}

func (d *DB) merge() error {
	before := d.db.Reclaimable()
	if err := d.db.Merge(); err != nil {
		if errors.Is(err, bitcask.ErrMergeInProgress) {
			return nil
		}
		return fmt.Errorf("error merging database: %w", err)
	}
	log.Debugf("Database merged, reclaimed about %d bytes", before)
	return nil
}

// Size reports the on-disk size of the datafiles.
func (d *DB) Size() (int64, error) {
	d.RLock()
	defer d.RUnlock()
	stats, err := d.db.Stats()
	if err != nil {
		return 0, err
	}
	return stats.Size, nil
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	defer d.Unlock()
	if err := d.db.Put(key, compressedValue); err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	// Every queue save rewrites the whole snapshot, so stale copies pile up fast.
	if d.mergeThreshold > 0 && d.db.Reclaimable() > d.mergeThreshold {
		if err := d.merge(); err != nil {
			log.WithError(err).Warn("Failed to merge database")
		}
	}
	return nil
}

// Delete removes a key from the database. Deleting a missing key is not an error.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil && !errors.Is(err, bitcask.ErrKeyNotFound) {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// GetJSON loads the value at key into v. It returns ErrNotFound for missing keys.
func (d *DB) GetJSON(key string, v any) error {
	raw, err := d.Get([]byte(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("error unmarshalling value for key %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals v and stores it at key.
func (d *DB) PutJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshalling value for key %s: %w", key, err)
	}
	return d.Put([]byte(key), raw)
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		gReader, err := gzip.NewReader(bytes.NewReader(value))
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}

	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err = gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}
