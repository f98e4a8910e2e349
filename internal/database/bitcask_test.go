package database

import (
	"crypto/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)

	value := []byte(strings.Repeat("compressible ", 100))
	require.NoError(t, db.Put([]byte("k"), value))
	assert.True(t, db.Has([]byte("k")))

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	var v map[string]string
	assert.ErrorIs(t, db.GetJSON("missing", &v), ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Delete([]byte("k")))
	assert.False(t, db.Has([]byte("k")))
	assert.NoError(t, db.Delete([]byte("k")))
}

func TestJSONHelpers(t *testing.T) {
	db := openTestDB(t)
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, db.PutJSON("p", payload{Name: "a", Count: 2}))

	var got payload
	require.NoError(t, db.GetJSON("p", &got))
	assert.Equal(t, payload{Name: "a", Count: 2}, got)
}

func TestDecompressPassesThroughPlainValues(t *testing.T) {
	got, err := decompressIfGzipped([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)
}

func randomValue(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestMergeReclaimsOverwrittenValues(t *testing.T) {
	db := openTestDB(t)
	db.mergeThreshold = 0

	for i := 0; i < 100; i++ {
		require.NoError(t, db.Put([]byte("queue"), randomValue(t, 16<<10)))
	}
	last := randomValue(t, 16<<10)
	require.NoError(t, db.Put([]byte("queue"), last))

	before, err := db.Size()
	require.NoError(t, err)
	require.Greater(t, before, int64(100*16<<10))

	require.NoError(t, db.Merge())

	after, err := db.Size()
	require.NoError(t, err)
	assert.Less(t, after, before/10)

	got, err := db.Get([]byte("queue"))
	require.NoError(t, err)
	assert.Equal(t, last, got)
}

func TestPutMergesPastThreshold(t *testing.T) {
	db := openTestDB(t)
	db.mergeThreshold = 256 << 10

	for i := 0; i < 200; i++ {
		require.NoError(t, db.Put([]byte("queue"), randomValue(t, 16<<10)))
	}

	size, err := db.Size()
	require.NoError(t, err)
	assert.Less(t, size, int64(200*16<<10)/4, "stale snapshots are compacted while writing")
	assert.True(t, db.Has([]byte("queue")))
}

func TestCloseMergesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := Open(path)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		require.NoError(t, db.Put([]byte("queue"), randomValue(t, 16<<10)))
	}
	last := randomValue(t, 16<<10)
	require.NoError(t, db.Put([]byte("queue"), last))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	size, err := db.Size()
	require.NoError(t, err)
	assert.Less(t, size, int64(50*16<<10)/4)

	got, err := db.Get([]byte("queue"))
	require.NoError(t, err)
	assert.Equal(t, last, got)
}
