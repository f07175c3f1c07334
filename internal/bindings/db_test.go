package bindings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDBExecAndQuery(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, avatar BLOB)", nil)
	require.NoError(t, err)

	res, err := db.Exec("INSERT INTO users (name, avatar) VALUES (?, ?)", []any{"ada", []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Changes)
	assert.Equal(t, int64(1), res.LastRowID)

	rows, err := db.Query("SELECT id, name, avatar FROM users WHERE name = ?", []any{"ada"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, "png", rows[0]["avatar"])

	rows, err = db.Query("SELECT * FROM users WHERE name = ?", []any{"nobody"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestDBBlocksAttach(t *testing.T) {
	db := openTestDB(t)
	other := filepath.Join(t.TempDir(), "other.db")

	_, err := db.Exec("ATTACH DATABASE '"+other+"' AS other", nil)
	assert.Error(t, err)
	_, err = db.Exec("  vacuum into '"+other+"'", nil)
	assert.Error(t, err)
	_, err = db.Query("detach other", nil)
	assert.Error(t, err)
}

func TestDBFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)", nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table'", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kv", rows[0]["name"])
}

func TestDecodeParams(t *testing.T) {
	p, err := decodeParams("")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = decodeParams(`[1, "a", null]`)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), "a", nil}, p)

	_, err = decodeParams("[")
	assert.Error(t, err)
}
