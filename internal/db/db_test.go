package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesSchema(t *testing.T) {
	d, err := Open(MemoryPath)
	require.NoError(t, err)
	defer d.Close()

	for _, table := range []string{"accessories", "event_ledger", "kv_store"} {
		var name string
		err := d.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubspaced.db")

	d, err := Open(path)
	require.NoError(t, err)
	_, err = d.Exec(`INSERT INTO accessories (id, display_name, payload, created_at, updated_at) VALUES ('a', 'Lamp', '{}', 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d, err = Open(path)
	require.NoError(t, err)
	defer d.Close()

	var count int
	require.NoError(t, d.QueryRow(`SELECT COUNT(*) FROM accessories`).Scan(&count))
	assert.Equal(t, 1, count)
}
