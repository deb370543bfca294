package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hubspaced/internal/db"
)

type token struct {
	Access  string    `json:"access"`
	Expires time.Time `json:"expires"`
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// buckets returns one bucket of each kind sharing a controllable clock.
func buckets(t *testing.T, now *time.Time) map[string]Bucket {
	sq := NewSQLiteBucket(openTestDB(t).DB, "auth")
	sq.now = func() time.Time { return *now }
	mem := NewMemoryBucket("auth")
	mem.now = func() time.Time { return *now }
	return map[string]Bucket{"sqlite": sq, "memory": mem}
}

func TestBucketPutGet(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for name, b := range buckets(t, &now) {
		t.Run(name, func(t *testing.T) {
			in := token{Access: "abc", Expires: now.Add(time.Hour).UTC()}
			require.NoError(t, b.Put("token", in, 0))

			var out token
			found, err := b.Get("token", &out)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, in.Access, out.Access)
			assert.True(t, in.Expires.Equal(out.Expires))

			found, err = b.Get("missing", &out)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestBucketTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for name, b := range buckets(t, &now) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put("short", "v", time.Minute))
			require.NoError(t, b.Put("long", "v", time.Hour))

			keys, err := b.Keys()
			require.NoError(t, err)
			assert.Equal(t, []string{"long", "short"}, keys)

			now = now.Add(2 * time.Minute)
			var s string
			found, err := b.Get("short", &s)
			require.NoError(t, err)
			assert.False(t, found)

			found, err = b.Get("long", &s)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "v", s)
		})
	}
}

func TestBucketDelete(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for name, b := range buckets(t, &now) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put("k", 1, 0))

			existed, err := b.Delete("k")
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = b.Delete("k")
			require.NoError(t, err)
			assert.False(t, existed)
		})
	}
}

func TestManagerReturnsSameBucket(t *testing.T) {
	m := NewManager(nil)
	a := m.Bucket("auth")
	assert.Same(t, a, m.Bucket("auth"))
	assert.IsType(t, &MemoryBucket{}, a)

	persistent := NewManager(openTestDB(t).DB)
	assert.IsType(t, &SQLiteBucket{}, persistent.Bucket("auth"))
}

func TestMemoryCleanupExpired(t *testing.T) {
	now := time.Unix(100, 0)
	b := NewMemoryBucket("x")
	b.now = func() time.Time { return now }

	require.NoError(t, b.Put("a", 1, time.Second))
	require.NoError(t, b.Put("b", 1, 0))
	now = now.Add(time.Minute)

	assert.Equal(t, 1, b.CleanupExpired())
	keys, _ := b.Keys()
	assert.Equal(t, []string{"b"}, keys)
}
