package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryBucket is an in-memory bucket (not persisted).
type MemoryBucket struct {
	name    string
	entries map[string]*memoryEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// Put saves a value with the given key.
func (b *MemoryBucket) Put(key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	entry := &memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = b.now().Add(ttl)
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
	return nil
}

// Get retrieves a value by key.
func (b *MemoryBucket) Get(key string, out any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return false, nil
	}
	if entry.expired(b.now()) {
		delete(b.entries, key)
		return false, nil
	}
	if err := json.Unmarshal(entry.data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// Keys returns all non-expired keys in the bucket.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.now()
	keys := make([]string, 0, len(b.entries))
	for k, e := range b.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// CleanupExpired removes expired entries and returns how many were removed.
func (b *MemoryBucket) CleanupExpired() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	count := 0
	for k, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, k)
			count++
		}
	}
	return count
}
