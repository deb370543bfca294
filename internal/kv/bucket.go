// Package kv provides named key-value buckets with optional expiry, backed by
// SQLite or kept in memory. Values are stored as JSON.
package kv

import "time"

// Bucket is the interface for key-value storage operations.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// Put saves value under key. A positive ttl makes the entry expire.
	Put(key string, value any, ttl time.Duration) error

	// Get decodes the value stored under key into out. It reports false
	// when the key is missing or expired.
	Get(key string, out any) (bool, error)

	// Delete removes a key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all non-expired keys.
	Keys() ([]string, error)
}
