package hubspace

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cachedStatus holds the attribute values of one device.
type cachedStatus struct {
	Attributes map[string]string
	FetchedAt  time.Time
}

// StatusCache is a pure cache of device attribute values.
// It does not fetch; the client fills it after a status read and drops an
// entry after every write to that device.
type StatusCache struct {
	mu      sync.RWMutex
	devices map[string]*cachedStatus
	ttl     time.Duration
	now     func() time.Time
}

// NewStatusCache creates a cache whose entries live for ttl.
func NewStatusCache(ttl time.Duration) *StatusCache {
	if ttl == 0 {
		ttl = 2 * time.Second
	}

	log.Info().Dur("ttl", ttl).Msg("Device status cache initialized")

	return &StatusCache{
		devices: make(map[string]*cachedStatus),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached attributes of a device, or nil if missing or stale.
func (c *StatusCache) Get(deviceID string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.devices[deviceID]
	if !ok {
		return nil
	}
	if c.now().Sub(cached.FetchedAt) > c.ttl {
		return nil
	}
	return cached.Attributes
}

// Set stores the attributes of a device.
func (c *StatusCache) Set(deviceID string, attrs map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices[deviceID] = &cachedStatus{
		Attributes: attrs,
		FetchedAt:  c.now(),
	}
}

// Invalidate removes a device from the cache.
func (c *StatusCache) Invalidate(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.devices, deviceID)
}

// Clear removes all entries.
func (c *StatusCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = make(map[string]*cachedStatus)
}
