// Package host models the accessory side of the bridge: the persistent
// accessory registry and the runtime that dispatches characteristic reads
// and writes to bound accessories.
package host

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dokzlo13/hubspaced/internal/device"
)

var (
	ErrUnknownAccessory = errors.New("unknown accessory")
	ErrAlreadyExists    = errors.New("accessory already registered")
)

// Accessory is a registered host accessory. ID and CreatedAt are its host
// identity and never change once registered; Device is the payload replaced
// on every update.
type Accessory struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"displayName"`
	Device      device.LogicalDevice `json:"device"`
	Version     int64                `json:"version"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// Registry stores accessories across restarts.
type Registry interface {
	Register(ctx context.Context, id, name string, dev device.LogicalDevice) (Accessory, error)
	Update(ctx context.Context, acc Accessory) (Accessory, error)
	Unregister(ctx context.Context, acc Accessory) error
	ListCached(ctx context.Context) ([]Accessory, error)
}

// MemoryRegistry is a Registry that lives only as long as the process.
type MemoryRegistry struct {
	mu    sync.RWMutex
	items map[string]Accessory
	now   func() time.Time
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		items: make(map[string]Accessory),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRegistry) Register(_ context.Context, id, name string, dev device.LogicalDevice) (Accessory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; ok {
		return Accessory{}, ErrAlreadyExists
	}
	now := r.now()
	acc := Accessory{
		ID:          id,
		DisplayName: name,
		Device:      dev,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.items[id] = acc
	return acc, nil
}

func (r *MemoryRegistry) Update(_ context.Context, acc Accessory) (Accessory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[acc.ID]
	if !ok {
		return Accessory{}, ErrUnknownAccessory
	}
	cur.DisplayName = acc.DisplayName
	cur.Device = acc.Device
	cur.Version++
	cur.UpdatedAt = r.now()
	r.items[acc.ID] = cur
	return cur, nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, acc Accessory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[acc.ID]; !ok {
		return ErrUnknownAccessory
	}
	delete(r.items, acc.ID)
	return nil
}

// ListCached returns all accessories ordered by id.
func (r *MemoryRegistry) ListCached(_ context.Context) ([]Accessory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Accessory, 0, len(r.items))
	for _, acc := range r.items {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
