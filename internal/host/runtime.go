package host

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/device"
)

// Builder creates the accessory handler for a logical device.
type Builder func(dev device.LogicalDevice) *accessory.Accessory

// Runtime holds the accessory handlers of all bound accessories. Reads and
// writes of one accessory run one at a time.
type Runtime struct {
	build Builder

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	record  Accessory
	handler *accessory.Accessory
}

// Snapshot describes a bound accessory.
type Snapshot struct {
	Accessory       Accessory                  `json:"accessory"`
	Service         accessory.Service          `json:"service"`
	Characteristics []accessory.Characteristic `json:"characteristics"`
	Information     accessory.Information      `json:"information"`
}

// NewRuntime creates an empty runtime.
func NewRuntime(build Builder) *Runtime {
	return &Runtime{
		build:   build,
		entries: make(map[string]*entry),
	}
}

// Bind attaches a handler built from acc.Device. An accessory that is
// already bound to the same device keeps its handler and only gets the new
// record, so per-accessory working state survives rediscovery.
func (r *Runtime) Bind(acc Accessory) {
	r.mu.Lock()
	e, ok := r.entries[acc.ID]
	if !ok {
		r.entries[acc.ID] = &entry{record: acc, handler: r.build(acc.Device)}
		r.mu.Unlock()
		log.Debug().Str("accessory", acc.ID).Str("name", acc.DisplayName).Msg("Accessory bound")
		return
	}
	r.mu.Unlock()

	// Wait for in-flight calls on the old handler.
	e.mu.Lock()
	defer e.mu.Unlock()
	if reflect.DeepEqual(e.record.Device, acc.Device) {
		e.record = acc
		return
	}
	e.record = acc
	e.handler = r.build(acc.Device)
	log.Debug().Str("accessory", acc.ID).Str("name", acc.DisplayName).Msg("Accessory rebound")
}

// Unbind removes an accessory. Unknown ids are ignored.
func (r *Runtime) Unbind(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	log.Debug().Str("accessory", id).Msg("Accessory unbound")
}

func (r *Runtime) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownAccessory)
	}
	return e, nil
}

// Get reads a characteristic of a bound accessory.
func (r *Runtime) Get(ctx context.Context, id string, c accessory.Characteristic) (any, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.handler.Get(ctx, c)
}

// Set writes a characteristic of a bound accessory.
func (r *Runtime) Set(ctx context.Context, id string, c accessory.Characteristic, value any) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	log.Info().
		Str("accessory", id).
		Str("characteristic", string(c)).
		Interface("value", value).
		Msg("Set characteristic")
	return e.handler.Set(ctx, c, value)
}

// Describe returns the snapshot of one accessory.
func (r *Runtime) Describe(id string) (Snapshot, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e), nil
}

// List returns snapshots of all bound accessories ordered by display name.
func (r *Runtime) List() []Snapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshot(e))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Accessory.DisplayName != out[j].Accessory.DisplayName {
			return out[i].Accessory.DisplayName < out[j].Accessory.DisplayName
		}
		return out[i].Accessory.ID < out[j].Accessory.ID
	})
	return out
}

// Len returns the number of bound accessories.
func (r *Runtime) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func snapshot(e *entry) Snapshot {
	return Snapshot{
		Accessory:       e.record,
		Service:         e.handler.Service(),
		Characteristics: e.handler.Characteristics(),
		Information:     e.handler.Information(),
	}
}
