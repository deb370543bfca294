// Package discovery reconciles the Hubspace device list with the registered
// host accessories.
package discovery

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dokzlo13/hubspaced/internal/device"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/ledger"
)

// Lister fetches the vendor device tree.
type Lister interface {
	ListDevices(ctx context.Context) ([]device.RawDevice, error)
}

// Binder attaches and detaches runtime handlers.
type Binder interface {
	Bind(acc host.Accessory)
	Unbind(id string)
}

// Recorder keeps a history of discovery events.
type Recorder interface {
	Record(eventType ledger.EventType, cycleID, accessoryID string, payload map[string]any)
}

// Result summarizes one discovery cycle. Id lists follow candidate order.
type Result struct {
	CycleID    string        `json:"cycleId"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Candidates int           `json:"candidates"`
	Registered []string      `json:"registered"`
	Updated    []string      `json:"updated"`
	Retired    []string      `json:"retired"`
	Failed     []string      `json:"failed"`
}

// Engine runs discovery cycles. Concurrent Discover calls share one cycle.
type Engine struct {
	lister   Lister
	mapper   *device.Mapper
	registry host.Registry
	binder   Binder
	recorder Recorder
	interval time.Duration

	group   singleflight.Group
	trigger chan struct{}

	mu      sync.RWMutex
	last    Result
	lastErr error
	ran     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder records discovery events.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithInterval sets the period of Run. Zero disables periodic discovery.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// New creates a discovery engine.
func New(lister Lister, mapper *device.Mapper, registry host.Registry, binder Binder, opts ...Option) *Engine {
	e := &Engine{
		lister:   lister,
		mapper:   mapper,
		registry: registry,
		binder:   binder,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore binds every cached accessory so the host can serve them before
// the first discovery finishes.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	cached, err := e.registry.ListCached(ctx)
	if err != nil {
		return 0, err
	}
	for _, acc := range cached {
		e.binder.Bind(acc)
	}
	log.Info().Int("count", len(cached)).Msg("Restored cached accessories")
	return len(cached), nil
}

// Discover runs one cycle, or waits for the one already running.
//
// A failed device listing changes nothing: registered accessories stay
// registered and bound.
func (e *Engine) Discover(ctx context.Context) (Result, error) {
	v, err, shared := e.group.Do("discover", func() (any, error) {
		res, err := e.discover(ctx)

		e.mu.Lock()
		e.last, e.lastErr, e.ran = res, err, true
		e.mu.Unlock()

		return res, err
	})
	if shared {
		log.Debug().Msg("Joined in-flight discovery")
	}
	res, _ := v.(Result)
	return res, err
}

// Status is the outcome of the most recent cycle.
type Status struct {
	Ran    bool
	Result Result
	Err    error
}

// Last returns the outcome of the most recent cycle.
func (e *Engine) Last() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{Ran: e.ran, Result: e.last, Err: e.lastErr}
}

// Trigger asks Run for an extra cycle.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run discovers immediately, then on every tick and trigger until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Dur("interval", e.interval).Msg("Discovery started")

	var tickerC <-chan time.Time
	if e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tickerC = ticker.C
	}

	e.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Discovery stopping")
			return nil
		case <-e.trigger:
			e.runOnce(ctx)
		case <-tickerC:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	if _, err := e.Discover(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Discovery failed")
	}
}

func (e *Engine) discover(ctx context.Context) (Result, error) {
	res := Result{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := log.With().Str("cycle", res.CycleID).Logger()

	tree, err := e.lister.ListDevices(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch devices, leaving accessories untouched")
		e.record(ledger.EventDiscoveryFailed, res.CycleID, "", map[string]any{"error": err.Error()})
		return res, err
	}

	existing, err := e.registry.ListCached(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list registered accessories")
		e.record(ledger.EventDiscoveryFailed, res.CycleID, "", map[string]any{"error": err.Error()})
		return res, err
	}
	byID := make(map[string]host.Accessory, len(existing))
	for _, acc := range existing {
		byID[acc.ID] = acc
	}

	candidates := e.mapper.MapAll(tree)
	res.Candidates = len(candidates)

	seen := make(map[string]bool, len(candidates))
	for _, dev := range candidates {
		if seen[dev.ID] {
			logger.Warn().Str("accessory", dev.ID).Str("name", dev.Name).Msg("Duplicate accessory id, skipping")
			continue
		}
		seen[dev.ID] = true

		if acc, ok := byID[dev.ID]; ok {
			changed := acc.DisplayName != dev.Name || !reflect.DeepEqual(acc.Device, dev)
			acc.DisplayName = dev.Name
			acc.Device = dev

			updated, err := e.registry.Update(ctx, acc)
			if err != nil {
				logger.Error().Err(err).Str("accessory", dev.ID).Msg("Failed to update accessory")
				res.Failed = append(res.Failed, dev.ID)
				continue
			}
			e.binder.Bind(updated)
			res.Updated = append(res.Updated, dev.ID)

			if changed {
				logger.Info().Str("accessory", dev.ID).Str("name", dev.Name).Msg("Accessory changed")
				e.record(ledger.EventAccessoryUpdated, res.CycleID, dev.ID, devicePayload(dev))
			}
			continue
		}

		created, err := e.registry.Register(ctx, dev.ID, dev.Name, dev)
		if errors.Is(err, host.ErrAlreadyExists) {
			// Stored but not listed: the cached row could not be read.
			// Overwrite it with the fresh device.
			logger.Warn().Str("accessory", dev.ID).Msg("Accessory stored but unreadable, replacing")
			created, err = e.registry.Update(ctx, host.Accessory{ID: dev.ID, DisplayName: dev.Name, Device: dev})
		}
		if err != nil {
			logger.Error().Err(err).Str("accessory", dev.ID).Msg("Failed to register accessory")
			res.Failed = append(res.Failed, dev.ID)
			continue
		}
		e.binder.Bind(created)
		res.Registered = append(res.Registered, dev.ID)

		logger.Info().
			Str("accessory", dev.ID).
			Str("name", dev.Name).
			Str("type", string(dev.Type)).
			Msg("Accessory registered")
		e.record(ledger.EventAccessoryRegistered, res.CycleID, dev.ID, devicePayload(dev))
	}

	for _, acc := range existing {
		if seen[acc.ID] {
			continue
		}
		if err := e.registry.Unregister(ctx, acc); err != nil {
			logger.Error().Err(err).Str("accessory", acc.ID).Msg("Failed to retire accessory")
			res.Failed = append(res.Failed, acc.ID)
			continue
		}
		e.binder.Unbind(acc.ID)
		res.Retired = append(res.Retired, acc.ID)

		logger.Info().Str("accessory", acc.ID).Str("name", acc.DisplayName).Msg("Accessory retired")
		e.record(ledger.EventAccessoryRetired, res.CycleID, acc.ID, map[string]any{"name": acc.DisplayName})
	}

	res.Duration = time.Since(res.StartedAt)
	logger.Info().
		Int("candidates", res.Candidates).
		Int("registered", len(res.Registered)).
		Int("updated", len(res.Updated)).
		Int("retired", len(res.Retired)).
		Int("failed", len(res.Failed)).
		Dur("duration", res.Duration).
		Msg("Discovery completed")
	e.record(ledger.EventDiscoveryCompleted, res.CycleID, "", map[string]any{
		"candidates": res.Candidates,
		"registered": len(res.Registered),
		"retired":    len(res.Retired),
		"failed":     len(res.Failed),
	})

	return res, nil
}

func (e *Engine) record(eventType ledger.EventType, cycleID, accessoryID string, payload map[string]any) {
	if e.recorder != nil {
		e.recorder.Record(eventType, cycleID, accessoryID, payload)
	}
}

func devicePayload(dev device.LogicalDevice) map[string]any {
	return map[string]any{
		"name":            dev.Name,
		"type":            string(dev.Type),
		"vendorId":        dev.VendorID,
		"characteristics": len(dev.Functions),
	}
}
