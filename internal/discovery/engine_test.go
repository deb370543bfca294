package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/db"
	"github.com/dokzlo13/hubspaced/internal/device"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/ledger"
	"github.com/dokzlo13/hubspaced/internal/storage"
)

type fakeLister struct {
	mu    sync.Mutex
	tree  []device.RawDevice
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeLister) ListDevices(ctx context.Context) ([]device.RawDevice, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tree, f.err
}

func (f *fakeLister) set(tree []device.RawDevice, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tree, f.err = tree, err
}

type fakeBinder struct {
	mu    sync.Mutex
	bound map[string]host.Accessory
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{bound: map[string]host.Accessory{}}
}

func (b *fakeBinder) Bind(acc host.Accessory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound[acc.ID] = acc
}

func (b *fakeBinder) Unbind(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, id)
}

func (b *fakeBinder) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.bound))
	for id := range b.bound {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type event struct {
	typ       ledger.EventType
	accessory string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *fakeRecorder) Record(t ledger.EventType, _, accessoryID string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{t, accessoryID})
}

func (r *fakeRecorder) of(t ledger.EventType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.typ == t {
			out = append(out, e.accessory)
		}
	}
	return out
}

func plug(id, name string) device.RawDevice {
	return device.RawDevice{
		ID:           id,
		DeviceID:     "dev-" + id,
		TypeID:       device.TypeDevice,
		FriendlyName: name,
		Description: device.Description{
			Device: device.Info{DeviceClass: "power-outlet"},
			Functions: []device.RawFunction{{
				FunctionClass: "power",
				Values:        []device.FunctionValue{{Name: "on", DeviceValues: []device.DeviceValue{{Type: "attribute", Key: "2"}}}},
			}},
		},
	}
}

// identity makes accessory ids equal to raw ids for readable assertions.
func identity(seed string) string { return seed }

type fixture struct {
	lister   *fakeLister
	registry *host.MemoryRegistry
	binder   *fakeBinder
	recorder *fakeRecorder
	engine   *Engine
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		lister:   &fakeLister{},
		registry: host.NewMemoryRegistry(),
		binder:   newFakeBinder(),
		recorder: &fakeRecorder{},
	}
	opts = append([]Option{WithRecorder(f.recorder)}, opts...)
	f.engine = New(f.lister, device.NewMapper(identity), f.registry, f.binder, opts...)
	return f
}

func (f *fixture) registered(t *testing.T) []string {
	list, err := f.registry.ListCached(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, acc := range list {
		ids = append(ids, acc.ID)
	}
	return ids
}

func TestDiscoverReconciles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.lister.set([]device.RawDevice{plug("A", "Plug A"), plug("B", "Plug B"), plug("C", "Plug C")}, nil)
	res, err := f.engine.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, res.Registered)

	before, err := f.registry.ListCached(ctx)
	require.NoError(t, err)
	created := map[string]time.Time{}
	for _, acc := range before {
		created[acc.ID] = acc.CreatedAt
	}

	f.lister.set([]device.RawDevice{plug("A", "Plug A"), plug("C", "Porch"), plug("D", "Plug D")}, nil)
	res, err = f.engine.Discover(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"D"}, res.Registered)
	assert.Equal(t, []string{"A", "C"}, res.Updated)
	assert.Equal(t, []string{"B"}, res.Retired)
	assert.Empty(t, res.Failed)

	assert.Equal(t, []string{"A", "C", "D"}, f.registered(t))
	assert.Equal(t, []string{"A", "C", "D"}, f.binder.ids())

	after, err := f.registry.ListCached(ctx)
	require.NoError(t, err)
	for _, acc := range after {
		if at, ok := created[acc.ID]; ok {
			assert.Equal(t, at, acc.CreatedAt, "identity of %s changed", acc.ID)
			assert.Equal(t, int64(2), acc.Version)
		}
		if acc.ID == "C" {
			assert.Equal(t, "Porch", acc.DisplayName)
			assert.Equal(t, "Porch", acc.Device.Name)
		}
	}

	assert.Equal(t, []string{"A", "B", "C", "D"}, f.recorder.of(ledger.EventAccessoryRegistered))
	assert.Equal(t, []string{"C"}, f.recorder.of(ledger.EventAccessoryUpdated))
	assert.Equal(t, []string{"B"}, f.recorder.of(ledger.EventAccessoryRetired))
}

func TestDiscoverFetchFailureLeavesAccessories(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.lister.set([]device.RawDevice{plug("A", "Plug A"), plug("B", "Plug B")}, nil)
	_, err := f.engine.Discover(ctx)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	f.lister.set(nil, boom)
	res, err := f.engine.Discover(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, res.Retired)

	assert.Equal(t, []string{"A", "B"}, f.registered(t))
	assert.Equal(t, []string{"A", "B"}, f.binder.ids())
	assert.Len(t, f.recorder.of(ledger.EventDiscoveryFailed), 1)

	st := f.engine.Last()
	assert.True(t, st.Ran)
	assert.ErrorIs(t, st.Err, boom)
}

func TestDiscoverEmptyResponseRetiresAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.lister.set([]device.RawDevice{plug("A", "Plug A")}, nil)
	_, err := f.engine.Discover(ctx)
	require.NoError(t, err)

	f.lister.set(nil, nil)
	res, err := f.engine.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Retired)
	assert.Empty(t, f.registered(t))
}

func TestDiscoverIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.lister.set([]device.RawDevice{plug("A", "Plug A")}, nil)

	_, err := f.engine.Discover(ctx)
	require.NoError(t, err)
	res, err := f.engine.Discover(ctx)
	require.NoError(t, err)

	assert.Empty(t, res.Registered)
	assert.Equal(t, []string{"A"}, res.Updated)
	assert.Empty(t, f.recorder.of(ledger.EventAccessoryUpdated))
}

func TestDiscoverSingleFlight(t *testing.T) {
	f := newFixture()
	f.lister.gate = make(chan struct{})
	f.lister.set([]device.RawDevice{plug("A", "Plug A")}, nil)
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Discover(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return f.lister.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.lister.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.lister.calls.Load())
	for _, r := range results {
		assert.Equal(t, results[0].CycleID, r.CycleID)
	}
}

func TestRestoreBindsCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "X", "Old Plug", device.LogicalDevice{ID: "X"})
	require.NoError(t, err)

	n, err := f.engine.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"X"}, f.binder.ids())
}

func TestRunDiscoversOnStartAndTrigger(t *testing.T) {
	f := newFixture(WithInterval(0))
	f.lister.set([]device.RawDevice{plug("A", "Plug A")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	require.Eventually(t, func() bool { return f.lister.calls.Load() == 1 }, time.Second, time.Millisecond)

	f.engine.Trigger()
	require.Eventually(t, func() bool { return f.lister.calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDiscoverReplacesUnreadableAccessory(t *testing.T) {
	d, err := db.Open(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	store := storage.NewAccessoryStore(d.DB)
	ctx := context.Background()

	id := host.DeriveID("raw")
	_, err = d.Exec(`INSERT INTO accessories (id, display_name, payload, created_at, updated_at) VALUES (?, 'Old', '{broken', 1, 1)`, id)
	require.NoError(t, err)

	lister := &fakeLister{}
	lister.set([]device.RawDevice{plug("raw", "Plug")}, nil)
	binder := newFakeBinder()
	e := New(lister, device.NewMapper(host.DeriveID), store, binder)

	res, err := e.Discover(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{id}, res.Registered)
	assert.Equal(t, []string{id}, binder.ids())

	list, err := store.ListCached(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Plug", list[0].DisplayName)

	res, err = e.Discover(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{id}, res.Updated)
}

// attrIO stores attribute values in memory.
type attrIO struct {
	mu     sync.Mutex
	values map[string]string
}

func (a *attrIO) ReadAttribute(_ context.Context, _ string, key string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.values[key], nil
}

func (a *attrIO) WriteAttribute(_ context.Context, _ string, key string, value any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = fmt.Sprint(value)
	return nil
}

func (a *attrIO) get(key string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.values[key]
}

func colorBulb(id, name string) device.RawDevice {
	attr := func(class, key string) device.RawFunction {
		return device.RawFunction{
			FunctionClass: class,
			Values:        []device.FunctionValue{{Name: class, DeviceValues: []device.DeviceValue{{Type: "attribute", Key: key}}}},
		}
	}
	return device.RawDevice{
		ID:           id,
		DeviceID:     "dev-" + id,
		TypeID:       device.TypeDevice,
		FriendlyName: name,
		Description: device.Description{
			Device:    device.Info{DeviceClass: "light"},
			Functions: []device.RawFunction{attr("power", "2"), attr("color-rgb", "5"), attr("color-mode", "8")},
		},
	}
}

func TestDiscoverKeepsColorStateOfUnchangedLight(t *testing.T) {
	io := &attrIO{values: map[string]string{"2": "1", "5": "FFFFFF", "8": "1"}}
	opts := accessory.DefaultOptions()
	opts.PairingWindow = time.Minute
	rt := host.NewRuntime(func(dev device.LogicalDevice) *accessory.Accessory {
		return accessory.New(dev, io, opts)
	})

	lister := &fakeLister{}
	lister.set([]device.RawDevice{colorBulb("bulb", "Porch")}, nil)
	e := New(lister, device.NewMapper(identity), host.NewMemoryRegistry(), rt)
	ctx := context.Background()

	_, err := e.Discover(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Set(ctx, "bulb", accessory.Hue, 240))

	res, err := e.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bulb"}, res.Updated)

	require.NoError(t, rt.Set(ctx, "bulb", accessory.Saturation, 100))
	assert.Equal(t, "0000FF", io.get("5"))
}
