package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/catalog"
	"github.com/dokzlo13/hubspaced/internal/device"
	"github.com/dokzlo13/hubspaced/internal/discovery"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/ledger"
)

type fakeIO struct {
	mu     sync.Mutex
	values map[string]string
	fail   bool
	writes []any
}

func (f *fakeIO) ReadAttribute(_ context.Context, _, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("timeout")
	}
	return f.values[key], nil
}

func (f *fakeIO) WriteAttribute(_ context.Context, _, _ string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("timeout")
	}
	f.writes = append(f.writes, value)
	return nil
}

type fakeDiscoverer struct {
	status discovery.Status
	result discovery.Result
	err    error
	calls  int
}

func (f *fakeDiscoverer) Discover(context.Context) (discovery.Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeDiscoverer) Last() discovery.Status { return f.status }

type fakeHistory struct {
	entries []*ledger.Entry
}

func (f *fakeHistory) Recent(t ledger.EventType, limit int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range f.entries {
		if t == "" || e.EventType == t {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistory) ForAccessory(id string, limit int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range f.entries {
		if e.AccessoryID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	io         *fakeIO
	discoverer *fakeDiscoverer
	handler    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	io := &fakeIO{values: map[string]string{"2": "1"}}
	rt := host.NewRuntime(func(dev device.LogicalDevice) *accessory.Accessory {
		return accessory.New(dev, io, accessory.DefaultOptions())
	})
	rt.Bind(host.Accessory{
		ID:          "plug",
		DisplayName: "Porch Plug",
		Device: device.LogicalDevice{
			ID:        "plug",
			DeviceID:  "dev-1",
			Name:      "Porch Plug",
			Type:      catalog.TypeOutlet,
			Functions: []device.Binding{{Characteristic: catalog.Power, AttributeKey: "2"}},
		},
	})

	d := &fakeDiscoverer{}
	h := &fakeHistory{entries: []*ledger.Entry{
		{ID: 2, EventType: ledger.EventDiscoveryCompleted, CycleID: "c1"},
		{ID: 1, EventType: ledger.EventAccessoryRegistered, CycleID: "c1", AccessoryID: "plug"},
	}}
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, rt, d, h)
	return &testEnv{io: io, discoverer: d, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAccessoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/accessories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []host.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, accessory.ServiceOutlet, list[0].Service)
	assert.Equal(t, []accessory.Characteristic{accessory.On}, list[0].Characteristics)

	rec = env.do(t, http.MethodGet, "/accessories/plug", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev-1", decode(t, rec)["information"].(map[string]any)["serialNumber"])

	rec = env.do(t, http.MethodGet, "/accessories/plug/characteristics/On", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["value"])

	rec = env.do(t, http.MethodPut, "/accessories/plug/characteristics/On", `{"value": false}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []any{false}, env.io.writes)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		fail   bool
		status int
		hap    float64
	}{
		{name: "unknown accessory", method: http.MethodGet, path: "/accessories/nope", status: http.StatusNotFound},
		{name: "unknown accessory characteristic", method: http.MethodGet, path: "/accessories/nope/characteristics/On", status: http.StatusNotFound},
		{name: "unknown characteristic", method: http.MethodGet, path: "/accessories/plug/characteristics/Hue", status: http.StatusNotFound},
		{name: "invalid value", method: http.MethodPut, path: "/accessories/plug/characteristics/On", body: `{"value":"maybe"}`, status: http.StatusBadRequest},
		{name: "missing value", method: http.MethodPut, path: "/accessories/plug/characteristics/On", body: `{}`, status: http.StatusBadRequest},
		{name: "read not responding", method: http.MethodGet, path: "/accessories/plug/characteristics/On", fail: true, status: http.StatusServiceUnavailable, hap: StatusCommunicationFailure},
		{name: "write not responding", method: http.MethodPut, path: "/accessories/plug/characteristics/On", body: `{"value":1}`, fail: true, status: http.StatusServiceUnavailable, hap: StatusCommunicationFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.io.fail = tt.fail

			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			if tt.hap != 0 {
				assert.Equal(t, tt.hap, decode(t, rec)["status"])
			}
		})
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "starting", decode(t, rec)["status"])

	env.discoverer.status = discovery.Status{Ran: true, Err: errors.New("boom")}
	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])

	env.discoverer.status = discovery.Status{Ran: true, Result: discovery.Result{CycleID: "c1"}}
	rec = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(1), body["accessories"])
}

func TestDiscoveryTrigger(t *testing.T) {
	env := newTestEnv(t)
	env.discoverer.result = discovery.Result{CycleID: "c2", Registered: []string{"plug"}}

	rec := env.do(t, http.MethodPost, "/discovery", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c2", decode(t, rec)["cycleId"])
	assert.Equal(t, 1, env.discoverer.calls)

	env.discoverer.err = errors.New("vendor down")
	rec = env.do(t, http.MethodPost, "/discovery", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.do(t, http.MethodGet, "/discovery", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/events?type=accessory_registered", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "plug", entries[0].AccessoryID)

	rec = env.do(t, http.MethodGet, "/accessories/other/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/events?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	srv := NewServer(Config{CORSOrigins: []string{"http://panel.local"}}, host.NewRuntime(nil), &fakeDiscoverer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://panel.local", rec.Header().Get("Access-Control-Allow-Origin"))
}
