package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/config"
	"github.com/dokzlo13/hubspaced/internal/ledger"
)

// vendor fakes the token endpoint and the Afero API for one outlet.
type vendor struct {
	mu     sync.Mutex
	power  string
	writes int
}

func (v *vendor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch {
	case r.URL.Path == "/token":
		_, _ = io.WriteString(w, `{"access_token":"at","expires_in":120,"refresh_token":"rt","refresh_expires_in":3600}`)
	case r.URL.Path == "/v1/users/me":
		_, _ = io.WriteString(w, `{"accountAccess":[{"account":{"accountId":"acct"}}]}`)
	case r.URL.Path == "/v1/accounts/acct/metadevices":
		_, _ = io.WriteString(w, `[{"id":"m1","deviceId":"d1","typeId":"metadevice.device","friendlyName":"Porch",
			"description":{"device":{"deviceClass":"power-outlet"},
			"functions":[{"functionClass":"power","values":[{"name":"on","deviceValues":[{"type":"attribute","key":"2"}]}]}]}}]`)
	case r.URL.Path == "/v1/accounts/acct/devices/d1":
		_, _ = io.WriteString(w, `{"deviceId":"d1","attributes":[{"id":2,"value":"`+v.power+`"}]}`)
	case r.URL.Path == "/v1/accounts/acct/devices/d1/actions":
		v.writes++
		v.power = "0"
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
hubspace:
  username: user
  password: pass
  base_url: ` + url + `/v1
  token_url: ` + url + `/token
  rate_limit_rps: 1000
  burst: 100
discovery:
  interval: 1h
`))
	require.NoError(t, err)
	return cfg
}

func TestServicesDiscoverAndControl(t *testing.T) {
	v := &vendor{power: "1"}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)

	s, err := NewServices(testConfig(t, srv.URL), Options{Ephemeral: true})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Start(ctx, func(err error) { t.Errorf("fatal: %v", err) }))

	require.Eventually(t, func() bool { return s.Discovery.Last().Ran }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Discovery.Last().Err)

	list := s.Runtime.List()
	require.Len(t, list, 1)
	id := list[0].Accessory.ID
	assert.Equal(t, "Porch", list[0].Accessory.DisplayName)
	assert.Equal(t, accessory.ServiceOutlet, list[0].Service)

	on, err := s.Runtime.Get(ctx, id, accessory.On)
	require.NoError(t, err)
	assert.Equal(t, true, on)

	require.NoError(t, s.Runtime.Set(ctx, id, accessory.On, false))
	on, err = s.Runtime.Get(ctx, id, accessory.On)
	require.NoError(t, err)
	assert.Equal(t, false, on)

	events, err := s.Ledger.Recent(ledger.EventAccessoryRegistered, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].AccessoryID)
}

func TestServicesRestoreFromDatabase(t *testing.T) {
	v := &vendor{power: "1"}
	srv := httptest.NewServer(v)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Database.Path = t.TempDir() + "/hubspaced.sqlite"

	first, err := NewServices(cfg, Options{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = first.Discovery.Discover(ctx)
	require.NoError(t, err)
	cached, err := first.Registry.ListCached(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	first.Close()

	second, err := NewServices(cfg, Options{})
	require.NoError(t, err)
	t.Cleanup(second.Close)

	n, err := second.Discovery.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := second.Runtime.Describe(cached[0].ID)
	require.NoError(t, err)
	assert.Equal(t, cached[0].CreatedAt, snap.Accessory.CreatedAt)
}
