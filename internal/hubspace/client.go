// Package hubspace is a client for the Afero cloud API behind Hubspace
// devices: account lookup, the metadevice tree and attribute reads/writes.
package hubspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/hubspaced/internal/device"
)

const (
	DefaultBaseURL       = "https://api2.afero.net/v1"
	DefaultSemanticsHost = "semantics2.afero.net"
)

// ErrAttributeNotFound is returned when a device reports no value for an
// attribute.
var ErrAttributeNotFound = errors.New("attribute not found")

// APIError is a non-success response from the Afero API.
type APIError struct {
	StatusCode  int
	Description string
	Path        string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("hubspace %s: %d: %s", e.Path, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("hubspace %s: %d", e.Path, e.StatusCode)
}

// Tokens supplies bearer tokens.
type Tokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	SemanticsHost string
	Timeout       time.Duration

	// RateLimit is the sustained number of requests per second; zero
	// disables limiting.
	RateLimit float64
	Burst     int

	// Cache holds device status between reads; nil disables caching.
	Cache *StatusCache
}

// Client talks to the Afero API on behalf of one account.
type Client struct {
	baseURL       string
	semanticsHost string
	httpClient    *http.Client
	tokens        Tokens
	limiter       *rate.Limiter
	cache         *StatusCache

	accountMu sync.Mutex
	accountID string
}

// NewClient creates a client.
func NewClient(tokens Tokens, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SemanticsHost == "" {
		cfg.SemanticsHost = DefaultSemanticsHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		semanticsHost: cfg.SemanticsHost,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		tokens:        tokens,
		limiter:       limiter,
		cache:         cfg.Cache,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type accountResponse struct {
	AccountAccess []struct {
		Account struct {
			AccountID string `json:"accountId"`
		} `json:"account"`
	} `json:"accountAccess"`
}

// AccountID returns the id of the first account the user can access. The
// result is remembered after the first success.
func (c *Client) AccountID(ctx context.Context) (string, error) {
	c.accountMu.Lock()
	defer c.accountMu.Unlock()

	if c.accountID != "" {
		return c.accountID, nil
	}

	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "users/me", "", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to load account: %w", err)
	}
	if len(resp.AccountAccess) == 0 || resp.AccountAccess[0].Account.AccountID == "" {
		return "", errors.New("failed to load account: no account access")
	}

	c.accountID = resp.AccountAccess[0].Account.AccountID
	log.Info().Str("account", c.accountID).Msg("Loaded Hubspace account")
	return c.accountID, nil
}

// ListDevices returns the metadevice tree of the account.
func (c *Client) ListDevices(ctx context.Context) ([]device.RawDevice, error) {
	acct, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	var devices []device.RawDevice
	path := fmt.Sprintf("accounts/%s/metadevices", acct)
	if err := c.do(ctx, http.MethodGet, path, c.semanticsHost, nil, &devices); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	log.Debug().Int("count", len(devices)).Msg("Fetched metadevices")
	return devices, nil
}

type deviceStatus struct {
	DeviceID   string            `json:"deviceId"`
	Attributes []attributeStatus `json:"attributes"`
}

type attributeStatus struct {
	ID    json.Number     `json:"id"`
	Data  string          `json:"data"`
	Value json.RawMessage `json:"value"`
}

func (a attributeStatus) text() string {
	if len(a.Value) == 0 || string(a.Value) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Value, &s); err == nil {
		return s
	}
	return string(a.Value)
}

func (c *Client) status(ctx context.Context, deviceID string) (map[string]string, error) {
	if c.cache != nil {
		if attrs := c.cache.Get(deviceID); attrs != nil {
			return attrs, nil
		}
	}

	acct, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	var st deviceStatus
	path := fmt.Sprintf("accounts/%s/devices/%s?expansions=attributes", acct, deviceID)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &st); err != nil {
		return nil, fmt.Errorf("failed to read device %s: %w", deviceID, err)
	}

	attrs := make(map[string]string, len(st.Attributes))
	for _, a := range st.Attributes {
		attrs[a.ID.String()] = a.text()
	}
	if c.cache != nil {
		c.cache.Set(deviceID, attrs)
	}
	return attrs, nil
}

// ReadAttribute returns the current value of one attribute.
func (c *Client) ReadAttribute(ctx context.Context, deviceID, key string) (string, error) {
	attrs, err := c.status(ctx, deviceID)
	if err != nil {
		return "", err
	}
	v, ok := attrs[key]
	if !ok {
		return "", fmt.Errorf("device %s attribute %s: %w", deviceID, key, ErrAttributeNotFound)
	}
	return v, nil
}

type attributeWrite struct {
	Type   string `json:"type"`
	AttrID string `json:"attrId"`
	Data   string `json:"data"`
}

// WriteAttribute sets one attribute. See EncodeValue for the value forms.
func (c *Client) WriteAttribute(ctx context.Context, deviceID, key string, value any) error {
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	acct, err := c.AccountID(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(attributeWrite{Type: "attribute_write", AttrID: key, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal write: %w", err)
	}

	if c.cache != nil {
		defer c.cache.Invalidate(deviceID)
	}

	path := fmt.Sprintf("accounts/%s/devices/%s/actions", acct, deviceID)
	if err := c.do(ctx, http.MethodPost, path, "", body, nil); err != nil {
		return fmt.Errorf("failed to write device %s attribute %s: %w", deviceID, key, err)
	}

	log.Debug().
		Str("device", deviceID).
		Str("attribute", key).
		Str("data", data).
		Msg("Attribute written")
	return nil
}

type errorResponse struct {
	Status           int    `json:"status"`
	ErrorDescription string `json:"error_description"`
	Path             string `json:"path"`
}

// do performs an authenticated request and decodes the JSON response into
// out. A 401 renews the token and retries once.
func (c *Client) do(ctx context.Context, method, path, host string, body []byte, out any) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if host != "" {
			req.Host = host
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			log.Debug().Str("path", path).Msg("Access token rejected, renewing")
			c.tokens.Invalidate()
			continue
		}

		err = decodeResponse(resp, path, out)
		resp.Body.Close()
		return err
	}
}

func decodeResponse(resp *http.Response, path string, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Path: path}
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.ErrorDescription != "" {
			apiErr.Description = e.ErrorDescription
		} else {
			apiErr.Description = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
