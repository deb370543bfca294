package hubspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTokenURL = "https://accounts.hubspaceconnect.com/auth/realms/thd/protocol/openid-connect/token"
	ClientID        = "hubspace_android"

	tokenKey = "token"

	// expirySkew renews the access token slightly before it expires.
	expirySkew = 30 * time.Second
)

// ErrAuth is returned when neither the refresh token nor the credentials
// produce an access token.
var ErrAuth = errors.New("hubspace authentication failed")

// Token is an access/refresh token pair with absolute expiries.
type Token struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// TokenStore persists the token between runs.
type TokenStore interface {
	Put(key string, value any, ttl time.Duration) error
	Get(key string, out any) (bool, error)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// TokenSource hands out access tokens, renewing them with the refresh token
// and falling back to the account credentials.
type TokenSource struct {
	tokenURL   string
	username   string
	password   string
	httpClient *http.Client
	store      TokenStore
	now        func() time.Time

	mu     sync.Mutex
	token  Token
	loaded bool
}

// TokenOption configures a TokenSource.
type TokenOption func(*TokenSource)

// WithTokenURL overrides the OpenID token endpoint.
func WithTokenURL(u string) TokenOption {
	return func(s *TokenSource) { s.tokenURL = u }
}

// WithTokenStore persists tokens across restarts.
func WithTokenStore(store TokenStore) TokenOption {
	return func(s *TokenSource) { s.store = store }
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(s *TokenSource) { s.httpClient = c }
}

// NewTokenSource creates a token source for an account.
func NewTokenSource(username, password string, opts ...TokenOption) *TokenSource {
	s := &TokenSource{
		tokenURL:   DefaultTokenURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a valid access token.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()

	now := s.now()
	if s.token.AccessToken != "" && now.Add(expirySkew).Before(s.token.AccessExpiry) {
		return s.token.AccessToken, nil
	}

	var (
		resp *tokenResponse
		err  error
	)
	if s.token.RefreshToken != "" && now.Before(s.token.RefreshExpiry) {
		resp, err = s.request(ctx, url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {ClientID},
			"refresh_token": {s.token.RefreshToken},
		})
		if err != nil {
			log.Warn().Err(err).Msg("Token refresh failed, using credentials")
		}
	}
	if resp == nil {
		resp, err = s.request(ctx, url.Values{
			"grant_type": {"password"},
			"client_id":  {ClientID},
			"username":   {s.username},
			"password":   {s.password},
		})
		if err != nil {
			s.token = Token{}
			return "", fmt.Errorf("%w: %v", ErrAuth, err)
		}
	}

	s.token = Token{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		AccessExpiry:  now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		RefreshExpiry: now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second),
	}
	s.saveLocked()

	log.Debug().Time("expires", s.token.AccessExpiry).Msg("Obtained access token")
	return s.token.AccessToken, nil
}

// Invalidate forgets the access token so the next call renews it. The
// refresh token is kept.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token.AccessToken = ""
	s.token.AccessExpiry = time.Time{}
}

func (s *TokenSource) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	if s.store == nil {
		return
	}

	var tok Token
	found, err := s.store.Get(tokenKey, &tok)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load stored token")
		return
	}
	if found {
		s.token = tok
		log.Debug().Time("refresh_expires", tok.RefreshExpiry).Msg("Loaded stored token")
	}
}

func (s *TokenSource) saveLocked() {
	if s.store == nil {
		return
	}
	ttl := s.token.RefreshExpiry.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.store.Put(tokenKey, s.token, ttl); err != nil {
		log.Warn().Err(err).Msg("Failed to persist token")
	}
}

func (s *TokenSource) request(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s grant returned %d: %s", form.Get("grant_type"), resp.StatusCode, body)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%s grant returned no access token", form.Get("grant_type"))
	}
	return &out, nil
}
