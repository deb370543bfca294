package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/config"
	"github.com/dokzlo13/hubspaced/internal/hubspace"
	"github.com/dokzlo13/hubspaced/internal/kv"
)

// authBucket holds the OpenID tokens between restarts.
const authBucket = "auth"

// HubspaceService wraps the vendor components: token source, status cache and API client.
type HubspaceService struct {
	cfg *config.Config

	Tokens *hubspace.TokenSource
	Cache  *hubspace.StatusCache
	Client *hubspace.Client
}

// NewHubspaceService creates the vendor client. Nothing is contacted until Start.
func NewHubspaceService(cfg *config.Config, store *kv.Manager) *HubspaceService {
	opts := []hubspace.TokenOption{hubspace.WithTokenStore(store.Bucket(authBucket))}
	if cfg.Hubspace.TokenURL != "" {
		opts = append(opts, hubspace.WithTokenURL(cfg.Hubspace.TokenURL))
	}
	tokens := hubspace.NewTokenSource(cfg.Hubspace.Username, cfg.Hubspace.Password, opts...)

	var cache *hubspace.StatusCache
	if cfg.Cache.Enabled {
		cache = hubspace.NewStatusCache(cfg.Cache.TTL.Duration())
	}

	client := hubspace.NewClient(tokens, hubspace.Config{
		BaseURL:   cfg.Hubspace.BaseURL,
		Timeout:   cfg.Hubspace.Timeout.Duration(),
		RateLimit: cfg.Hubspace.RateLimitRPS,
		Burst:     cfg.Hubspace.Burst,
		Cache:     cache,
	})

	return &HubspaceService{
		cfg:    cfg,
		Tokens: tokens,
		Cache:  cache,
		Client: client,
	}
}

// Start authenticates and resolves the account.
func (s *HubspaceService) Start(ctx context.Context) error {
	account, err := s.Client.AccountID(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("user", s.cfg.Hubspace.Username).
		Str("account", account).
		Bool("cache", s.Cache != nil).
		Msg("Connected to Hubspace")
	return nil
}

// Close releases all resources.
func (s *HubspaceService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
