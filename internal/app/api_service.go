package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/api"
	"github.com/dokzlo13/hubspaced/internal/config"
)

// APIService wraps the HTTP API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, accessories api.Accessories, discoverer api.Discoverer, history api.History) *APIService {
	server := api.NewServer(api.Config{
		Host:        cfg.API.Host,
		Port:        cfg.API.Port,
		CORSOrigins: cfg.API.CORSOrigins,
	}, accessories, discoverer, history)
	return &APIService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}
