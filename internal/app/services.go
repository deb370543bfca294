package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/config"
	"github.com/dokzlo13/hubspaced/internal/db"
	"github.com/dokzlo13/hubspaced/internal/device"
	"github.com/dokzlo13/hubspaced/internal/discovery"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/kv"
	"github.com/dokzlo13/hubspaced/internal/ledger"
	"github.com/dokzlo13/hubspaced/internal/storage"
)

const kvCleanupInterval = time.Hour

// Options change how services are assembled.
type Options struct {
	// Ephemeral keeps accessories and tokens in memory only.
	Ephemeral bool
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	KV     *kv.Manager
	Ledger *ledger.Ledger

	// Accessory host
	Registry  host.Registry
	Runtime   *host.Runtime
	Discovery *discovery.Engine

	// High-level services
	Hubspace *HubspaceService
	API      *APIService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, opts Options) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	path := cfg.Database.Path
	if opts.Ephemeral {
		path = db.MemoryPath
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize registry and KV store
	if opts.Ephemeral {
		log.Warn().Msg("Ephemeral mode: accessories and tokens are not persisted")
		s.Registry = host.NewMemoryRegistry()
		s.KV = kv.NewManager(nil)
	} else {
		s.Registry = storage.NewAccessoryStore(database.DB)
		s.KV = kv.NewManager(database.DB)
	}

	// Initialize vendor client
	s.Hubspace = NewHubspaceService(cfg, s.KV)

	// Initialize accessory runtime
	accessoryOpts := accessory.Options{
		KelvinMin:     cfg.Color.KelvinMin,
		KelvinMax:     cfg.Color.KelvinMax,
		PairingWindow: cfg.Color.PairingWindow.Duration(),
	}
	client := s.Hubspace.Client
	s.Runtime = host.NewRuntime(func(dev device.LogicalDevice) *accessory.Accessory {
		return accessory.New(dev, client, accessoryOpts)
	})

	// Initialize discovery
	s.Discovery = discovery.New(
		client,
		device.NewMapper(host.DeriveID),
		s.Registry,
		s.Runtime,
		discovery.WithRecorder(s.Ledger),
		discovery.WithInterval(cfg.Discovery.Interval.Duration()),
	)

	// Initialize API service
	s.API = NewAPIService(cfg, s.Runtime, s.Discovery, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a background service cannot continue.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Serve cached accessories before talking to the vendor
	if _, err := s.Discovery.Restore(ctx); err != nil {
		return err
	}

	// Authenticate with Hubspace; discovery keeps retrying on failure
	if err := s.Hubspace.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Hubspace")
	}

	// Start all background services
	s.KV.StartCleanup(ctx, kvCleanupInterval)

	go s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.Retention())

	go func() {
		if err := s.Discovery.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Discovery error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()

	s.API.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.KV != nil {
		s.KV.StopCleanup()
	}
	if s.Hubspace != nil {
		s.Hubspace.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
