// Package client assembles the sync core: store, gateway, connectivity
// monitor, cache, sync queue and migration orchestrator, wired from a
// single configuration. Application layers consume the services through
// this type only.
package client

import (
	"context"
	"fmt"

	"github.com/dukaanware/dukasync/internal/config"
	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/netmon"
	"github.com/dukaanware/dukasync/internal/services/cache"
	"github.com/dukaanware/dukasync/internal/services/migration"
	"github.com/dukaanware/dukasync/internal/services/queue"
	"github.com/dukaanware/dukasync/internal/store"
	"github.com/dukaanware/dukasync/internal/transport"
)

// Client is the assembled sync core.
type Client struct {
	config  *config.Config
	logger  *events.Logger
	store   store.Store
	gateway transport.Gateway
	monitor netmon.Monitor

	Cache     *cache.Service
	Queue     *queue.Service
	Migration *migration.Service

	started bool
}

// Options tweak construction, mainly for tests and CLI overrides.
type Options struct {
	// Monitor overrides the probe-based connectivity monitor.
	Monitor netmon.Monitor
	// Gateway overrides the HTTP gateway.
	Gateway transport.Gateway
}

// New builds a client from configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions builds a client with explicit overrides.
func NewWithOptions(cfg *config.Config, logger *events.Logger, opts Options) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	var st store.Store
	var err error
	switch cfg.Store.Backend {
	case "sqlite":
		st, err = store.NewSQLiteStore(cfg.Store.DBFile, logger)
	default:
		st, err = store.NewJSONStore(cfg.Store.DataDir, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Store.StoreID != "" {
		if err := st.SetStoreID(cfg.Store.StoreID); err != nil {
			st.Close()
			return nil, err
		}
	}

	gw := opts.Gateway
	if gw == nil {
		gw = transport.NewHTTPGateway(&cfg.API, logger)
	}

	mon := opts.Monitor
	if mon == nil {
		mon = netmon.NewProbeMonitor(
			cfg.API.BaseURL+cfg.API.HealthPath,
			cfg.Sync.ProbeInterval,
			cfg.Sync.ProbeTimeout,
			logger,
		)
	}

	q := queue.NewService(st, gw, mon, queue.Config{
		MaxRetries:   cfg.Sync.MaxRetries,
		BaseBackoff:  cfg.Sync.BaseBackoff,
		MaxBackoff:   cfg.Sync.MaxBackoff,
		InitialDelay: cfg.Sync.InitialDelay,
	}, logger)

	return &Client{
		config:    cfg,
		logger:    logger.WithComponent("client"),
		store:     st,
		gateway:   gw,
		monitor:   mon,
		Cache:     cache.NewService(st, gw, q, logger),
		Queue:     q,
		Migration: migration.NewService(st, gw, logger),
	}, nil
}

// Start begins background queue processing. Safe to call once.
func (c *Client) Start(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true
	c.Queue.Start(ctx)
	c.logger.Debug("Client started")
}

// Store exposes the underlying store for status inspection.
func (c *Client) Store() store.Store {
	return c.store
}

// Monitor exposes the connectivity monitor.
func (c *Client) Monitor() netmon.Monitor {
	return c.monitor
}

// Config returns the active configuration.
func (c *Client) Config() *config.Config {
	return c.config
}

// Close stops background work and releases resources.
func (c *Client) Close() error {
	if c.started {
		c.Queue.Stop()
		c.started = false
	}

	var firstErr error
	if err := c.monitor.Close(); err != nil {
		firstErr = err
	}
	if err := c.gateway.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
