// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"go.uber.org/zap"

	"github.com/jeranaias/expertdesk/internal/api"
	"github.com/jeranaias/expertdesk/internal/chat"
	"github.com/jeranaias/expertdesk/internal/config"
	"github.com/jeranaias/expertdesk/internal/logging"
	"github.com/jeranaias/expertdesk/internal/session"
	"github.com/jeranaias/expertdesk/internal/storage"
	"github.com/jeranaias/expertdesk/internal/store"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the assembled service graph for one command invocation.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	flush    func()
	cache    *storage.Cache // nil when persistence is disabled
	client   *api.Client
	session  *session.Manager
	store    *store.Store
	delivery *chat.Delivery
	poller   *chat.Poller
}

// newApp builds the full service graph. Services are constructed
// explicitly and passed down; nothing here is a package-level singleton.
func newApp(configPath string) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	log, flush, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, flush: flush}

	gw := api.NewGateway(log).
		WithTimeout(cfg.HTTPTimeout()).
		WithBaseDelay(cfg.BaseDelay()).
		WithDedupeGrace(cfg.DedupeGrace()).
		WithMaxRetries(cfg.HTTP.MaxRetries)
	a.client = api.NewClient(gw, cfg.Backend.BaseURL, log)

	var stores []session.TokenStore
	if cfg.Cache.Enabled {
		path, err := cfg.CachePath()
		if err != nil {
			log.Warn("cache path unresolvable; running without cache", zap.Error(err))
		} else if cache, err := storage.Open(path); err != nil {
			log.Warn("cache unavailable; running without it", zap.Error(err))
		} else {
			a.cache = cache
			stores = append(stores, cache)
		}
	}
	if statePath, err := config.SessionStatePath(); err == nil {
		stores = append(stores, session.NewFileStore(statePath))
	}

	a.session = session.NewManager(a.client, log, stores...)
	gw.SetTokenProvider(a.session)

	a.store = store.New(a.client, a.cache, log)
	a.delivery = chat.NewDelivery(a.client, a.store, log)
	a.poller = chat.NewPoller(a.delivery, log).
		WithInterval(cfg.PollInterval()).
		WithMaxPolls(cfg.Chat.MaxPolls)
	return a, nil
}

// Close flushes pending cache writes and log output.
func (a *app) Close() {
	a.store.Close()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close failed", zap.Error(err))
		}
	}
	a.flush()
}
