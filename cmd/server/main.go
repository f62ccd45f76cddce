// Copyright 2026 Altus4
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The altus4 server binary: wires configuration, storage, cache, auth, the
// connection registry, and the search orchestrator behind the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"altus4/core/ai"
	"altus4/core/analytics"
	"altus4/core/auth"
	"altus4/core/cache"
	"altus4/core/config"
	"altus4/core/credentials"
	"altus4/core/ratelimit"
	"altus4/core/registry"
	"altus4/core/schema"
	"altus4/core/search"
	"altus4/core/server"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

func main() {
	log := logger.New("main")

	cfg, err := config.Load()
	if err != nil {
		log.Error("", "", "configuration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("", "", "configuration invalid", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		log.Error("", "", "metadata database unavailable", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	st := store.New(db)

	cacheStore, err := cache.New(&cfg.Cache)
	if err != nil {
		log.Error("", "", "cache unavailable", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer func() { _ = cacheStore.Close() }()

	creds, err := credentials.NewStore(credentials.Options{Key: cfg.EncryptionKey})
	if err != nil {
		log.Error("", "", "encryption key invalid", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	reg := registry.New(st, creds).
		WithTimeouts(cfg.Database.ConnectTimeout, cfg.Database.AcquireTimeout)
	defer reg.Close()

	inspector := schema.NewInspector()
	adapter := ai.New(&cfg.LLM)
	analyticsSvc := analytics.New(db)
	orchestrator := search.NewOrchestrator(reg, inspector, cacheStore, adapter, st).
		WithTrendSource(analyticsSvc).
		WithSearchTTL(cfg.Cache.SearchTTL)

	limiter := ratelimit.New(cacheStore).
		WithWindow(cfg.RateLimit.Window).
		WithDefaultLimit(cfg.RateLimit.Max)

	srv := server.New(server.Options{
		Config:       cfg,
		Store:        st,
		Credentials:  creds,
		Cache:        cacheStore,
		Registry:     reg,
		Auth:         auth.New(st, cfg.JWTSecret),
		Limiter:      limiter,
		Orchestrator: orchestrator,
		Analytics:    analyticsSvc,
		Inspector:    inspector,
	})

	if err := srv.Run(ctx); err != nil {
		log.Error("", "", "server exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
