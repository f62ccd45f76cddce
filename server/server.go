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

// Package server exposes the HTTP API: the API-key data plane (search) and
// the bearer-token management plane (auth, keys, databases, analytics), plus
// health and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"altus4/core/analytics"
	"altus4/core/auth"
	"altus4/core/cache"
	"altus4/core/config"
	"altus4/core/credentials"
	"altus4/core/ratelimit"
	"altus4/core/registry"
	"altus4/core/schema"
	"altus4/core/search"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// Options carries the wired service components.
type Options struct {
	Config       *config.Config
	Store        *store.Store
	Credentials  *credentials.Store
	Cache        *cache.Store
	Registry     *registry.Registry
	Auth         *auth.Service
	Limiter      *ratelimit.Limiter
	Orchestrator *search.Orchestrator
	Analytics    *analytics.Service
	Inspector    *schema.Inspector
}

// Server is the HTTP front of the service.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	creds     *credentials.Store
	cache     *cache.Store
	registry  *registry.Registry
	auth      *auth.Service
	limiter   *ratelimit.Limiter
	search    *search.Orchestrator
	analytics *analytics.Service
	inspector *schema.Inspector

	metrics *metrics
	http    *http.Server
	log     *logger.Logger
}

// New builds the router and the underlying http.Server.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		store:     opts.Store,
		creds:     opts.Credentials,
		cache:     opts.Cache,
		registry:  opts.Registry,
		auth:      opts.Auth,
		limiter:   opts.Limiter,
		search:    opts.Orchestrator,
		analytics: opts.Analytics,
		inspector: opts.Inspector,
		metrics:   newMetrics(prometheus.DefaultRegisterer),
		log:       logger.New("server"),
	}

	router := s.routes()

	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Tier", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
	})

	handler := s.withRequestID(s.withRecovery(s.withLogging(corsWrapper.Handler(router))))

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Config.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Data plane: API key auth.
	r.HandleFunc("/search", s.requireAPIKey(store.PermissionSearch, s.handleSearch)).Methods(http.MethodPost)
	r.HandleFunc("/search/suggestions", s.requireAPIKey(store.PermissionSearch, s.handleSuggestions)).Methods(http.MethodGet)
	r.HandleFunc("/search/analyze", s.requireAPIKey(store.PermissionAnalytics, s.handleAnalyze)).Methods(http.MethodPost)
	r.HandleFunc("/search/trends", s.requireAPIKey(store.PermissionAnalytics, s.handleSearchTrends)).Methods(http.MethodGet)
	r.HandleFunc("/search/history", s.requireAPIKey(store.PermissionSearch, s.handleSearchHistory)).Methods(http.MethodGet)

	// Management plane: bearer auth.
	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/profile", s.requireBearer(s.handleGetProfile)).Methods(http.MethodGet)
	r.HandleFunc("/auth/profile", s.requireBearer(s.handleUpdateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/auth/change-password", s.requireBearer(s.handleChangePassword)).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.requireBearer(s.handleRefresh)).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.requireBearer(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/auth/account", s.requireBearer(s.handleDeleteAccount)).Methods(http.MethodDelete)

	r.HandleFunc("/keys", s.requireBearer(s.handleCreateKey)).Methods(http.MethodPost)
	r.HandleFunc("/keys", s.requireBearer(s.handleListKeys)).Methods(http.MethodGet)
	r.HandleFunc("/keys/{id}", s.requireBearer(s.handleGetKey)).Methods(http.MethodGet)
	r.HandleFunc("/keys/{id}", s.requireBearer(s.handleUpdateKey)).Methods(http.MethodPut)
	r.HandleFunc("/keys/{id}", s.requireBearer(s.handleRevokeKey)).Methods(http.MethodDelete)
	r.HandleFunc("/keys/{id}/regenerate", s.requireBearer(s.handleRegenerateKey)).Methods(http.MethodPost)
	r.HandleFunc("/keys/{id}/usage", s.requireBearer(s.handleKeyUsage)).Methods(http.MethodGet)

	r.HandleFunc("/databases", s.requireBearer(s.handleAddDatabase)).Methods(http.MethodPost)
	r.HandleFunc("/databases", s.requireBearer(s.handleListDatabases)).Methods(http.MethodGet)
	r.HandleFunc("/databases/status", s.requireBearer(s.handleDatabaseStatuses)).Methods(http.MethodGet)
	r.HandleFunc("/databases/{id}", s.requireBearer(s.handleGetDatabase)).Methods(http.MethodGet)
	r.HandleFunc("/databases/{id}", s.requireBearer(s.handleUpdateDatabase)).Methods(http.MethodPut)
	r.HandleFunc("/databases/{id}", s.requireBearer(s.handleRemoveDatabase)).Methods(http.MethodDelete)
	r.HandleFunc("/databases/{id}/test", s.requireBearer(s.handleTestDatabase)).Methods(http.MethodPost)
	r.HandleFunc("/databases/{id}/schema", s.requireBearer(s.handleDatabaseSchema)).Methods(http.MethodGet)

	r.HandleFunc("/analytics/popular-queries", s.requireBearer(s.handlePopularQueries)).Methods(http.MethodGet)
	r.HandleFunc("/analytics/performance", s.requireBearer(s.handlePerformance)).Methods(http.MethodGet)
	r.HandleFunc("/analytics/trends", s.requireBearer(s.handleAnalyticsTrends)).Methods(http.MethodGet)
	r.HandleFunc("/analytics/history", s.requireBearer(s.handleAnalyticsHistory)).Methods(http.MethodGet)
	r.HandleFunc("/analytics/admin/overview", s.requireRole(store.RoleAdmin, s.handleAdminOverview)).Methods(http.MethodGet)
	r.HandleFunc("/analytics/admin/slowest-queries", s.requireRole(store.RoleAdmin, s.handleAdminSlowest)).Methods(http.MethodGet)

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("", "", "http server listening", map[string]interface{}{
			"addr":        s.http.Addr,
			"environment": s.cfg.Environment,
		})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("", "", "shutting down", nil)
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	s.registry.Close()
	return nil
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"environment": s.cfg.Environment,
		"registry":    s.registry.Snapshot(),
	})
}
