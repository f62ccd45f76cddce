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

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"altus4/core/auth"
	"altus4/core/shared/apperror"
	"altus4/core/store"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeyClaims    contextKey = "claims"
	ctxKeyAPIKey    contextKey = "api_key"
)

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func claimsFrom(ctx context.Context) *auth.TokenClaims {
	claims, _ := ctx.Value(ctxKeyClaims).(*auth.TokenClaims)
	return claims
}

func apiKeyFrom(ctx context.Context) *store.APIKey {
	key, _ := ctx.Value(ctxKeyAPIKey).(*store.APIKey)
	return key
}

// withRequestID assigns each request a correlation id, honouring a
// client-supplied X-Request-ID.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// withRecovery converts panics into INTERNAL_ERROR responses.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				aerr := apperror.Wrap(apperror.CodeInternalError, "internal error",
					fmt.Errorf("panic: %v", rec),
					"Retry the request")
				s.log.ErrorSanitized("", requestIDFrom(r.Context()), "handler panic", aerr)
				respondError(w, aerr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withLogging emits one structured entry per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		s.log.InfoWithDuration("", requestIDFrom(r.Context()), "request handled",
			float64(time.Since(start).Microseconds())/1000.0,
			map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": sw.status,
			})
		s.metrics.observe(r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireBearer authenticates the management plane with a bearer token.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, aerr := auth.ExtractBearer(r.Header.Get("Authorization"))
		if aerr != nil {
			respondError(w, aerr)
			return
		}

		claims, aerr := s.auth.VerifyToken(token)
		if aerr != nil {
			respondError(w, aerr)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
	}
}

// requireRole layers a role check over bearer authentication.
func (s *Server) requireRole(role store.Role, next http.HandlerFunc) http.HandlerFunc {
	return s.requireBearer(func(w http.ResponseWriter, r *http.Request) {
		if aerr := auth.RequireRole(claimsFrom(r.Context()).Role, role); aerr != nil {
			respondError(w, aerr)
			return
		}
		next(w, r)
	})
}

// requireAPIKey authenticates the data plane with an API key, enforces the
// key's rate-limit tier, and sets the X-RateLimit headers.
func (s *Server) requireAPIKey(permission store.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, aerr := auth.ExtractBearer(r.Header.Get("Authorization"))
		if aerr != nil {
			// Data-plane callers get key-flavoured errors.
			switch aerr.Code {
			case apperror.CodeNoToken:
				aerr = apperror.New(apperror.CodeNoAPIKey, "API key required",
					"Send an Authorization: Bearer altus4_sk_... header")
			}
			respondError(w, aerr)
			return
		}

		key, aerr := s.auth.ValidateAPIKey(r.Context(), raw)
		if aerr != nil {
			respondError(w, aerr)
			return
		}

		if aerr := auth.RequirePermission(key, permission); aerr != nil {
			respondError(w, aerr)
			return
		}

		limit := s.limiter.Check(r.Context(), key.ID, key.RateLimitTier)
		w.Header().Set("X-RateLimit-Tier", string(limit.Tier))
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limit.Remaining))
		if !limit.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(limit.RetryAfter.Seconds())))
			respondError(w, apperror.New(apperror.CodeRateLimitExceeded,
				"rate limit exceeded for tier "+string(limit.Tier),
				"Wait for the current window to expire",
				"Upgrade the key's tier for a larger budget"))
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyAPIKey, key)))
	}
}
