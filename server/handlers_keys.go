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
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"altus4/core/shared/apperror"
	"altus4/core/store"
)

type createKeyRequest struct {
	Name        string     `json:"name"`
	Environment string     `json:"environment"`
	Permissions []string   `json:"permissions"`
	Tier        string     `json:"rate_limit_tier"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

var validPermissions = map[store.Permission]bool{
	store.PermissionSearch:    true,
	store.PermissionAnalytics: true,
	store.PermissionAdmin:     true,
}

var validTiers = map[store.RateLimitTier]bool{
	store.TierFree:       true,
	store.TierPro:        true,
	store.TierEnterprise: true,
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req createKeyRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"key name is required",
			"Provide a descriptive name"))
		return
	}

	env := store.Environment(req.Environment)
	if env == "" {
		env = store.EnvironmentTest
	}
	if env != store.EnvironmentTest && env != store.EnvironmentLive {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"environment must be test or live",
			"Use \"test\" or \"live\""))
		return
	}

	perms := make([]store.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perm := store.Permission(p)
		if !validPermissions[perm] {
			respondError(w, apperror.New(apperror.CodeInvalidPermissions,
				"unknown permission: "+p,
				"Valid permissions are search, analytics, admin"))
			return
		}
		perms = append(perms, perm)
	}
	if len(perms) == 0 {
		perms = []store.Permission{store.PermissionSearch}
	}

	tier := store.RateLimitTier(req.Tier)
	if tier == "" {
		tier = store.TierFree
	}
	if !validTiers[tier] {
		respondError(w, apperror.New(apperror.CodeInvalidRateLimitTier,
			"unknown rate limit tier: "+req.Tier,
			"Valid tiers are free, pro, enterprise"))
		return
	}

	key, plaintext, err := s.auth.CreateAPIKey(r.Context(), claims.ID, req.Name, env, perms, tier, req.ExpiresAt)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	// The plaintext secret appears in this response and nowhere else.
	respond(w, r, http.StatusCreated, map[string]interface{}{
		"api_key": key,
		"secret":  plaintext,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	keys, err := s.store.ListAPIKeysByUser(r.Context(), claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, keys)
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	key, err := s.store.GetAPIKeyByID(r.Context(), mux.Vars(r)["id"], claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "API key not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, key)
}

type updateKeyRequest struct {
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	Tier        string     `json:"rate_limit_tier"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := mux.Vars(r)["id"]

	var req updateKeyRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}

	existing, err := s.store.GetAPIKeyByID(r.Context(), id, claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "API key not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = existing.Name
	}

	perms := existing.Permissions
	if len(req.Permissions) > 0 {
		perms = make([]store.Permission, 0, len(req.Permissions))
		for _, p := range req.Permissions {
			perm := store.Permission(p)
			if !validPermissions[perm] {
				respondError(w, apperror.New(apperror.CodeInvalidPermissions,
					"unknown permission: "+p,
					"Valid permissions are search, analytics, admin"))
				return
			}
			perms = append(perms, perm)
		}
	}

	tier := existing.RateLimitTier
	if req.Tier != "" {
		tier = store.RateLimitTier(req.Tier)
		if !validTiers[tier] {
			respondError(w, apperror.New(apperror.CodeInvalidRateLimitTier,
				"unknown rate limit tier: "+req.Tier,
				"Valid tiers are free, pro, enterprise"))
			return
		}
	}

	expiresAt := existing.ExpiresAt
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt
	}

	if err := s.store.UpdateAPIKey(r.Context(), id, claims.ID, name, perms, tier, expiresAt); err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	updated, err := s.store.GetAPIKeyByID(r.Context(), id, claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, updated)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	err := s.store.RevokeAPIKey(r.Context(), mux.Vars(r)["id"], claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "API key not found or already revoked"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"revoked": true})
}

func (s *Server) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	key, plaintext, err := s.auth.RegenerateAPIKey(r.Context(), mux.Vars(r)["id"], claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "API key not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusCreated, map[string]interface{}{
		"api_key": key,
		"secret":  plaintext,
	})
}

func (s *Server) handleKeyUsage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	key, err := s.store.GetAPIKeyByID(r.Context(), mux.Vars(r)["id"], claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "API key not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	respond(w, r, http.StatusOK, map[string]interface{}{
		"usage_count": key.UsageCount,
		"last_used":   key.LastUsed,
		"tier":        key.RateLimitTier,
		"is_active":   key.IsActive,
	})
}
