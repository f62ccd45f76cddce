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

	"altus4/core/credentials"
	"altus4/core/shared/apperror"
	"altus4/core/store"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Name == "" || len(req.Password) < 8 {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"email, name, and a password of at least 8 characters are required",
			"Check the request body fields"))
		return
	}

	hash, err := s.creds.HashPassword(req.Password)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to process password", err))
		return
	}

	user, err := s.store.CreateUser(r.Context(), req.Email, req.Name, hash, store.RoleUser)
	if err == store.ErrDuplicateEmail {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"email is already registered",
			"Log in instead",
			"Use the password reset flow if the password is lost"))
		return
	}
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to create account", err))
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to issue token", err))
		return
	}

	respond(w, r, http.StatusCreated, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil || !credentials.VerifyPassword(user.PasswordHash, req.Password) {
		// One error for both cases so the endpoint does not leak which
		// emails exist.
		respondError(w, apperror.New(apperror.CodeUnauthorized,
			"invalid email or password",
			"Check the credentials and try again"))
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to issue token", err))
		return
	}

	respond(w, r, http.StatusOK, map[string]interface{}{
		"user":  user,
		"token": token,
	})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	user, err := s.store.GetUserByID(r.Context(), claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeNotFound, "account not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to load profile", err))
		return
	}
	respond(w, r, http.StatusOK, user)
}

type updateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req updateProfileRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"name and email are required",
			"Provide both fields"))
		return
	}

	if err := s.store.UpdateUserProfile(r.Context(), claims.ID, req.Name, req.Email); err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	user, err := s.store.GetUserByID(r.Context(), claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req changePasswordRequest
	if aerr := decodeJSON(r, &req); aerr != nil {
		respondError(w, aerr)
		return
	}
	if len(req.NewPassword) < 8 {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"new password must be at least 8 characters",
			"Choose a longer password"))
		return
	}

	user, err := s.store.GetUserByID(r.Context(), claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	if !credentials.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
		respondError(w, apperror.New(apperror.CodeUnauthorized,
			"current password is incorrect",
			"Check the current password"))
		return
	}

	hash, err := s.creds.HashPassword(req.NewPassword)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to process password", err))
		return
	}
	if err := s.store.UpdateUserPassword(r.Context(), claims.ID, hash); err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	respond(w, r, http.StatusOK, map[string]interface{}{"changed": true})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	user, err := s.store.GetUserByID(r.Context(), claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to issue token", err))
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	// Bearer tokens are stateless; logout clears cached session state only.
	s.cache.DeleteSession(r.Context(), claims.ID)
	respond(w, r, http.StatusOK, map[string]interface{}{"logged_out": true})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := s.store.DeactivateUser(r.Context(), claims.ID); err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	s.cache.DeleteSession(r.Context(), claims.ID)
	respond(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}
