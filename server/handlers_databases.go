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

	"github.com/gorilla/mux"

	"altus4/core/registry"
	"altus4/core/shared/apperror"
	"altus4/core/store"
)

func (s *Server) handleAddDatabase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var in registry.ConnectionInput
	if aerr := decodeJSON(r, &in); aerr != nil {
		respondError(w, aerr)
		return
	}

	conn, aerr := s.registry.AddConnection(r.Context(), claims.ID, in)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, r, http.StatusCreated, conn)
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	conns, err := s.store.ListConnectionsByUser(r.Context(), claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, conns)
}

func (s *Server) handleGetDatabase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	conn, err := s.store.GetConnectionByID(r.Context(), mux.Vars(r)["id"], claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeConnectionNotFound, "database connection not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, conn)
}

func (s *Server) handleUpdateDatabase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := mux.Vars(r)["id"]

	var in registry.ConnectionInput
	if aerr := decodeJSON(r, &in); aerr != nil {
		respondError(w, aerr)
		return
	}

	existing, err := s.store.GetConnectionByID(r.Context(), id, claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeConnectionNotFound, "database connection not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	if in.Name != "" {
		existing.Name = in.Name
	}
	if in.Host != "" {
		existing.Host = in.Host
	}
	if in.Port != 0 {
		existing.Port = in.Port
	}
	if in.Database != "" {
		existing.Database = in.Database
	}
	if in.Username != "" {
		existing.Username = in.Username
	}
	existing.SSLEnabled = in.SSL

	// An empty password keeps the stored ciphertext.
	existing.PasswordEncrypted = ""
	if in.Password != "" {
		encrypted, encErr := s.creds.Encrypt(in.Password)
		if encErr != nil {
			respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to protect credentials", encErr))
			return
		}
		existing.PasswordEncrypted = encrypted
	}

	if err := s.store.UpdateConnection(r.Context(), existing); err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	// Drop any cached pool so the next search picks up the new settings.
	s.registry.RefreshConnection(id)

	updated, err := s.store.GetConnectionByID(r.Context(), id, claims.ID)
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}
	respond(w, r, http.StatusOK, updated)
}

func (s *Server) handleRemoveDatabase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := mux.Vars(r)["id"]

	err := s.store.DeactivateConnection(r.Context(), id, claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeConnectionNotFound, "database connection not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	s.registry.RemoveConnection(id)
	respond(w, r, http.StatusOK, map[string]interface{}{"removed": true})
}

func (s *Server) handleTestDatabase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := mux.Vars(r)["id"]

	// Ownership check before touching the pool.
	if _, err := s.store.GetConnectionByID(r.Context(), id, claims.ID); err != nil {
		if err == store.ErrNotFound {
			respondError(w, apperror.New(apperror.CodeConnectionNotFound, "database connection not found"))
			return
		}
		respondError(w, apperror.Classify(err))
		return
	}

	status, latency, aerr := s.registry.TestConnection(r.Context(), id)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, r, http.StatusOK, map[string]interface{}{
		"status":     status,
		"latency_ms": latency.Milliseconds(),
	})
}

func (s *Server) handleDatabaseSchema(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := mux.Vars(r)["id"]

	conn, err := s.store.GetConnectionByID(r.Context(), id, claims.ID)
	if err == store.ErrNotFound {
		respondError(w, apperror.New(apperror.CodeConnectionNotFound, "database connection not found"))
		return
	}
	if err != nil {
		respondError(w, apperror.Classify(err))
		return
	}

	pool, aerr := s.registry.GetConnection(r.Context(), id)
	if aerr != nil {
		respondError(w, aerr)
		return
	}

	schemas, err := s.inspector.DescribeDatabase(r.Context(), pool, conn.Database)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "schema discovery failed", err,
			"Test the connection via POST /databases/:id/test"))
		return
	}
	respond(w, r, http.StatusOK, schemas)
}

func (s *Server) handleDatabaseStatuses(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, s.registry.ConnectionStatuses(r.Context()))
}
