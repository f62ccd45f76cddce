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
	"strconv"
	"strings"

	"altus4/core/search"
	"altus4/core/shared/apperror"
)

// searchBody mirrors search.Request with optional paging so an omitted limit
// gets the default without masking an explicit zero.
type searchBody struct {
	Query            string      `json:"query"`
	Databases        []string    `json:"databases"`
	Tables           []string    `json:"tables,omitempty"`
	Columns          []string    `json:"columns,omitempty"`
	SearchMode       search.Mode `json:"search_mode"`
	Limit            *int        `json:"limit,omitempty"`
	Offset           int         `json:"offset"`
	IncludeAnalytics bool        `json:"include_analytics,omitempty"`
}

const defaultSearchLimit = 20

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	var body searchBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}

	limit := defaultSearchLimit
	if body.Limit != nil {
		limit = *body.Limit
	}

	req := &search.Request{
		Query:            body.Query,
		Databases:        body.Databases,
		Tables:           body.Tables,
		Columns:          body.Columns,
		SearchMode:       body.SearchMode,
		Limit:            limit,
		Offset:           body.Offset,
		IncludeAnalytics: body.IncludeAnalytics,
		UserID:           key.UserID,
	}

	resp, aerr := s.search.Search(r.Context(), req)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"query parameter is required",
			"Pass ?query=<search terms>"))
		return
	}

	respond(w, r, http.StatusOK, s.search.Suggestions(r.Context(), key.UserID, query))
}

type analyzeBody struct {
	SQL string `json:"sql"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		respondError(w, aerr)
		return
	}
	if strings.TrimSpace(body.SQL) == "" {
		respondError(w, apperror.New(apperror.CodeValidationError,
			"sql field is required",
			"Provide the statement to analyse"))
		return
	}

	respond(w, r, http.StatusOK, s.search.Analyze(r.Context(), body.SQL))
}

func (s *Server) handleSearchTrends(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	trends, err := s.analytics.UserTrends(r.Context(), key.UserID)
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to compute trends", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, trends)
}

func (s *Server) handleSearchHistory(w http.ResponseWriter, r *http.Request) {
	key := apiKeyFrom(r.Context())

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	events, aerr := s.analytics.History(r.Context(), key.UserID, limit, offset)
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, r, http.StatusOK, events)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
