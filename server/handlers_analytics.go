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
	"time"

	"altus4/core/analytics"
	"altus4/core/shared/apperror"
)

// queryRange parses optional start/end RFC 3339 parameters; zero values fall
// back to the service default window.
func queryRange(r *http.Request) analytics.Range {
	var rng analytics.Range
	if raw := r.URL.Query().Get("start"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rng.Start = t
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			rng.End = t
		}
	}
	return rng
}

func (s *Server) handlePopularQueries(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	popular, err := s.analytics.PopularQueries(r.Context(), claims.ID, queryRange(r), queryInt(r, "limit", 10))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to aggregate popular queries", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, popular)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	summary, err := s.analytics.PerformanceSummary(r.Context(), claims.ID, queryRange(r))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to aggregate performance", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, summary)
}

func (s *Server) handleAnalyticsTrends(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	trends, err := s.analytics.TimeSeries(r.Context(), claims.ID, queryRange(r))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to compute trends", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, trends)
}

func (s *Server) handleAnalyticsHistory(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	events, aerr := s.analytics.History(r.Context(), claims.ID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if aerr != nil {
		respondError(w, aerr)
		return
	}
	respond(w, r, http.StatusOK, events)
}

func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.analytics.SystemOverview(r.Context(), queryRange(r))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to aggregate overview", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, overview)
}

func (s *Server) handleAdminSlowest(w http.ResponseWriter, r *http.Request) {
	slowest, err := s.analytics.SlowestQueries(r.Context(), queryRange(r))
	if err != nil {
		respondError(w, apperror.Wrap(apperror.CodeInternalError, "failed to aggregate slow queries", err,
			"Retry the request"))
		return
	}
	respond(w, r, http.StatusOK, slowest)
}
