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

// Package analytics computes derived reads over the append-only search log:
// popular queries, performance summaries, daily time series, paged history,
// and the admin-only system overview. All aggregates run on demand against
// the metadata database.
package analytics

import (
	"context"
	"database/sql"
	"time"

	"altus4/core/search"
	"altus4/core/shared/apperror"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// defaultRange is the window used when the caller supplies no bounds.
const defaultRange = 7 * 24 * time.Hour

// History paging bounds.
const (
	historyMinLimit = 1
	historyMaxLimit = 1000
)

// Range is an inclusive time window.
type Range struct {
	Start time.Time
	End   time.Time
}

// normalize fills missing bounds: end defaults to now, start to seven days
// before end.
func (r Range) normalize() Range {
	if r.End.IsZero() {
		r.End = time.Now().UTC()
	}
	if r.Start.IsZero() {
		r.Start = r.End.Add(-defaultRange)
	}
	return r
}

// PopularQuery is one aggregated query row.
type PopularQuery struct {
	Query      string    `json:"query"`
	Frequency  int64     `json:"frequency"`
	AvgTime    float64   `json:"avg_time"`
	AvgResults float64   `json:"avg_results"`
	LastUsed   time.Time `json:"last_used"`
}

// Summary is the single-row performance aggregate for a user and range.
type Summary struct {
	AvgResponseTime float64 `json:"avg_response_time"`
	MaxResponseTime int64   `json:"max_response_time"`
	MinResponseTime int64   `json:"min_response_time"`
	TotalQueries    int64   `json:"total_queries"`
	AvgResults      float64 `json:"avg_results"`
}

// Overview is the admin-only system-wide aggregate.
type Overview struct {
	ActiveUsers     int64   `json:"active_users"`
	TotalQueries    int64   `json:"total_queries"`
	AvgResponseTime float64 `json:"avg_response_time"`
	AvgResults      float64 `json:"avg_results"`
}

// SlowQuery is one entry of the admin slowest-queries report.
type SlowQuery struct {
	Query           string    `json:"query"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	ResultCount     int       `json:"result_count"`
	UserID          string    `json:"user_id"`
	UserEmail       string    `json:"user_email"`
	UserName        string    `json:"user_name"`
	CreatedAt       time.Time `json:"created_at"`
}

// Service computes analytics aggregates.
type Service struct {
	db  *sql.DB
	log *logger.Logger
}

// New creates a Service over the metadata database handle.
func New(db *sql.DB) *Service {
	return &Service{
		db:  db,
		log: logger.New("analytics"),
	}
}

// PopularQueries groups a user's searches by query text within a range.
func (s *Service) PopularQueries(ctx context.Context, userID string, r Range, limit int) ([]PopularQuery, error) {
	r = r.normalize()
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT query_text, COUNT(*) AS frequency,
			AVG(execution_time_ms) AS avg_time,
			AVG(result_count) AS avg_results,
			MAX(created_at) AS last_used
		FROM search_analytics
		WHERE user_id = ? AND created_at BETWEEN ? AND ?
		GROUP BY query_text
		ORDER BY frequency DESC, last_used DESC
		LIMIT ?`,
		userID, r.Start, r.End, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]PopularQuery, 0)
	for rows.Next() {
		var p PopularQuery
		if err := rows.Scan(&p.Query, &p.Frequency, &p.AvgTime, &p.AvgResults, &p.LastUsed); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PerformanceSummary aggregates response-time statistics for a user.
func (s *Service) PerformanceSummary(ctx context.Context, userID string, r Range) (*Summary, error) {
	r = r.normalize()

	var (
		sum        Summary
		avgTime    sql.NullFloat64
		maxTime    sql.NullInt64
		minTime    sql.NullInt64
		avgResults sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(execution_time_ms), MAX(execution_time_ms), MIN(execution_time_ms),
			COUNT(*), AVG(result_count)
		FROM search_analytics
		WHERE user_id = ? AND created_at BETWEEN ? AND ?`,
		userID, r.Start, r.End).
		Scan(&avgTime, &maxTime, &minTime, &sum.TotalQueries, &avgResults)
	if err != nil {
		return nil, err
	}

	sum.AvgResponseTime = avgTime.Float64
	sum.MaxResponseTime = maxTime.Int64
	sum.MinResponseTime = minTime.Int64
	sum.AvgResults = avgResults.Float64
	return &sum, nil
}

// TimeSeries groups a user's searches by calendar day within a range.
func (s *Service) TimeSeries(ctx context.Context, userID string, r Range) ([]search.TrendPoint, error) {
	r = r.normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(created_at) AS day, COUNT(*) AS query_count,
			AVG(execution_time_ms) AS avg_response_time
		FROM search_analytics
		WHERE user_id = ? AND created_at BETWEEN ? AND ?
		GROUP BY DATE(created_at)
		ORDER BY day ASC`,
		userID, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]search.TrendPoint, 0)
	for rows.Next() {
		var p search.TrendPoint
		if err := rows.Scan(&p.Date, &p.QueryCount, &p.AvgResponseTime); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UserTrends implements the orchestrator's trend source with the default
// seven-day window.
func (s *Service) UserTrends(ctx context.Context, userID string) ([]search.TrendPoint, error) {
	return s.TimeSeries(ctx, userID, Range{})
}

// History returns a user's raw search events, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]store.AnalyticsEvent, *apperror.Error) {
	if limit < historyMinLimit || limit >= historyMaxLimit {
		return nil, apperror.New(apperror.CodeValidationError,
			"history limit must be between 1 and 999",
			"Lower the limit parameter")
	}
	if offset < 0 {
		return nil, apperror.New(apperror.CodeValidationError,
			"offset must not be negative",
			"Use an offset of 0 or more")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, query_text, search_mode, COALESCE(database_id, ''),
			result_count, execution_time_ms, created_at
		FROM search_analytics
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternalError, "failed to read search history", err,
			"Retry the request")
	}
	defer func() { _ = rows.Close() }()

	out := make([]store.AnalyticsEvent, 0)
	for rows.Next() {
		var ev store.AnalyticsEvent
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.QueryText, &ev.SearchMode,
			&ev.DatabaseID, &ev.ResultCount, &ev.ExecutionTimeMS, &ev.CreatedAt); err != nil {
			return nil, apperror.Wrap(apperror.CodeInternalError, "failed to read search history", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternalError, "failed to read search history", err)
	}
	return out, nil
}

// SystemOverview is the admin-only service-wide aggregate for a range.
func (s *Service) SystemOverview(ctx context.Context, r Range) (*Overview, error) {
	r = r.normalize()

	var (
		o          Overview
		avgTime    sql.NullFloat64
		avgResults sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id), COUNT(*),
			AVG(execution_time_ms), AVG(result_count)
		FROM search_analytics
		WHERE created_at BETWEEN ? AND ?`,
		r.Start, r.End).
		Scan(&o.ActiveUsers, &o.TotalQueries, &avgTime, &avgResults)
	if err != nil {
		return nil, err
	}

	o.AvgResponseTime = avgTime.Float64
	o.AvgResults = avgResults.Float64
	return &o, nil
}

// SlowestQueries is the admin-only report of the ten slowest searches in a
// range, joined with the owning user's identity.
func (s *Service) SlowestQueries(ctx context.Context, r Range) ([]SlowQuery, error) {
	r = r.normalize()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.query_text, a.execution_time_ms, a.result_count,
			a.user_id, u.email, u.name, a.created_at
		FROM search_analytics a
		JOIN users u ON u.id = a.user_id
		WHERE a.created_at BETWEEN ? AND ?
		ORDER BY a.execution_time_ms DESC
		LIMIT 10`,
		r.Start, r.End)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]SlowQuery, 0)
	for rows.Next() {
		var q SlowQuery
		if err := rows.Scan(&q.Query, &q.ExecutionTimeMS, &q.ResultCount,
			&q.UserID, &q.UserEmail, &q.UserName, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
