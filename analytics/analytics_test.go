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

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altus4/core/shared/apperror"
)

func testService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestRangeNormalize(t *testing.T) {
	r := Range{}.normalize()
	assert.False(t, r.End.IsZero())
	assert.Equal(t, r.End.Add(-7*24*time.Hour), r.Start)

	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	r = Range{End: end}.normalize()
	assert.Equal(t, end, r.End)
	assert.Equal(t, end.AddDate(0, 0, -7), r.Start)

	start := end.AddDate(0, 0, -1)
	r = Range{Start: start, End: end}.normalize()
	assert.Equal(t, start, r.Start)
}

func TestPopularQueries(t *testing.T) {
	s, mock := testService(t)

	lastUsed := time.Now().UTC()
	mock.ExpectQuery("SELECT query_text, COUNT\\(\\*\\) AS frequency").
		WillReturnRows(sqlmock.NewRows([]string{"query_text", "frequency", "avg_time", "avg_results", "last_used"}).
			AddRow("alpha decay", 12, 34.5, 6.2, lastUsed).
			AddRow("beta decay", 7, 20.1, 4.0, lastUsed))

	out, err := s.PopularQueries(context.Background(), "user-1", Range{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha decay", out[0].Query)
	assert.Equal(t, int64(12), out[0].Frequency)
	assert.Equal(t, 34.5, out[0].AvgTime)
}

func TestPerformanceSummary(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectQuery("SELECT AVG\\(execution_time_ms\\), MAX\\(execution_time_ms\\)").
		WillReturnRows(sqlmock.NewRows([]string{"avg", "max", "min", "count", "avg_results"}).
			AddRow(42.5, 900, 3, 120, 5.5))

	sum, err := s.PerformanceSummary(context.Background(), "user-1", Range{})
	require.NoError(t, err)
	assert.Equal(t, 42.5, sum.AvgResponseTime)
	assert.Equal(t, int64(900), sum.MaxResponseTime)
	assert.Equal(t, int64(3), sum.MinResponseTime)
	assert.Equal(t, int64(120), sum.TotalQueries)
}

func TestPerformanceSummaryEmptyLog(t *testing.T) {
	s, mock := testService(t)

	// With no events the aggregates come back NULL and scan to zeroes.
	mock.ExpectQuery("SELECT AVG\\(execution_time_ms\\), MAX\\(execution_time_ms\\)").
		WillReturnRows(sqlmock.NewRows([]string{"avg", "max", "min", "count", "avg_results"}).
			AddRow(nil, nil, nil, 0, nil))

	sum, err := s.PerformanceSummary(context.Background(), "user-1", Range{})
	require.NoError(t, err)
	assert.Zero(t, sum.AvgResponseTime)
	assert.Zero(t, sum.MaxResponseTime)
	assert.Zero(t, sum.TotalQueries)
}

func TestTimeSeries(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectQuery("SELECT DATE\\(created_at\\) AS day").
		WillReturnRows(sqlmock.NewRows([]string{"day", "query_count", "avg_response_time"}).
			AddRow("2026-08-20", 5, 30.0).
			AddRow("2026-08-21", 8, 25.0))

	out, err := s.TimeSeries(context.Background(), "user-1", Range{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "2026-08-20", out[0].Date)
	assert.Equal(t, int64(5), out[0].QueryCount)
	assert.Equal(t, 25.0, out[1].AvgResponseTime)
}

func TestHistoryLimitBounds(t *testing.T) {
	s, _ := testService(t)
	ctx := context.Background()

	for _, limit := range []int{0, -1, 1000, 5000} {
		_, aerr := s.History(ctx, "user-1", limit, 0)
		require.NotNil(t, aerr, "limit %d", limit)
		assert.Equal(t, apperror.CodeValidationError, aerr.Code)
	}

	_, aerr := s.History(ctx, "user-1", 50, -1)
	require.NotNil(t, aerr)
	assert.Equal(t, apperror.CodeValidationError, aerr.Code)
}

func TestHistory(t *testing.T) {
	s, mock := testService(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, user_id, query_text, search_mode, COALESCE\\(database_id, ''\\)").
		WithArgs("user-1", 999, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "query_text", "search_mode", "database_id", "result_count", "execution_time_ms", "created_at"}).
			AddRow("ev-2", "user-1", "beta", "natural", "", 0, 12, now).
			AddRow("ev-1", "user-1", "alpha", "natural", "db-1", 3, 45, now.Add(-time.Minute)))

	out, aerr := s.History(context.Background(), "user-1", 999, 0)
	require.Nil(t, aerr)
	require.Len(t, out, 2)
	assert.Equal(t, "ev-2", out[0].ID)
	assert.Equal(t, "", out[0].DatabaseID)
	assert.Equal(t, "db-1", out[1].DatabaseID)
}

func TestSystemOverview(t *testing.T) {
	s, mock := testService(t)

	mock.ExpectQuery("SELECT COUNT\\(DISTINCT user_id\\), COUNT\\(\\*\\)").
		WillReturnRows(sqlmock.NewRows([]string{"active_users", "total", "avg_time", "avg_results"}).
			AddRow(17, 3200, 55.2, 4.8))

	o, err := s.SystemOverview(context.Background(), Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(17), o.ActiveUsers)
	assert.Equal(t, int64(3200), o.TotalQueries)
	assert.Equal(t, 55.2, o.AvgResponseTime)
}

func TestSlowestQueries(t *testing.T) {
	s, mock := testService(t)

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT a.query_text, a.execution_time_ms, a.result_count").
		WillReturnRows(sqlmock.NewRows([]string{"query_text", "execution_time_ms", "result_count", "user_id", "email", "name", "created_at"}).
			AddRow("everything", 9001, 100, "user-1", "dev@example.com", "Dev", now))

	out, err := s.SlowestQueries(context.Background(), Range{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(9001), out[0].ExecutionTimeMS)
	assert.Equal(t, "dev@example.com", out[0].UserEmail)
}
