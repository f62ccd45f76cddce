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

package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altus4/core/config"
)

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestBuildDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:           "db.internal",
		Port:           3307,
		Username:       "app",
		Password:       "s3cret",
		Database:       "altus4",
		ConnectTimeout: 10 * time.Second,
	}

	dsn := BuildDSN(cfg, "")
	assert.Contains(t, dsn, "app:s3cret@tcp(db.internal:3307)/altus4?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "loc=UTC")
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "timeout=10s")
	assert.Contains(t, dsn, "multiStatements=false")
	assert.Contains(t, dsn, "interpolateParams=false")

	// An explicit password overrides the configured one.
	assert.Contains(t, BuildDSN(cfg, "other"), "app:other@tcp")

	// A socket path switches the address form.
	cfg.Socket = "/var/run/mysqld/mysqld.sock"
	assert.Contains(t, BuildDSN(cfg, ""), "@unix(/var/run/mysqld/mysqld.sock)/altus4")
}

func TestCreateUser(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `users`").
		WithArgs("dev@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	user, err := s.CreateUser(context.Background(), "dev@example.com", "Dev", "bcrypt-hash", RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "dev@example.com", user.Email)
	assert.Equal(t, RoleUser, user.Role)
	assert.True(t, user.IsActive)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM `users`").
		WithArgs("dev@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := s.CreateUser(context.Background(), "dev@example.com", "Dev", "hash", RoleUser)
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAPIKeyByPrefixHash(t *testing.T) {
	s, mock := testStore(t)

	now := time.Now()
	lastUsed := now.Add(-time.Minute)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "key_prefix", "key_hash", "name", "environment",
		"permissions", "rate_limit_tier", "expires_at", "is_active", "usage_count",
		"last_used", "created_at", "updated_at",
	}).AddRow("key-1", "user-1", "altus4_sk_test_ABCDEFGH", "deadbeef", "CI key", "test",
		[]byte(`["search","analytics"]`), "pro", nil, true, 42, lastUsed, now, now)

	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix = \\? AND key_hash = \\? AND is_active = TRUE").
		WithArgs("altus4_sk_test_ABCDEFGH", "deadbeef").
		WillReturnRows(rows)

	key, err := s.GetAPIKeyByPrefixHash(context.Background(), "altus4_sk_test_ABCDEFGH", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.ID)
	assert.Equal(t, []Permission{PermissionSearch, PermissionAnalytics}, key.Permissions)
	assert.Equal(t, TierPro, key.RateLimitTier)
	assert.Nil(t, key.ExpiresAt)
	require.NotNil(t, key.LastUsed)
	assert.Equal(t, int64(42), key.UsageCount)
}

func TestRevokeAPIKeyNotFound(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectExec("UPDATE api_keys SET is_active = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RevokeAPIKey(context.Background(), "key-404", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateConnectionKeepsCiphertextWhenPasswordEmpty(t *testing.T) {
	s, mock := testStore(t)

	conn := &DBConnection{
		ID:       "conn-1",
		UserID:   "user-1",
		Name:     "staging",
		Host:     "db.example.com",
		Port:     3306,
		Database: "app",
		Username: "reader",
	}

	// No password_encrypted column in the SET list when the ciphertext is
	// unchanged.
	mock.ExpectExec("UPDATE database_connections SET name = \\?, host = \\?, port = \\?, `database` = \\?,\\s+username = \\?, ssl_enabled = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateConnection(context.Background(), conn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAnalyticsEvent(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectExec("INSERT INTO search_analytics").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ev := &AnalyticsEvent{
		UserID:          "user-1",
		QueryText:       "alpha",
		SearchMode:      "natural",
		ResultCount:     3,
		ExecutionTimeMS: 12,
	}
	require.NoError(t, s.AppendAnalyticsEvent(context.Background(), ev))

	// The store fills in identity and timestamp for the caller.
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestHasPermission(t *testing.T) {
	key := &APIKey{Permissions: []Permission{PermissionSearch}}
	assert.True(t, key.HasPermission(PermissionSearch))
	assert.False(t, key.HasPermission(PermissionAnalytics))

	admin := &APIKey{Permissions: []Permission{PermissionAdmin}}
	assert.True(t, admin.HasPermission(PermissionSearch))
	assert.True(t, admin.HasPermission(PermissionAnalytics))
}
