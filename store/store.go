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

// Package store is the persistent metadata layer: users, API keys, tenant
// database connections, and the append-only search analytics log. It speaks
// MySQL through database/sql with parameter binding throughout.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"

	"altus4/core/config"
)

// ErrNotFound is returned when a row does not exist or is inactive.
var ErrNotFound = fmt.Errorf("record not found")

// ErrDuplicateEmail is returned when registering an email that already
// exists.
var ErrDuplicateEmail = fmt.Errorf("email already registered")

// Store wraps the metadata database handle.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New creates a Store over an existing database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: log.New(os.Stdout, "[STORE] ", log.LstdFlags),
	}
}

// Open dials the metadata database and verifies connectivity.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", BuildDSN(cfg, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	db.SetMaxOpenConns(cfg.PoolMax * 5)
	db.SetMaxIdleConns(cfg.PoolMax)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping metadata database: %w", err)
	}

	return db, nil
}

// BuildDSN constructs a MySQL DSN from config. An empty password is allowed;
// the resulting dial will fail server-side, which is the intended behaviour
// when a credential could not be decrypted.
func BuildDSN(cfg *config.DatabaseConfig, password string) string {
	if password == "" {
		password = cfg.Password
	}

	address := fmt.Sprintf("tcp(%s:%d)", cfg.Host, cfg.Port)
	if cfg.Socket != "" {
		address = fmt.Sprintf("unix(%s)", cfg.Socket)
	}

	params := []string{
		"parseTime=true",
		"loc=UTC",
		"charset=utf8mb4",
		"collation=utf8mb4_unicode_ci",
		fmt.Sprintf("timeout=%s", cfg.ConnectTimeout),
		"readTimeout=30s",
		"writeTimeout=30s",
		"multiStatements=false",
		"interpolateParams=false",
	}

	return fmt.Sprintf("%s:%s@%s/%s?%s",
		cfg.Username, password, address, cfg.Database, strings.Join(params, "&"))
}

// DB exposes the underlying handle for components that run their own SQL
// (analytics aggregation, migrations).
func (s *Store) DB() *sql.DB {
	return s.db
}

// ----------------------------------------------------------------
// Users
// ----------------------------------------------------------------

// CreateUser inserts a new user row. The caller supplies the password hash.
func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string, role Role) (*User, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM `users` WHERE `email` = ?", email).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check email uniqueness: %w", err)
	}
	if exists > 0 {
		return nil, ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.IsActive,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

// GetUserByEmail fetches an active user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, is_active, created_at, updated_at
		FROM users WHERE email = ? AND is_active = TRUE`, email))
}

// GetUserByID fetches an active user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, role, is_active, created_at, updated_at
		FROM users WHERE id = ? AND is_active = TRUE`, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// UpdateUserProfile updates name and email.
func (s *Store) UpdateUserProfile(ctx context.Context, id, name, email string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET name = ?, email = ?, updated_at = ?
		WHERE id = ? AND is_active = TRUE`,
		name, email, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateUserPassword replaces the stored password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ?
		WHERE id = ? AND is_active = TRUE`,
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRowAffected(res)
}

// DeactivateUser soft-deletes an account. The row is retained for audit.
func (s *Store) DeactivateUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active = FALSE, updated_at = ?
		WHERE id = ? AND is_active = TRUE`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	return requireRowAffected(res)
}

// ----------------------------------------------------------------
// API keys
// ----------------------------------------------------------------

// InsertAPIKey persists a new key row. Only prefix and hash are stored.
func (s *Store) InsertAPIKey(ctx context.Context, key *APIKey) error {
	permsJSON, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_prefix, key_hash, name, environment,
			permissions, rate_limit_tier, expires_at, is_active, usage_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		key.ID, key.UserID, key.KeyPrefix, key.KeyHash, key.Name, key.Environment,
		permsJSON, key.RateLimitTier, key.ExpiresAt, key.IsActive,
		key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, user_id, key_prefix, key_hash, name, environment,
	permissions, rate_limit_tier, expires_at, is_active, usage_count, last_used,
	created_at, updated_at`

// GetAPIKeyByPrefixHash resolves a key by its public prefix and secret hash.
// Only active keys resolve.
func (s *Store) GetAPIKeyByPrefixHash(ctx context.Context, prefix, hash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys WHERE key_prefix = ? AND key_hash = ? AND is_active = TRUE`,
		prefix, hash)
	return scanAPIKey(row)
}

// GetAPIKeyByID fetches a key owned by userID. Revoked keys are returned so
// owners can audit them.
func (s *Store) GetAPIKeyByID(ctx context.Context, id, userID string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys WHERE id = ? AND user_id = ?`, id, userID)
	return scanAPIKey(row)
}

// ListAPIKeysByUser returns all keys owned by a user, newest first.
func (s *Store) ListAPIKeysByUser(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make([]*APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var (
		k         APIKey
		permsJSON []byte
		expiresAt sql.NullTime
		lastUsed  sql.NullTime
	)
	err := row.Scan(&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &k.Name, &k.Environment,
		&permsJSON, &k.RateLimitTier, &expiresAt, &k.IsActive, &k.UsageCount, &lastUsed,
		&k.CreatedAt, &k.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}

	if err := json.Unmarshal(permsJSON, &k.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}

	return &k, nil
}

// UpdateAPIKey changes mutable key fields.
func (s *Store) UpdateAPIKey(ctx context.Context, id, userID, name string, permissions []Permission, tier RateLimitTier, expiresAt *time.Time) error {
	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET name = ?, permissions = ?, rate_limit_tier = ?,
			expires_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		name, permsJSON, tier, expiresAt, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	return requireRowAffected(res)
}

// RevokeAPIKey marks a key inactive. The row is retained for audit.
func (s *Store) RevokeAPIKey(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = FALSE, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = TRUE`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return requireRowAffected(res)
}

// TouchAPIKeyUsage atomically increments usage_count and stamps last_used.
func (s *Store) TouchAPIKeyUsage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET usage_count = usage_count + 1, last_used = ?
		WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record api key usage: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------
// Database connections
// ----------------------------------------------------------------

const connectionColumns = `id, user_id, name, host, port, ` + "`database`" + `, username,
	password_encrypted, ssl_enabled, is_active, connection_status, last_tested,
	created_at, updated_at`

// InsertConnection persists a new tenant database connection.
func (s *Store) InsertConnection(ctx context.Context, conn *DBConnection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO database_connections (id, user_id, name, host, port, `+"`database`"+`,
			username, password_encrypted, ssl_enabled, is_active, connection_status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.UserID, conn.Name, conn.Host, conn.Port, conn.Database,
		conn.Username, conn.PasswordEncrypted, conn.SSLEnabled, conn.IsActive,
		conn.ConnectionStatus, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection: %w", err)
	}
	return nil
}

// GetActiveConnection fetches an active connection row by id, including its
// encrypted password. This is the hydration read: the only caller that may
// see the ciphertext is the connection registry.
func (s *Store) GetActiveConnection(ctx context.Context, id string) (*DBConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections WHERE id = ? AND is_active = TRUE`, id)
	return scanConnection(row)
}

// GetConnectionByID fetches a connection owned by userID.
func (s *Store) GetConnectionByID(ctx context.Context, id, userID string) (*DBConnection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections WHERE id = ? AND user_id = ? AND is_active = TRUE`,
		id, userID)
	return scanConnection(row)
}

// ListConnectionsByUser returns a user's active connections, newest first.
func (s *Store) ListConnectionsByUser(ctx context.Context, userID string) ([]*DBConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM database_connections WHERE user_id = ? AND is_active = TRUE
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conns := make([]*DBConnection, 0)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func scanConnection(row rowScanner) (*DBConnection, error) {
	var (
		c          DBConnection
		lastTested sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Host, &c.Port, &c.Database,
		&c.Username, &c.PasswordEncrypted, &c.SSLEnabled, &c.IsActive,
		&c.ConnectionStatus, &lastTested, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	if lastTested.Valid {
		c.LastTested = &lastTested.Time
	}
	return &c, nil
}

// UpdateConnection changes mutable connection fields. An empty
// passwordEncrypted keeps the stored ciphertext.
func (s *Store) UpdateConnection(ctx context.Context, conn *DBConnection) error {
	query := `
		UPDATE database_connections SET name = ?, host = ?, port = ?, ` + "`database`" + ` = ?,
			username = ?, ssl_enabled = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = TRUE`
	args := []interface{}{conn.Name, conn.Host, conn.Port, conn.Database,
		conn.Username, conn.SSLEnabled, time.Now().UTC(), conn.ID, conn.UserID}

	if conn.PasswordEncrypted != "" {
		query = `
		UPDATE database_connections SET name = ?, host = ?, port = ?, ` + "`database`" + ` = ?,
			username = ?, password_encrypted = ?, ssl_enabled = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = TRUE`
		args = []interface{}{conn.Name, conn.Host, conn.Port, conn.Database,
			conn.Username, conn.PasswordEncrypted, conn.SSLEnabled, time.Now().UTC(),
			conn.ID, conn.UserID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireRowAffected(res)
}

// DeactivateConnection soft-deletes a connection. The live pool is evicted
// by the registry, not here.
func (s *Store) DeactivateConnection(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE database_connections SET is_active = FALSE, updated_at = ?
		WHERE id = ? AND user_id = ? AND is_active = TRUE`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateConnectionStatus records the outcome of a health test.
func (s *Store) UpdateConnectionStatus(ctx context.Context, id string, status ConnectionStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE database_connections SET connection_status = ?, last_tested = ?, updated_at = ?
		WHERE id = ?`,
		status, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------
// Analytics log
// ----------------------------------------------------------------

// AppendAnalyticsEvent writes one search record to the append-only log.
func (s *Store) AppendAnalyticsEvent(ctx context.Context, ev *AnalyticsEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var databaseID interface{}
	if ev.DatabaseID != "" {
		databaseID = ev.DatabaseID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_analytics (id, user_id, query_text, search_mode,
			database_id, result_count, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.QueryText, ev.SearchMode, databaseID,
		ev.ResultCount, ev.ExecutionTimeMS, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append analytics event: %w", err)
	}
	return nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
