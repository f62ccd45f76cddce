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
	"time"
)

// Role is a user role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is a registered account. Users are soft-deactivated, never
// hard-deleted.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Environment distinguishes test from live API keys.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// RateLimitTier is a named rate-limit budget attached to an API key.
type RateLimitTier string

const (
	TierFree       RateLimitTier = "free"
	TierPro        RateLimitTier = "pro"
	TierEnterprise RateLimitTier = "enterprise"
)

// Permission names an operation class an API key may perform.
type Permission string

const (
	PermissionSearch    Permission = "search"
	PermissionAnalytics Permission = "analytics"
	PermissionAdmin     Permission = "admin"
)

// APIKey is a long-lived data-plane credential. Only the prefix and the
// one-way hash of the full secret persist; the plaintext secret is returned
// exactly once at creation.
type APIKey struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	KeyPrefix     string        `json:"key_prefix"`
	KeyHash       string        `json:"-"`
	Name          string        `json:"name"`
	Environment   Environment   `json:"environment"`
	Permissions   []Permission  `json:"permissions"`
	RateLimitTier RateLimitTier `json:"rate_limit_tier"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	IsActive      bool          `json:"is_active"`
	UsageCount    int64         `json:"usage_count"`
	LastUsed      *time.Time    `json:"last_used,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// HasPermission reports whether the key grants p. Admin keys implicitly hold
// all permissions.
func (k *APIKey) HasPermission(p Permission) bool {
	for _, have := range k.Permissions {
		if have == PermissionAdmin || have == p {
			return true
		}
	}
	return false
}

// ConnectionStatus is the last observed health of a tenant database
// connection.
type ConnectionStatus string

const (
	StatusUnknown   ConnectionStatus = "unknown"
	StatusConnected ConnectionStatus = "connected"
	StatusFailed    ConnectionStatus = "failed"
)

// DBConnection is a tenant-owned MySQL target. PasswordEncrypted holds the
// AEAD ciphertext and is never serialized to clients.
type DBConnection struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	Name              string           `json:"name"`
	Host              string           `json:"host"`
	Port              int              `json:"port"`
	Database          string           `json:"database"`
	Username          string           `json:"username"`
	PasswordEncrypted string           `json:"-"`
	SSLEnabled        bool             `json:"ssl_enabled"`
	IsActive          bool             `json:"is_active"`
	ConnectionStatus  ConnectionStatus `json:"connection_status"`
	LastTested        *time.Time       `json:"last_tested,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// AnalyticsEvent is one append-only record of an executed search.
type AnalyticsEvent struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	QueryText       string    `json:"query_text"`
	SearchMode      string    `json:"search_mode"`
	DatabaseID      string    `json:"database_id,omitempty"`
	ResultCount     int       `json:"result_count"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	CreatedAt       time.Time `json:"created_at"`
}
