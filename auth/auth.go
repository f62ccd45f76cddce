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

// Package auth implements the two authentication flows: short-lived signed
// bearer tokens for management traffic and long-lived API keys for the
// search data plane, plus role and permission checks.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"altus4/core/credentials"
	"altus4/core/shared/apperror"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// API key format: altus4_sk_<env>_<secret>. The public prefix is the format
// prefix plus the first prefixSecretChars of the secret.
const (
	keyPrefix         = "altus4_sk_"
	prefixSecretChars = 8
	secretBytes       = 32
)

// DefaultTokenTTL is the bearer token lifetime.
const DefaultTokenTTL = time.Hour

// TokenClaims is the identity carried by a bearer token.
type TokenClaims struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  store.Role `json:"role"`
}

// Service performs token and API key authentication.
type Service struct {
	store     *store.Store
	jwtSecret []byte
	tokenTTL  time.Duration
	log       *logger.Logger
}

// New creates an authentication service.
func New(st *store.Store, jwtSecret string) *Service {
	return &Service{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  DefaultTokenTTL,
		log:       logger.New("auth"),
	}
}

// ----------------------------------------------------------------
// Bearer tokens (management plane)
// ----------------------------------------------------------------

// IssueToken signs a stateless bearer token for a user.
func (s *Service) IssueToken(user *store.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  string(user.Role),
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ExtractBearer pulls the credential out of an Authorization header.
//
// The contract is deliberately permissive: the scheme matches
// case-insensitively and surrounding whitespace is trimmed, so "bearer X"
// and " Bearer  X " both authenticate. A missing header or an empty token
// after the scheme is NO_TOKEN; a non-bearer scheme is INVALID_AUTH_FORMAT.
func ExtractBearer(header string) (string, *apperror.Error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperror.New(apperror.CodeNoToken, "authorization header required",
			"Send an Authorization: Bearer <token> header",
			"Obtain a token from POST /auth/login")
	}

	parts := strings.Fields(header)
	if !strings.EqualFold(parts[0], "bearer") {
		return "", apperror.New(apperror.CodeInvalidAuthFormat, "authorization scheme must be Bearer",
			"Use the form: Authorization: Bearer <token>")
	}
	if len(parts) < 2 {
		return "", apperror.New(apperror.CodeNoToken, "bearer token is empty",
			"Send an Authorization: Bearer <token> header",
			"Obtain a token from POST /auth/login")
	}

	return parts[1], nil
}

// VerifyToken validates a bearer token string and returns its claims.
func (s *Service) VerifyToken(tokenString string) (*TokenClaims, *apperror.Error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.New(apperror.CodeTokenExpired, "token has expired",
				"Refresh the token via POST /auth/refresh",
				"Log in again via POST /auth/login")
		}
		return nil, apperror.Wrap(apperror.CodeInvalidToken, "token is invalid", err,
			"Check that the token was issued by this service",
			"Log in again via POST /auth/login")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, apperror.New(apperror.CodeInvalidToken, "token is invalid",
			"Log in again via POST /auth/login")
	}

	return &TokenClaims{
		ID:    claimString(claims, "id"),
		Email: claimString(claims, "email"),
		Name:  claimString(claims, "name"),
		Role:  store.Role(claimString(claims, "role")),
	}, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// ----------------------------------------------------------------
// API keys (data plane)
// ----------------------------------------------------------------

// GeneratedKey is the one-time creation result. Plaintext is returned to the
// caller exactly once and never persisted.
type GeneratedKey struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// GenerateAPIKey mints a new API key secret for an environment.
func GenerateAPIKey(env store.Environment) (*GeneratedKey, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	plaintext := fmt.Sprintf("%s%s_%s", keyPrefix, env, secret)
	return &GeneratedKey{
		Plaintext: plaintext,
		Prefix:    apiKeyPrefix(plaintext),
		Hash:      credentials.HashAPIKey(plaintext),
	}, nil
}

// apiKeyPrefix returns the stable public prefix of a key:
// altus4_sk_<env>_<first 8 secret chars>.
func apiKeyPrefix(plaintext string) string {
	rest := strings.TrimPrefix(plaintext, keyPrefix)
	idx := strings.Index(rest, "_")
	if idx < 0 {
		return plaintext
	}
	secret := rest[idx+1:]
	if len(secret) > prefixSecretChars {
		secret = secret[:prefixSecretChars]
	}
	return keyPrefix + rest[:idx] + "_" + secret
}

// CreateAPIKey mints and persists a key for a user. The returned plaintext
// is shown once.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string, env store.Environment, permissions []store.Permission, tier store.RateLimitTier, expiresAt *time.Time) (*store.APIKey, string, error) {
	gen, err := GenerateAPIKey(env)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	key := &store.APIKey{
		ID:            uuid.NewString(),
		UserID:        userID,
		KeyPrefix:     gen.Prefix,
		KeyHash:       gen.Hash,
		Name:          name,
		Environment:   env,
		Permissions:   permissions,
		RateLimitTier: tier,
		ExpiresAt:     expiresAt,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return nil, "", err
	}

	return key, gen.Plaintext, nil
}

// RegenerateAPIKey revokes a key and mints a replacement with the same
// metadata.
func (s *Service) RegenerateAPIKey(ctx context.Context, id, userID string) (*store.APIKey, string, error) {
	existing, err := s.store.GetAPIKeyByID(ctx, id, userID)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.RevokeAPIKey(ctx, id, userID); err != nil && err != store.ErrNotFound {
		return nil, "", err
	}
	return s.CreateAPIKey(ctx, userID, existing.Name, existing.Environment,
		existing.Permissions, existing.RateLimitTier, existing.ExpiresAt)
}

// ValidateAPIKey resolves a plaintext API key to its active record. On
// success the key's usage counter is bumped asynchronously.
func (s *Service) ValidateAPIKey(ctx context.Context, plaintext string) (*store.APIKey, *apperror.Error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return nil, apperror.New(apperror.CodeNoAPIKey, "API key required",
			"Send an Authorization: Bearer altus4_sk_... header",
			"Create a key via POST /keys")
	}
	if !strings.HasPrefix(plaintext, keyPrefix) {
		return nil, apperror.New(apperror.CodeInvalidAPIKeyFormat, "API key format not recognised",
			"Keys have the form altus4_sk_<env>_<secret>",
			"Create a key via POST /keys")
	}

	key, err := s.store.GetAPIKeyByPrefixHash(ctx, apiKeyPrefix(plaintext), credentials.HashAPIKey(plaintext))
	if err == store.ErrNotFound {
		return nil, apperror.New(apperror.CodeInvalidAPIKey, "API key is invalid or revoked",
			"Check the key value for truncation",
			"Create a new key via POST /keys")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternalError, "API key lookup failed", err,
			"Retry the request")
	}

	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, apperror.New(apperror.CodeInvalidAPIKey, "API key has expired",
			"Regenerate the key via POST /keys/:id/regenerate")
	}

	// Usage accounting is fire-and-forget: it must not add latency to the
	// search path.
	go func(id string) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchAPIKeyUsage(touchCtx, id); err != nil {
			s.log.Warn(key.UserID, "", "failed to record api key usage", map[string]interface{}{
				"api_key_id": id,
				"error":      err.Error(),
			})
		}
	}(key.ID)

	return key, nil
}

// ----------------------------------------------------------------
// Authorization
// ----------------------------------------------------------------

// RequireRole checks a user role requirement. Admin may act as any role;
// other roles must match exactly.
func RequireRole(actual, required store.Role) *apperror.Error {
	if actual == store.RoleAdmin || actual == required {
		return nil
	}
	return apperror.New(apperror.CodeForbidden,
		fmt.Sprintf("role %s required", required),
		"This endpoint requires elevated privileges",
		"Contact an administrator")
}

// RequirePermission checks that an API key grants a permission. Admin keys
// implicitly hold all permissions.
func RequirePermission(key *store.APIKey, p store.Permission) *apperror.Error {
	if key == nil {
		return apperror.New(apperror.CodeUnauthorized, "authentication required",
			"Authenticate with an API key")
	}
	if key.HasPermission(p) {
		return nil
	}
	return apperror.New(apperror.CodeForbidden,
		fmt.Sprintf("permission %s required", p),
		fmt.Sprintf("Add the %s permission to this key", p),
		"Use a key created with the right permission set")
}
