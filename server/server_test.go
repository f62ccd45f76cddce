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
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altus4/core/ai"
	"altus4/core/analytics"
	"altus4/core/auth"
	"altus4/core/cache"
	"altus4/core/config"
	"altus4/core/credentials"
	"altus4/core/ratelimit"
	"altus4/core/registry"
	"altus4/core/schema"
	"altus4/core/search"
	"altus4/core/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	srv  *Server
	mock sqlmock.Sqlmock
	mr   *miniredis.Miniredis
	auth *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)

	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	creds, err := credentials.NewStore(credentials.Options{Key: key, BcryptCost: 4})
	require.NoError(t, err)

	reg := registry.New(st, creds)
	authSvc := auth.New(st, testJWTSecret)
	adapter := ai.New(&config.LLMConfig{Model: "gpt-3.5-turbo"})
	orch := search.NewOrchestrator(reg, schema.NewInspector(), c, adapter, st)

	srv := New(Options{
		Config:       &config.Config{Environment: config.EnvTest, Port: 3000, JWTSecret: testJWTSecret},
		Store:        st,
		Credentials:  creds,
		Cache:        c,
		Registry:     reg,
		Auth:         authSvc,
		Limiter:      ratelimit.New(c),
		Orchestrator: orch,
		Analytics:    analytics.New(db),
		Inspector:    schema.NewInspector(),
	})

	return &testEnv{srv: srv, mock: mock, mr: mr, auth: authSvc}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    json.RawMessage        `json:"data"`
	Meta    map[string]interface{} `json:"meta"`
	Error   struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// apiKeyRow builds one api_keys result row for a generated key.
func apiKeyRow(gen *auth.GeneratedKey) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "key_prefix", "key_hash", "name", "environment",
		"permissions", "rate_limit_tier", "expires_at", "is_active", "usage_count",
		"last_used", "created_at", "updated_at",
	}).AddRow("key-1", "user-1", gen.Prefix, gen.Hash, "CI key", "test",
		[]byte(`["search"]`), "free", nil, true, 0, nil, now, now)
}

func TestHealthEnvelope(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := e.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "req-123", env.Meta["requestId"])
	assert.Equal(t, "1.0.0", env.Meta["version"])
	assert.NotEmpty(t, env.Meta["timestamp"])

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ok", data["status"])
}

func TestHealthGeneratesRequestID(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestManagementPlaneRequiresBearer(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/auth/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "NO_TOKEN", env.Error.Code)
}

func TestManagementPlaneRejectsGarbageToken(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rec := e.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decodeEnvelope(t, rec).Error.Code)
}

func TestDataPlaneRequiresAPIKey(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"alpha"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NO_API_KEY", decodeEnvelope(t, rec).Error.Code)
}

func TestDataPlaneRejectsRevokedKey(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)

	// No active row resolves for the key.
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?query=alpha", nil)
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_API_KEY", decodeEnvelope(t, rec).Error.Code)
}

func TestBearerProfileFlow(t *testing.T) {
	e := newTestEnv(t)

	now := time.Now()
	e.mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "role", "is_active", "created_at", "updated_at"}).
			AddRow("user-1", "dev@example.com", "Dev", "hash", "user", true, now, now))

	token, err := e.auth.IssueToken(&store.User{ID: "user-1", Email: "dev@example.com", Name: "Dev", Role: store.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var user map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "dev@example.com", user["email"])
	assert.NotContains(t, user, "password_hash")
}

func TestAdminRouteRejectsUserRole(t *testing.T) {
	e := newTestEnv(t)

	token, err := e.auth.IssueToken(&store.User{ID: "user-1", Role: store.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/analytics/admin/overview", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := e.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, rec).Error.Code)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"dev@example.com","name":"Dev","password":"short"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeEnvelope(t, rec).Error.Code)
}

func TestAPIKeyFlowSetsRateLimitHeaders(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(apiKeyRow(gen))

	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?query=alpha", nil)
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", rec.Header().Get("X-RateLimit-Tier"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
	assert.True(t, decodeEnvelope(t, rec).Success)
}

func TestAPIKeyRateLimitExceeded(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(apiKeyRow(gen))

	// The free-tier window is already spent.
	require.NoError(t, e.mr.Set("rate_limit:key-1", "60"))
	e.mr.SetTTL("rate_limit:key-1", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/search/suggestions?query=alpha", nil)
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeEnvelope(t, rec).Error.Code)
}

func TestSearchWithoutPermission(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "key_prefix", "key_hash", "name", "environment",
		"permissions", "rate_limit_tier", "expires_at", "is_active", "usage_count",
		"last_used", "created_at", "updated_at",
	}).AddRow("key-2", "user-1", gen.Prefix, gen.Hash, "analytics only", "test",
		[]byte(`["analytics"]`), "free", nil, true, 0, nil, now, now)
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(`{"query":"alpha"}`))
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, rec).Error.Code)
}

func TestSearchValidationSurfacesThroughHTTP(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(apiKeyRow(gen))

	// An explicit zero limit is rejected; only an omitted limit defaults.
	req := httptest.NewRequest(http.MethodPost, "/search",
		strings.NewReader(`{"query":"alpha","databases":["db-1"],"limit":0}`))
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Error.Code)
}

func TestSearchNoDatabasesHint(t *testing.T) {
	e := newTestEnv(t)

	gen, err := auth.GenerateAPIKey(store.EnvironmentTest)
	require.NoError(t, err)
	e.mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix").
		WillReturnRows(apiKeyRow(gen))

	req := httptest.NewRequest(http.MethodPost, "/search",
		strings.NewReader(`{"query":"alpha","databases":[]}`))
	req.Header.Set("Authorization", "Bearer "+gen.Plaintext)
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)

	var resp search.Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Empty(t, resp.Results)
	require.Len(t, resp.QueryOptimization, 1)
	assert.Contains(t, resp.QueryOptimization[0].Description, "No databases specified")

	// The omitted limit defaulted to 20 and is echoed in the payload.
	assert.Equal(t, 20, resp.Limit)
	assert.Contains(t, string(env.Data), `"limit":20`)
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
