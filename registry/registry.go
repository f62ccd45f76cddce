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

// Package registry manages live connection pools to tenant MySQL databases.
// Pools are created lazily from persisted connection metadata and cached for
// the process lifetime; concurrent first requests for the same connection
// collapse into a single hydration. The registry is the only component that
// ever sees a decrypted tenant password.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"altus4/core/credentials"
	"altus4/core/shared/apperror"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// Pool sizing and dial behaviour for tenant databases. Tenant pools are kept
// deliberately small so one noisy tenant cannot exhaust its own database.
const (
	poolMaxConns    = 5
	poolMaxIdle     = 2
	poolMaxLifetime = 5 * time.Minute

	defaultConnectTimeout = 10 * time.Second
	defaultAcquireTimeout = 60 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

type entry struct {
	db   *sql.DB
	meta *store.DBConnection

	mu       sync.Mutex
	lastUsed time.Time
}

func (e *entry) touch() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

// Stats is a point-in-time snapshot of registry activity.
type Stats struct {
	ActivePools int   `json:"active_pools"`
	Hits        int64 `json:"hits"`
	Hydrations  int64 `json:"hydrations"`
	Failures    int64 `json:"failures"`
	Evictions   int64 `json:"evictions"`
}

// Registry caches one *sql.DB pool per tenant connection.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*entry

	hydrate singleflight.Group

	store          *store.Store
	creds          *credentials.Store
	connectTimeout time.Duration
	acquireTimeout time.Duration
	log            *logger.Logger

	hits       int64
	hydrations int64
	failures   int64
	evictions  int64
}

// New creates a Registry over the metadata store and credential store.
func New(st *store.Store, creds *credentials.Store) *Registry {
	return &Registry{
		pools:          make(map[string]*entry),
		store:          st,
		creds:          creds,
		connectTimeout: defaultConnectTimeout,
		acquireTimeout: defaultAcquireTimeout,
		log:            logger.New("registry"),
	}
}

// WithTimeouts overrides the tenant dial timeout (DB_CONNECT_TIMEOUT_MS) and
// the pool-acquisition deadline a caller may wait on a cold hydration
// (DB_ACQUIRE_TIMEOUT_MS). Zero values keep the defaults.
func (r *Registry) WithTimeouts(connect, acquire time.Duration) *Registry {
	if connect > 0 {
		r.connectTimeout = connect
	}
	if acquire > 0 {
		r.acquireTimeout = acquire
	}
	return r
}

// ----------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------

// ConnectionInput is the caller-supplied description of a tenant database.
type ConnectionInput struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSL      bool   `json:"ssl"`
}

func (in *ConnectionInput) validate() *apperror.Error {
	missing := []string{}
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(in.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(in.Username) == "" {
		missing = append(missing, "username")
	}
	if len(missing) > 0 {
		return apperror.New(apperror.CodeValidationError,
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
			"Provide name, host, database, and username").
			WithDetails(map[string]interface{}{"missing": missing})
	}
	if in.Port < 0 || in.Port > 65535 {
		return apperror.New(apperror.CodeValidationError,
			fmt.Sprintf("port %d is out of range", in.Port),
			"Use a port between 1 and 65535, or omit it for 3306")
	}
	return nil
}

// AddConnection validates connectivity to a tenant database, persists its
// metadata with the password encrypted, and caches the live pool. The
// plaintext password exists only on this call path.
func (r *Registry) AddConnection(ctx context.Context, userID string, in ConnectionInput) (*store.DBConnection, *apperror.Error) {
	if aerr := in.validate(); aerr != nil {
		return nil, aerr
	}
	if in.Port == 0 {
		in.Port = 3306
	}

	now := time.Now().UTC()
	conn := &store.DBConnection{
		ID:               uuid.NewString(),
		UserID:           userID,
		Name:             in.Name,
		Host:             in.Host,
		Port:             in.Port,
		Database:         in.Database,
		Username:         in.Username,
		SSLEnabled:       in.SSL,
		IsActive:         true,
		ConnectionStatus: store.StatusConnected,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	db, err := r.openPool(ctx, conn, in.Password)
	if err != nil {
		atomic.AddInt64(&r.failures, 1)
		aerr := ClassifyDialError(err, conn.Host, conn.Database)
		r.log.WarnSanitized(userID, "", "connection validation failed", aerr)
		return nil, aerr
	}

	encrypted, encErr := r.creds.Encrypt(in.Password)
	if encErr != nil {
		_ = db.Close()
		return nil, apperror.Wrap(apperror.CodeInternalError, "failed to protect credentials", encErr,
			"Check that ENCRYPTION_KEY is configured")
	}
	conn.PasswordEncrypted = encrypted

	if err := r.store.InsertConnection(ctx, conn); err != nil {
		_ = db.Close()
		return nil, apperror.Wrap(apperror.CodeInternalError, "failed to save connection", err,
			"Retry the request")
	}

	r.mu.Lock()
	r.pools[conn.ID] = &entry{db: db, meta: conn, lastUsed: time.Now()}
	r.mu.Unlock()

	r.log.Info(userID, "", "tenant connection registered", map[string]interface{}{
		"connection_id":   conn.ID,
		"connection_name": conn.Name,
		"host":            conn.Host,
	})

	// The caller gets metadata only; the ciphertext stays inside the
	// registry and store.
	public := *conn
	public.PasswordEncrypted = ""
	return &public, nil
}

// GetConnection returns the live pool for a connection id, hydrating it from
// persisted metadata on first use. Concurrent callers for the same id share
// one hydration.
func (r *Registry) GetConnection(ctx context.Context, id string) (*sql.DB, *apperror.Error) {
	r.mu.RLock()
	e, ok := r.pools[id]
	r.mu.RUnlock()
	if ok {
		atomic.AddInt64(&r.hits, 1)
		e.touch()
		return e.db, nil
	}

	v, err, _ := r.hydrate.Do(id, func() (interface{}, error) {
		// Double check: another caller may have hydrated between the read
		// lock release and the singleflight slot.
		r.mu.RLock()
		e, ok := r.pools[id]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}
		hydrateCtx, cancel := context.WithTimeout(ctx, r.acquireTimeout)
		defer cancel()
		return r.hydrateConnection(hydrateCtx, id)
	})
	if err != nil {
		atomic.AddInt64(&r.failures, 1)
		return nil, apperror.Classify(err)
	}

	e = v.(*entry)
	e.touch()
	return e.db, nil
}

func (r *Registry) hydrateConnection(ctx context.Context, id string) (*entry, error) {
	meta, err := r.store.GetActiveConnection(ctx, id)
	if err == store.ErrNotFound {
		return nil, apperror.New(apperror.CodeConnectionNotFound,
			fmt.Sprintf("database connection %s not found", id),
			"Check the database id in the request",
			"List connections via GET /databases")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternalError, "failed to load connection metadata", err,
			"Retry the request")
	}

	password, err := r.creds.Decrypt(meta.PasswordEncrypted)
	if err != nil {
		// Proceed with an empty password: the dial below fails with a clean
		// AUTHENTICATION_FAILED instead of surfacing crypto internals.
		r.log.Warn(meta.UserID, "", "stored credential could not be decrypted", map[string]interface{}{
			"connection_id": id,
		})
		password = ""
	}

	db, dialErr := r.openPool(ctx, meta, password)
	if dialErr != nil {
		aerr := ClassifyDialError(dialErr, meta.Host, meta.Database)
		r.log.WarnSanitized(meta.UserID, "", "connection hydration failed", aerr)
		return nil, aerr
	}

	e := &entry{db: db, meta: meta, lastUsed: time.Now()}
	r.mu.Lock()
	r.pools[id] = e
	r.mu.Unlock()
	atomic.AddInt64(&r.hydrations, 1)

	r.log.Info(meta.UserID, "", "tenant connection hydrated", map[string]interface{}{
		"connection_id":   id,
		"connection_name": meta.Name,
	})
	return e, nil
}

func (r *Registry) openPool(ctx context.Context, meta *store.DBConnection, password string) (*sql.DB, error) {
	db, err := sql.Open("mysql", tenantDSN(meta, password, r.connectTimeout))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(poolMaxConns)
	db.SetMaxIdleConns(poolMaxIdle)
	db.SetConnMaxLifetime(poolMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// tenantDSN builds the DSN for a tenant database. multiStatements stays off
// and interpolation stays server-side: tenant queries always bind parameters.
func tenantDSN(meta *store.DBConnection, password string, connectTimeout time.Duration) string {
	params := []string{
		"parseTime=true",
		"loc=UTC",
		"charset=utf8mb4",
		fmt.Sprintf("timeout=%s", connectTimeout),
		"readTimeout=30s",
		"writeTimeout=30s",
		"multiStatements=false",
		"interpolateParams=false",
	}
	if meta.SSLEnabled {
		params = append(params, "tls=true")
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		meta.Username, password, meta.Host, meta.Port, meta.Database,
		strings.Join(params, "&"))
}

// RemoveConnection evicts and closes the live pool for a connection.
// Idempotent: removing an absent id is a no-op.
func (r *Registry) RemoveConnection(id string) {
	r.mu.Lock()
	e, ok := r.pools[id]
	if ok {
		delete(r.pools, id)
	}
	r.mu.Unlock()

	if ok {
		atomic.AddInt64(&r.evictions, 1)
		_ = e.db.Close()
		r.log.Info(e.meta.UserID, "", "tenant connection evicted", map[string]interface{}{
			"connection_id": id,
		})
	}
}

// RefreshConnection drops any cached pool so the next use re-hydrates with
// current metadata. Called after a connection update.
func (r *Registry) RefreshConnection(id string) {
	r.RemoveConnection(id)
}

// TestConnection pings a connection and records the outcome on its row.
func (r *Registry) TestConnection(ctx context.Context, id string) (store.ConnectionStatus, time.Duration, *apperror.Error) {
	db, aerr := r.GetConnection(ctx, id)
	if aerr != nil {
		_ = r.store.UpdateConnectionStatus(ctx, id, store.StatusFailed)
		return store.StatusFailed, 0, aerr
	}

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = r.store.UpdateConnectionStatus(ctx, id, store.StatusFailed)
		return store.StatusFailed, time.Since(start), ClassifyDialError(err, "", "")
	}

	elapsed := time.Since(start)
	_ = r.store.UpdateConnectionStatus(ctx, id, store.StatusConnected)
	return store.StatusConnected, elapsed, nil
}

// ConnectionStatuses pings every cached pool concurrently and returns a
// health map keyed by connection id.
func (r *Registry) ConnectionStatuses(ctx context.Context) map[string]store.ConnectionStatus {
	r.mu.RLock()
	ids := make([]string, 0, len(r.pools))
	dbs := make([]*sql.DB, 0, len(r.pools))
	for id, e := range r.pools {
		ids = append(ids, id)
		dbs = append(dbs, e.db)
	}
	r.mu.RUnlock()

	statuses := make([]store.ConnectionStatus, len(ids))
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			defer cancel()
			if err := dbs[i].PingContext(pingCtx); err != nil {
				statuses[i] = store.StatusFailed
				return
			}
			statuses[i] = store.StatusConnected
		}(i)
	}
	wg.Wait()

	out := make(map[string]store.ConnectionStatus, len(ids))
	for i, id := range ids {
		out[id] = statuses[i]
	}
	return out
}

// Snapshot returns registry activity counters.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	active := len(r.pools)
	r.mu.RUnlock()

	return Stats{
		ActivePools: active,
		Hits:        atomic.LoadInt64(&r.hits),
		Hydrations:  atomic.LoadInt64(&r.hydrations),
		Failures:    atomic.LoadInt64(&r.failures),
		Evictions:   atomic.LoadInt64(&r.evictions),
	}
}

// Close shuts down every cached pool.
func (r *Registry) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range pools {
		if err := e.db.Close(); err != nil {
			r.log.Warn("", "", "failed to close tenant pool", map[string]interface{}{
				"connection_id": id,
				"error":         err.Error(),
			})
		}
	}
}
