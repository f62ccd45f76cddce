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

// Package cache wraps redis with the service's fail-soft contract: on
// transport error, reads return the zero value and writes are dropped with a
// warning. Search responses, sessions, popularity counters, and rate-limit
// windows all live here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"altus4/core/config"
	"altus4/core/shared/logger"
)

// Key namespaces.
const (
	prefixSession         = "session:"
	prefixQueryPopularity = "query_popularity:"
	prefixRecentQueries   = "recent_queries:"
)

// Store is the redis-backed cache. All operations are fail-soft; Store is
// safe for concurrent use.
type Store struct {
	client *redis.Client
	log    *logger.Logger
}

// New dials redis and verifies connectivity.
func New(cfg *config.CacheConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	return &Store{
		client: client,
		log:    logger.New("cache"),
	}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{
		client: client,
		log:    logger.New("cache"),
	}
}

// Close releases the redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetJSON reads key and decodes its JSON value into dest. Returns false on
// miss, transport error, or decode failure.
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		s.warn("GET", key, err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.warn("GET decode", key, err)
		return false
	}
	return true
}

// SetJSON stores a JSON-encoded value with an optional TTL (0 = no expiry).
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.warn("SET encode", key, err)
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.warn("SET", key, err)
	}
}

// Del removes a key.
func (s *Store) Del(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.warn("DEL", key, err)
	}
}

// Incr increments a counter and returns the new value (0 on error).
func (s *Store) Incr(ctx context.Context, key string) int64 {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.warn("INCR", key, err)
		return 0
	}
	return n
}

// Expire sets a key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.warn("EXPIRE", key, err)
	}
}

// ZAdd adds a member with score to a sorted set.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) {
	if err := s.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err(); err != nil {
		s.warn("ZADD", key, err)
	}
}

// ZRevRange returns members of a sorted set by descending score.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) []string {
	members, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		s.warn("ZREVRANGE", key, err)
		return nil
	}
	return members
}

// FlushAll clears the whole cache. Test and admin tooling only.
func (s *Store) FlushAll(ctx context.Context) {
	if err := s.client.FlushAll(ctx).Err(); err != nil {
		s.warn("FLUSHALL", "*", err)
	}
}

// Client exposes the raw redis client for components that need pipelining
// (the rate limiter).
func (s *Store) Client() *redis.Client {
	return s.client
}

// ----------------------------------------------------------------
// Session namespace
// ----------------------------------------------------------------

// SetSession stores an opaque session blob for a user with an explicit TTL.
func (s *Store) SetSession(ctx context.Context, userID string, blob interface{}, ttl time.Duration) {
	s.SetJSON(ctx, prefixSession+userID, blob, ttl)
}

// GetSession reads a user's session blob. Returns false when absent.
func (s *Store) GetSession(ctx context.Context, userID string, dest interface{}) bool {
	return s.GetJSON(ctx, prefixSession+userID, dest)
}

// DeleteSession drops a user's cached session state, logging them out of any
// derived state.
func (s *Store) DeleteSession(ctx context.Context, userID string) {
	s.Del(ctx, prefixSession+userID)
}

// ----------------------------------------------------------------
// Popularity
// ----------------------------------------------------------------

// RecordQuery bumps the global popularity counter for a query and appends it
// to the user's recency set. Called once per logged search.
func (s *Store) RecordQuery(ctx context.Context, userID, query string) {
	s.Incr(ctx, prefixQueryPopularity+query)
	s.ZAdd(ctx, prefixRecentQueries+userID, float64(time.Now().Unix()), query)
}

// RecentQueries returns a user's most recent queries, newest first.
func (s *Store) RecentQueries(ctx context.Context, userID string, n int64) []string {
	if n <= 0 {
		return nil
	}
	return s.ZRevRange(ctx, prefixRecentQueries+userID, 0, n-1)
}

// QueryPopularity returns the global popularity count for a query.
func (s *Store) QueryPopularity(ctx context.Context, query string) int64 {
	n, err := s.client.Get(ctx, prefixQueryPopularity+query).Int64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		s.warn("GET", prefixQueryPopularity+query, err)
		return 0
	}
	return n
}

func (s *Store) warn(op, key string, err error) {
	s.log.Warn("", "", "cache operation failed", map[string]interface{}{
		"op":    op,
		"key":   key,
		"error": err.Error(),
	})
}
