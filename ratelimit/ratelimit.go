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

// Package ratelimit enforces per-API-key request budgets using redis
// counters with window expiry. Limits are keyed by the key's tier. On redis
// failure the limiter fails open: a throttling outage must not take the
// search path down with it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"altus4/core/cache"
	"altus4/core/shared/logger"
	"altus4/core/store"
)

// Window is the budget window for per-minute tier limits.
const Window = time.Minute

// Per-window request budgets by tier.
var tierLimits = map[store.RateLimitTier]int{
	store.TierFree:       60,
	store.TierPro:        600,
	store.TierEnterprise: 50000,
}

// LimitForTier returns the per-window budget for a tier. Unknown tiers get
// the free budget.
func LimitForTier(tier store.RateLimitTier) int {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return tierLimits[store.TierFree]
}

// Result reports the outcome of a rate-limit check. Tier, Limit, and
// Remaining are surfaced as response headers on every allowed request.
type Result struct {
	Allowed    bool
	Tier       store.RateLimitTier
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks request budgets against redis.
type Limiter struct {
	cache    *cache.Store
	window   time.Duration
	fallback int
	log      *logger.Logger
}

// New creates a Limiter over the shared cache store.
func New(c *cache.Store) *Limiter {
	return &Limiter{
		cache:    c,
		window:   Window,
		fallback: tierLimits[store.TierFree],
		log:      logger.New("ratelimit"),
	}
}

// WithWindow overrides the budget window (RATE_LIMIT_WINDOW_MS).
func (l *Limiter) WithWindow(d time.Duration) *Limiter {
	if d > 0 {
		l.window = d
	}
	return l
}

// WithDefaultLimit overrides the budget applied to keys whose tier carries no
// dedicated budget (RATE_LIMIT_MAX).
func (l *Limiter) WithDefaultLimit(n int) *Limiter {
	if n > 0 {
		l.fallback = n
	}
	return l
}

func (l *Limiter) limitFor(tier store.RateLimitTier) int {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return l.fallback
}

// Check increments the counter for apiKeyID and reports whether the request
// is within the tier budget. The counter expires with the window, so a new
// window starts clean.
func (l *Limiter) Check(ctx context.Context, apiKeyID string, tier store.RateLimitTier) Result {
	limit := l.limitFor(tier)
	key := fmt.Sprintf("rate_limit:%s", apiKeyID)

	// INCR and EXPIRE run in one round trip. EXPIRE NX-like behaviour is
	// approximated by only setting the TTL when the counter is fresh.
	pipe := l.cache.Client().TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		l.log.Warn("", "", "rate limit check failed, failing open", map[string]interface{}{
			"api_key_id": apiKeyID,
			"error":      err.Error(),
		})
		return Result{Allowed: true, Tier: tier, Limit: limit, Remaining: limit}
	}

	count := incr.Val()
	if ttl.Val() < 0 {
		// First request of the window (or a counter left without expiry).
		l.cache.Expire(ctx, key, l.window)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(limit) {
		retryAfter := ttl.Val()
		if retryAfter <= 0 {
			retryAfter = l.window
		}
		return Result{
			Allowed:    false,
			Tier:       tier,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retryAfter,
		}
	}

	return Result{Allowed: true, Tier: tier, Limit: limit, Remaining: remaining}
}

// Reset clears the counter for an API key. Admin tooling only.
func (l *Limiter) Reset(ctx context.Context, apiKeyID string) {
	l.cache.Del(ctx, fmt.Sprintf("rate_limit:%s", apiKeyID))
}
