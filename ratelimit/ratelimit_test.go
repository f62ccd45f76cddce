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

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	"altus4/core/cache"
	"altus4/core/store"
)

func testLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(client)
	t.Cleanup(func() { c.Close() })
	return New(c), mr
}

func TestLimitForTier(t *testing.T) {
	assert.Equal(t, 60, LimitForTier(store.TierFree))
	assert.Equal(t, 600, LimitForTier(store.TierPro))
	assert.Equal(t, 50000, LimitForTier(store.TierEnterprise))
	assert.Equal(t, 60, LimitForTier(store.RateLimitTier("platinum")))
}

func TestFreeTierBudget(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		res := l.Check(ctx, "key-1", store.TierFree)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, store.TierFree, res.Tier)
		assert.Equal(t, 60, res.Limit)
		assert.Equal(t, 60-i, res.Remaining)
	}

	res := l.Check(ctx, "key-1", store.TierFree)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestCountersAreKeyScoped(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		l.Check(ctx, "key-1", store.TierFree)
	}
	assert.False(t, l.Check(ctx, "key-1", store.TierFree).Allowed)

	// A different key still has its full budget.
	res := l.Check(ctx, "key-2", store.TierFree)
	assert.True(t, res.Allowed)
	assert.Equal(t, 59, res.Remaining)
}

func TestWindowExpirySet(t *testing.T) {
	l, mr := testLimiter(t)

	l.Check(context.Background(), "key-1", store.TierFree)
	assert.Equal(t, Window, mr.TTL("rate_limit:key-1"))
}

func TestWithWindowOverride(t *testing.T) {
	l, mr := testLimiter(t)
	l.WithWindow(5 * time.Minute)

	l.Check(context.Background(), "key-1", store.TierFree)
	assert.Equal(t, 5*time.Minute, mr.TTL("rate_limit:key-1"))

	// Non-positive overrides keep the current window.
	l.WithWindow(0)
	assert.Equal(t, 5*time.Minute, l.window)
}

func TestWithDefaultLimitForUnknownTier(t *testing.T) {
	l, _ := testLimiter(t)
	l.WithDefaultLimit(2)
	ctx := context.Background()

	tier := store.RateLimitTier("platinum")
	assert.True(t, l.Check(ctx, "key-1", tier).Allowed)
	assert.True(t, l.Check(ctx, "key-1", tier).Allowed)
	res := l.Check(ctx, "key-1", tier)
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)

	// Known tiers keep their dedicated budgets.
	assert.Equal(t, 600, l.Check(ctx, "key-2", store.TierPro).Limit)
}

func TestNewWindowStartsClean(t *testing.T) {
	l, mr := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 61; i++ {
		l.Check(ctx, "key-1", store.TierFree)
	}
	assert.False(t, l.Check(ctx, "key-1", store.TierFree).Allowed)

	mr.FastForward(Window + time.Second)

	res := l.Check(ctx, "key-1", store.TierFree)
	assert.True(t, res.Allowed)
	assert.Equal(t, 59, res.Remaining)
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	l, mr := testLimiter(t)
	mr.Close()

	res := l.Check(context.Background(), "key-1", store.TierFree)
	assert.True(t, res.Allowed)
	assert.Equal(t, 60, res.Limit)
	assert.Equal(t, 60, res.Remaining)
}

func TestReset(t *testing.T) {
	l, _ := testLimiter(t)
	ctx := context.Background()

	for i := 0; i < 61; i++ {
		l.Check(ctx, "key-1", store.TierFree)
	}
	assert.False(t, l.Check(ctx, "key-1", store.TierFree).Allowed)

	l.Reset(ctx, "key-1")

	res := l.Check(ctx, "key-1", store.TierFree)
	assert.True(t, res.Allowed)
	assert.Equal(t, 59, res.Remaining)
}
