// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/repurpose/pkg/types"
)

func TestAcquireWithinCapacity(t *testing.T) {
	l := New(types.RateLimitConfig{
		Capacity:       3,
		RefillInterval: time.Hour, // no refill during the test
		AcquireTimeout: 50 * time.Millisecond,
	})
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, ServiceReasoning))
	}
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	l := New(types.RateLimitConfig{
		Capacity:       1,
		RefillInterval: time.Hour,
		AcquireTimeout: 20 * time.Millisecond,
	})
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, ServiceReasoning))

	err := l.Acquire(ctx, ServiceReasoning)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Contains(t, err.Error(), ServiceReasoning)
}

func TestBucketsAreIndependentPerService(t *testing.T) {
	l := New(types.RateLimitConfig{
		Capacity:       1,
		RefillInterval: time.Hour,
		AcquireTimeout: 20 * time.Millisecond,
	})
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, ServiceReasoning))

	// Draining one service's bucket must not affect another's.
	require.NoError(t, l.Acquire(ctx, ServiceKnowledgeBase))
	assert.ErrorIs(t, l.Acquire(ctx, ServiceReasoning), ErrAcquireTimeout)
}

func TestRefillRestoresTokens(t *testing.T) {
	l := New(types.RateLimitConfig{
		Capacity:       1,
		RefillInterval: 5 * time.Millisecond,
		AcquireTimeout: time.Second,
	})
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, ServiceKnowledgeBase))

	// The bucket is empty; the next acquire must succeed once a refill lands.
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, ServiceKnowledgeBase))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(types.RateLimitConfig{
		Capacity:       1,
		RefillInterval: time.Hour,
		AcquireTimeout: time.Hour,
	})
	defer l.Close()

	require.NoError(t, l.Acquire(context.Background(), ServiceReasoning))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, ServiceReasoning)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireAfterClose(t *testing.T) {
	l := New(types.RateLimitConfig{})
	l.Close()

	err := l.Acquire(context.Background(), ServiceReasoning)
	require.Error(t, err)
}

func TestDefaultsApplied(t *testing.T) {
	l := New(types.RateLimitConfig{})
	defer l.Close()

	assert.Equal(t, defaultCapacity, l.capacity)
	assert.Equal(t, defaultRefillInterval, l.refillInterval)
	assert.Equal(t, defaultAcquireTimeout, l.acquireTimeout)
}
