// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit gates every outbound call to an external service behind
// a per-service token bucket. No request may bypass Acquire; the limiter is
// the single chokepoint where request rates and wait policy are tuned.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pdiddy/repurpose/pkg/types"
)

// Service identities with independent buckets.
const (
	ServiceLiterature    = "pubmed"
	ServiceReasoning     = "gemini"
	ServiceKnowledgeBase = "uniprot"
)

// ErrAcquireTimeout is returned when no token became available within the
// configured wait timeout.
var ErrAcquireTimeout = errors.New("rate limit acquire timed out")

const (
	defaultCapacity       = 5
	defaultRefillInterval = time.Second
	defaultAcquireTimeout = 30 * time.Second
)

// Limiter holds one token bucket per service identity. Buckets are created
// lazily on first Acquire and share a single configuration.
type Limiter struct {
	capacity       int
	refillInterval time.Duration
	acquireTimeout time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

type bucket struct {
	tokens chan struct{}
}

// New returns a Limiter configured from cfg, with defaults applied for
// zero-valued fields.
func New(cfg types.RateLimitConfig) *Limiter {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	refill := cfg.RefillInterval
	if refill <= 0 {
		refill = defaultRefillInterval
	}
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}

	return &Limiter{
		capacity:       capacity,
		refillInterval: refill,
		acquireTimeout: timeout,
		buckets:        make(map[string]*bucket),
		done:           make(chan struct{}),
	}
}

// Acquire blocks until a token is available for service, the wait timeout
// elapses, or ctx is cancelled. A timeout returns ErrAcquireTimeout wrapped
// with the service name.
func (l *Limiter) Acquire(ctx context.Context, service string) error {
	b, err := l.bucket(service)
	if err != nil {
		return err
	}

	select {
	case <-b.tokens:
		return nil
	default:
	}

	timer := time.NewTimer(l.acquireTimeout)
	defer timer.Stop()

	select {
	case <-b.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("service %s: %w", service, ErrAcquireTimeout)
	}
}

// Close stops all refill goroutines. Acquire on a closed limiter returns
// an error.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *Limiter) bucket(service string) (*bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, fmt.Errorf("limiter is closed")
	}
	if b, ok := l.buckets[service]; ok {
		return b, nil
	}

	b := &bucket{tokens: make(chan struct{}, l.capacity)}
	for i := 0; i < l.capacity; i++ {
		b.tokens <- struct{}{}
	}
	l.buckets[service] = b

	go l.refill(b)
	return b, nil
}

// refill adds one token per interval, dropping the token when the bucket
// is already full.
func (l *Limiter) refill(b *bucket) {
	ticker := time.NewTicker(l.refillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			select {
			case b.tokens <- struct{}{}:
			default:
			}
		}
	}
}
