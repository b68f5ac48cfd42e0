// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package validate checks each hypothesis against an independent,
// authoritative knowledge base and classifies the match strength. It never
// drops a hypothesis: every input comes back with a validation status, and
// lookup failures degrade to an error status instead of failing the run.
package validate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/pkg/types"
)

const (
	defaultWorkers          = 4
	defaultMaxRetries       = 3
	defaultConfirmThreshold = 0.75
)

// backoffBase controls the base duration for lookup retry backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// MatchResult is the knowledge base's answer for one (target, mechanism)
// pair.
type MatchResult struct {
	// TargetFound reports whether any record for the target exists.
	TargetFound bool

	// Match reports whether the proposed mechanism matched a recorded entry.
	Match bool

	// Confidence is the match confidence in [0, 1].
	Confidence float64

	// RecordID identifies the matched record, empty when Match is false.
	RecordID string
}

// KnowledgeBase looks up a proposed mechanism against an external
// authoritative source. Implementations sit behind the rate limiter.
type KnowledgeBase interface {
	Lookup(ctx context.Context, target, mechanism string) (MatchResult, error)
}

// Validator classifies hypotheses concurrently with a bounded worker pool.
type Validator struct {
	kb  KnowledgeBase
	log audit.Logger
	cfg types.ValidationConfig
}

// New returns a Validator. A nil logger disables event output.
func New(kb KnowledgeBase, log audit.Logger, cfg types.ValidationConfig) *Validator {
	return &Validator{kb: kb, log: audit.OrNop(log), cfg: cfg}
}

// Validate sets the validation status and reason on every hypothesis and
// returns the full set in input order. The output length always equals the
// input length; per-hypothesis failures surface as a status, never as an
// error.
func (v *Validator) Validate(ctx context.Context, hypotheses []types.Hypothesis) []types.Hypothesis {
	if len(hypotheses) == 0 {
		return hypotheses
	}

	workers := v.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(hypotheses) {
		workers = len(hypotheses)
	}

	out := make([]types.Hypothesis, len(hypotheses))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				// Each worker owns distinct indices, so writes to out
				// need no lock.
				out[i] = v.validateOne(ctx, hypotheses[i])
			}
		}()
	}

	for i := range hypotheses {
		indices <- i
	}
	close(indices)
	wg.Wait()

	return out
}

func (v *Validator) validateOne(ctx context.Context, h types.Hypothesis) types.Hypothesis {
	result, err := v.lookupWithRetry(ctx, h.Target, h.Mechanism)

	status, reason := classify(result, err, v.confirmThreshold())
	h.Validation = status
	h.ValidationReason = reason

	v.log.Event(audit.KindValidation, "%s -> %s | %s | %s", h.Drug, h.Target, status, reason)
	return h
}

func (v *Validator) confirmThreshold() float64 {
	if v.cfg.ConfirmThreshold > 0 {
		return v.cfg.ConfirmThreshold
	}
	return defaultConfirmThreshold
}

// lookupWithRetry retries transport failures with exponential backoff
// before giving up. Classification of the final error happens in classify.
func (v *Validator) lookupWithRetry(ctx context.Context, target, mechanism string) (MatchResult, error) {
	maxRetries := v.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return MatchResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := v.kb.Lookup(ctx, target, mechanism)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return MatchResult{}, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

// classify maps a lookup outcome onto a validation status. An infrastructure
// failure is an error status, distinct from a checked-and-absent unverified.
func classify(result MatchResult, err error, threshold float64) (types.ValidationStatus, string) {
	switch {
	case err != nil:
		return types.StatusError, fmt.Sprintf("knowledge base lookup failed: %v", err)
	case !result.TargetFound:
		return types.StatusUnverified, "no knowledge base record for target"
	case result.Match && result.Confidence >= threshold:
		return types.StatusConfirmed, fmt.Sprintf("matched record %s (confidence %.2f)", result.RecordID, result.Confidence)
	case result.Match:
		return types.StatusPartial, fmt.Sprintf("matched record %s below confidence threshold (%.2f < %.2f)",
			result.RecordID, result.Confidence, threshold)
	default:
		return types.StatusPartial, "target recorded but mechanism not matched"
	}
}
