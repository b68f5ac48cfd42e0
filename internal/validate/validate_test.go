// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdiddy/repurpose/internal/httputil"
	"github.com/pdiddy/repurpose/pkg/types"
)

func TestMain(m *testing.M) {
	backoffBase = time.Millisecond
	httputil.RetryBaseDelay = time.Millisecond
	os.Exit(m.Run())
}

// mapKB resolves lookups from a fixed table keyed by target; unknown targets
// report TargetFound false.
type mapKB struct {
	mu      sync.Mutex
	results map[string]MatchResult
	errs    map[string]error
	calls   map[string]int
}

func (kb *mapKB) Lookup(_ context.Context, target, _ string) (MatchResult, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.calls == nil {
		kb.calls = make(map[string]int)
	}
	kb.calls[target]++
	if err, ok := kb.errs[target]; ok {
		return MatchResult{}, err
	}
	return kb.results[target], nil
}

func testHypothesis(drug, target string) types.Hypothesis {
	return types.Hypothesis{
		ID:        types.HypothesisID(drug, "some mechanism", target),
		Drug:      drug,
		Mechanism: "some mechanism",
		Target:    target,
	}
}

func TestValidateClassifications(t *testing.T) {
	kb := &mapKB{
		results: map[string]MatchResult{
			"confirmed-target": {TargetFound: true, Match: true, Confidence: 0.9, RecordID: "P12345"},
			"weak-target":      {TargetFound: true, Match: true, Confidence: 0.4, RecordID: "P67890"},
			"mismatch-target":  {TargetFound: true, Match: false},
		},
	}
	v := New(kb, nil, types.ValidationConfig{})

	input := []types.Hypothesis{
		testHypothesis("drug-a", "confirmed-target"),
		testHypothesis("drug-b", "weak-target"),
		testHypothesis("drug-c", "mismatch-target"),
		testHypothesis("drug-d", "unknown-target"),
	}
	out := v.Validate(context.Background(), input)

	wantStatus := []types.ValidationStatus{
		types.StatusConfirmed,
		types.StatusPartial,
		types.StatusPartial,
		types.StatusUnverified,
	}
	if len(out) != len(input) {
		t.Fatalf("got %d hypotheses, want %d", len(out), len(input))
	}
	for i, h := range out {
		if h.Validation != wantStatus[i] {
			t.Errorf("hypothesis %s: status = %s, want %s", h.Drug, h.Validation, wantStatus[i])
		}
		if h.ValidationReason == "" {
			t.Errorf("hypothesis %s: empty validation reason", h.Drug)
		}
	}

	if !strings.Contains(out[0].ValidationReason, "P12345") {
		t.Errorf("confirmed reason %q missing record ID", out[0].ValidationReason)
	}
	if !strings.Contains(out[1].ValidationReason, "threshold") {
		t.Errorf("partial reason %q missing threshold context", out[1].ValidationReason)
	}
}

func TestValidatePreservesOrderAndCount(t *testing.T) {
	kb := &mapKB{results: map[string]MatchResult{}}

	var input []types.Hypothesis
	for _, target := range []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"} {
		input = append(input, testHypothesis("drug-"+target, target))
	}

	out := New(kb, nil, types.ValidationConfig{Workers: 3}).Validate(context.Background(), input)
	if len(out) != len(input) {
		t.Fatalf("got %d hypotheses, want %d", len(out), len(input))
	}
	for i := range input {
		if out[i].ID != input[i].ID {
			t.Errorf("position %d holds %s, want %s", i, out[i].ID, input[i].ID)
		}
		if out[i].Validation != types.StatusUnverified {
			t.Errorf("position %d status = %s, want unverified", i, out[i].Validation)
		}
	}
}

func TestValidateLookupFailureBecomesErrorStatus(t *testing.T) {
	kb := &mapKB{errs: map[string]error{"down-target": errors.New("connection refused")}}
	v := New(kb, nil, types.ValidationConfig{MaxRetries: 3})

	out := v.Validate(context.Background(), []types.Hypothesis{testHypothesis("drug-a", "down-target")})
	if len(out) != 1 {
		t.Fatalf("got %d hypotheses, want 1", len(out))
	}
	if out[0].Validation != types.StatusError {
		t.Errorf("status = %s, want error", out[0].Validation)
	}
	if !strings.Contains(out[0].ValidationReason, "connection refused") {
		t.Errorf("reason %q missing underlying failure", out[0].ValidationReason)
	}
	if kb.calls["down-target"] != 3 {
		t.Errorf("lookup attempted %d times, want 3", kb.calls["down-target"])
	}
}

// flakyKB fails every call before succeedAt, then defers to results.
type flakyKB struct {
	mapKB
	succeedAt int
}

func (kb *flakyKB) Lookup(ctx context.Context, target, mechanism string) (MatchResult, error) {
	kb.mu.Lock()
	failing := kb.calls[target] < kb.succeedAt-1
	kb.mu.Unlock()
	if failing {
		kb.mapKB.Lookup(ctx, target, mechanism)
		return MatchResult{}, errors.New("transient failure")
	}
	return kb.mapKB.Lookup(ctx, target, mechanism)
}

func TestValidateRetriesTransientFailure(t *testing.T) {
	kb := &flakyKB{succeedAt: 2}
	kb.results = map[string]MatchResult{
		"flaky-target": {TargetFound: true, Match: true, Confidence: 0.9, RecordID: "Q99999"},
	}
	v := New(kb, nil, types.ValidationConfig{})

	out := v.Validate(context.Background(), []types.Hypothesis{testHypothesis("drug-a", "flaky-target")})
	if out[0].Validation != types.StatusConfirmed {
		t.Errorf("status = %s, want confirmed after retry", out[0].Validation)
	}
	if kb.calls["flaky-target"] != 2 {
		t.Errorf("lookup attempted %d times, want 2", kb.calls["flaky-target"])
	}
}

func TestValidateConfirmThreshold(t *testing.T) {
	kb := &mapKB{
		results: map[string]MatchResult{
			"t": {TargetFound: true, Match: true, Confidence: 0.6, RecordID: "P1"},
		},
	}

	// 0.6 confirms under a lowered threshold but not under the default 0.75.
	out := New(kb, nil, types.ValidationConfig{ConfirmThreshold: 0.5}).
		Validate(context.Background(), []types.Hypothesis{testHypothesis("d", "t")})
	if out[0].Validation != types.StatusConfirmed {
		t.Errorf("status = %s, want confirmed at threshold 0.5", out[0].Validation)
	}

	out = New(kb, nil, types.ValidationConfig{}).
		Validate(context.Background(), []types.Hypothesis{testHypothesis("d", "t")})
	if out[0].Validation != types.StatusPartial {
		t.Errorf("status = %s, want partial at default threshold", out[0].Validation)
	}
}

func TestValidateEmptyInput(t *testing.T) {
	v := New(&mapKB{}, nil, types.ValidationConfig{})
	if out := v.Validate(context.Background(), nil); len(out) != 0 {
		t.Errorf("got %d hypotheses for empty input", len(out))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		result MatchResult
		err    error
		want   types.ValidationStatus
	}{
		{"lookup error", MatchResult{}, errors.New("boom"), types.StatusError},
		{"target absent", MatchResult{}, nil, types.StatusUnverified},
		{"strong match", MatchResult{TargetFound: true, Match: true, Confidence: 0.8}, nil, types.StatusConfirmed},
		{"at threshold", MatchResult{TargetFound: true, Match: true, Confidence: 0.75}, nil, types.StatusConfirmed},
		{"weak match", MatchResult{TargetFound: true, Match: true, Confidence: 0.74}, nil, types.StatusPartial},
		{"mechanism mismatch", MatchResult{TargetFound: true}, nil, types.StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := classify(tt.result, tt.err, 0.75)
			if got != tt.want {
				t.Errorf("classify = %s, want %s", got, tt.want)
			}
			if reason == "" {
				t.Error("empty reason")
			}
		})
	}
}
