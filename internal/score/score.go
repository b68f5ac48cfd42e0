// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score computes the corpus-side evidence score for a hypothesis.
//
// The score is a pure function of the hypothesis and the run's retrieved
// passages, so identical inputs always reproduce identical scores:
//
//	score = 0.5*support + 0.3*similarity + 0.2*recency
//
// support    = 1 - 2^-n over n distinct supporting passages (diminishing
//              returns: one passage contributes 0.5 of the component, two
//              0.75, and so on)
// similarity = mean retrieval similarity of the supporting passages
// recency    = mean 2^(-age/halfLife) with age measured against the newest
//              passage date in the run rather than the wall clock, keeping
//              the function reproducible against an unchanged corpus
//
// The support/similarity/recency split descends from the original
// validator's 0.6 literature / 0.4 database weighting, reallocated across
// the three corpus signals now that grounding is reported separately as a
// validation status.
package score

import (
	"math"
	"time"

	"github.com/pdiddy/repurpose/pkg/types"
)

const (
	weightSupport    = 0.5
	weightSimilarity = 0.3
	weightRecency    = 0.2

	// recencyHalfLife halves a passage's recency contribution per five
	// years of age relative to the newest passage in the run.
	recencyHalfLife = 5 * 365 * 24 * time.Hour
)

// Score returns the evidence score in [0, 1] for h given the passages
// retrieved for the run. Supporting IDs that do not resolve to a retrieved
// passage contribute nothing; a hypothesis with no resolvable support
// scores 0. No side effects, no external calls.
func Score(h types.Hypothesis, passages []types.Passage) float64 {
	byID := make(map[string]types.Passage, len(passages))
	var newest time.Time
	for _, p := range passages {
		byID[p.ID] = p
		if p.Date.After(newest) {
			newest = p.Date
		}
	}

	var (
		n          int
		simSum     float64
		recencySum float64
	)
	seen := make(map[string]bool, len(h.SupportingPassages))
	for _, id := range h.SupportingPassages {
		p, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		n++
		simSum += p.Similarity
		recencySum += recency(p.Date, newest)
	}

	if n == 0 {
		return 0
	}

	support := 1 - math.Pow(2, -float64(n))
	s := weightSupport*support +
		weightSimilarity*simSum/float64(n) +
		weightRecency*recencySum/float64(n)

	return clamp01(s)
}

// recency decays exponentially with age against the newest date in the
// run. Passages without a date contribute 0.
func recency(date, newest time.Time) float64 {
	if date.IsZero() || newest.IsZero() {
		return 0
	}
	age := newest.Sub(date)
	if age < 0 {
		age = 0
	}
	return math.Pow(2, -float64(age)/float64(recencyHalfLife))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
