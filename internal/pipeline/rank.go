// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"sort"
	"time"

	"github.com/pdiddy/repurpose/pkg/types"
)

// Rank orders hypotheses in place: evidence score descending, ties broken
// by validation status (confirmed > partial > error > unverified), then by
// newest supporting passage, then by ID for a total order.
func Rank(hypotheses []types.Hypothesis, passages []types.Passage) {
	dates := make(map[string]time.Time, len(passages))
	for _, p := range passages {
		dates[p.ID] = p.Date
	}

	sort.SliceStable(hypotheses, func(i, j int) bool {
		a, b := hypotheses[i], hypotheses[j]
		if a.EvidenceScore != b.EvidenceScore {
			return a.EvidenceScore > b.EvidenceScore
		}
		if ar, br := a.Validation.Rank(), b.Validation.Rank(); ar != br {
			return ar > br
		}
		if ad, bd := newestSupport(a, dates), newestSupport(b, dates); !ad.Equal(bd) {
			return ad.After(bd)
		}
		return a.ID < b.ID
	})
}

// newestSupport returns the most recent publication date among the
// hypothesis's supporting passages.
func newestSupport(h types.Hypothesis, dates map[string]time.Time) time.Time {
	var newest time.Time
	for _, id := range h.SupportingPassages {
		if d, ok := dates[id]; ok && d.After(newest) {
			newest = d
		}
	}
	return newest
}
