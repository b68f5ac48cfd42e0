// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/httputil"
	"github.com/pdiddy/repurpose/internal/ratelimit"
	"github.com/pdiddy/repurpose/pkg/types"
)

// uniprotAPIBase is the UniProtKB search endpoint. Package-level var for
// test substitution.
var uniprotAPIBase = "https://rest.uniprot.org/uniprotkb/search"

// maxAnnotationScore is UniProt's annotation score ceiling, used to
// normalize match confidence into [0, 1].
const maxAnnotationScore = 5.0

// UniProtBackend implements KnowledgeBase against the UniProtKB REST API.
// Every request passes through the shared rate limiter.
type UniProtBackend struct {
	Client  *http.Client
	Limiter *ratelimit.Limiter
	Log     audit.Logger
	HTTP    types.HTTPConfig
}

type uniprotResponse struct {
	Results []struct {
		PrimaryAccession string  `json:"primaryAccession"`
		AnnotationScore  float64 `json:"annotationScore"`
	} `json:"results"`
}

// Lookup queries UniProtKB for the (target, mechanism) pair restricted to
// human entries. A hit on the combined query is a mechanism match with
// confidence from the entry's annotation score; otherwise a target-only
// query distinguishes an unrecorded target from an unmatched mechanism.
func (b *UniProtBackend) Lookup(ctx context.Context, target, mechanism string) (MatchResult, error) {
	combined := fmt.Sprintf(`(%s) AND ("%s") AND (organism_id:9606)`, target, mechanism)
	resp, err := b.search(ctx, combined)
	if err != nil {
		return MatchResult{}, err
	}

	if len(resp.Results) > 0 {
		entry := resp.Results[0]
		confidence := entry.AnnotationScore / maxAnnotationScore
		if confidence <= 0 {
			confidence = 0.5
		}
		return MatchResult{
			TargetFound: true,
			Match:       true,
			Confidence:  confidence,
			RecordID:    entry.PrimaryAccession,
		}, nil
	}

	targetOnly := fmt.Sprintf(`(%s) AND (organism_id:9606)`, target)
	resp, err = b.search(ctx, targetOnly)
	if err != nil {
		return MatchResult{}, err
	}

	return MatchResult{TargetFound: len(resp.Results) > 0}, nil
}

func (b *UniProtBackend) search(ctx context.Context, query string) (uniprotResponse, error) {
	if err := b.Limiter.Acquire(ctx, ratelimit.ServiceKnowledgeBase); err != nil {
		return uniprotResponse{}, fmt.Errorf("acquiring knowledge base token: %w", err)
	}

	params := url.Values{
		"query":  {query},
		"format": {"json"},
		"size":   {"1"},
		"fields": {"accession,annotation_score"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uniprotAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return uniprotResponse{}, fmt.Errorf("creating request: %w", err)
	}
	if b.HTTP.UserAgent != "" {
		req.Header.Set("User-Agent", b.HTTP.UserAgent)
	}

	log := audit.OrNop(b.Log)
	start := time.Now()

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		log.Event(audit.KindAPI, "UniProt | ERROR | %v", err)
		return uniprotResponse{}, fmt.Errorf("calling UniProt API: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start).Round(10 * time.Millisecond)

	if resp.StatusCode != http.StatusOK {
		log.Event(audit.KindAPI, "UniProt | %d | %s | FAILED", resp.StatusCode, elapsed)
		return uniprotResponse{}, fmt.Errorf("UniProt API returned %d", resp.StatusCode)
	}

	var uResp uniprotResponse
	if err := json.NewDecoder(resp.Body).Decode(&uResp); err != nil {
		return uniprotResponse{}, fmt.Errorf("decoding UniProt response: %w", err)
	}

	log.Event(audit.KindAPI, "UniProt | %d | %s | %d hits", resp.StatusCode, elapsed, len(uResp.Results))
	return uResp, nil
}
