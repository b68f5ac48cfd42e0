// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package generate drives the constrained reasoning step: it builds a
// grounded prompt from retrieved passages, calls the reasoning backend
// under the rate limiter, parses the response against a strict schema, and
// rejects hypotheses whose cited evidence was never supplied.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/ratelimit"
	"github.com/pdiddy/repurpose/pkg/types"
)

// ErrParseFailure is returned when the backend response stays malformed
// after every corrective retry. The pipeline records it and continues with
// zero hypotheses for the query.
var ErrParseFailure = errors.New("reasoning response failed schema parse")

const defaultMaxAttempts = 3

// Backend produces raw model text for a prompt. Implementations do not
// parse; the generator owns parsing so corrective retries can quote the
// exact schema error back to the model.
type Backend interface {
	Propose(ctx context.Context, prompt string) (string, error)
}

// Generator turns retrieved passages into deduplicated, schema-valid
// hypotheses.
type Generator struct {
	backend Backend
	limiter *ratelimit.Limiter
	log     audit.Logger
	cfg     types.GenerationConfig
}

// New returns a Generator. A nil logger disables event output.
func New(backend Backend, limiter *ratelimit.Limiter, log audit.Logger, cfg types.GenerationConfig) *Generator {
	return &Generator{
		backend: backend,
		limiter: limiter,
		log:     audit.OrNop(log),
		cfg:     cfg,
	}
}

// proposal is one candidate as returned by the reasoning service.
type proposal struct {
	Drug                 string   `json:"drug"`
	Mechanism            string   `json:"mechanism"`
	Target               string   `json:"target"`
	SupportingPassageIDs []string `json:"supporting_passage_ids"`
	Rationale            string   `json:"rationale"`
}

// Generate proposes hypotheses for query grounded in passages. With no
// passages it returns no hypotheses without calling the backend. A
// response that never parses yields ErrParseFailure after the retry bound;
// individual invalid candidates are dropped, never fatal.
func (g *Generator) Generate(ctx context.Context, query string, passages []types.Passage) ([]types.Hypothesis, error) {
	if len(passages) == 0 {
		g.log.Event(audit.KindGeneration, "no passages retrieved for %q, skipping reasoning call", query)
		return nil, nil
	}

	maxAttempts := g.cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	supplied := make(map[string]bool, len(passages))
	for _, p := range passages {
		supplied[p.ID] = true
	}

	prompt, err := renderPrompt(query, passages)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := g.limiter.Acquire(ctx, ratelimit.ServiceReasoning); err != nil {
			return nil, fmt.Errorf("acquiring reasoning token: %w", err)
		}

		raw, err := g.backend.Propose(ctx, prompt)
		if err == nil {
			var proposals []proposal
			proposals, err = parseProposals(raw)
			if err == nil {
				g.log.Event(audit.KindGeneration, "attempt %d/%d: parsed %d candidates for %q",
					attempt, maxAttempts, len(proposals), query)
				return g.accept(proposals, supplied), nil
			}
		}

		lastErr = err
		g.log.Event(audit.KindGeneration, "attempt %d/%d failed for %q: %v",
			attempt, maxAttempts, query, err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Re-prompt quoting the failure so the model can correct itself.
		prompt, err = renderCorrectivePrompt(query, passages, lastErr)
		if err != nil {
			return nil, fmt.Errorf("rendering corrective prompt: %w", err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrParseFailure, maxAttempts, lastErr)
}

// parseProposals strictly parses model output as a JSON array of candidate
// objects. Markdown code fences are stripped first; anything that is not a
// list of complete objects is a parse failure.
func parseProposals(raw string) ([]proposal, error) {
	content := stripFences(raw)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var proposals []proposal
	if err := json.Unmarshal([]byte(content), &proposals); err != nil {
		return nil, fmt.Errorf("response is not a JSON array of candidates: %w", err)
	}

	for i, p := range proposals {
		switch {
		case strings.TrimSpace(p.Drug) == "":
			return nil, fmt.Errorf("candidate %d: missing required field %q", i, "drug")
		case strings.TrimSpace(p.Mechanism) == "":
			return nil, fmt.Errorf("candidate %d: missing required field %q", i, "mechanism")
		case strings.TrimSpace(p.Target) == "":
			return nil, fmt.Errorf("candidate %d: missing required field %q", i, "target")
		case len(p.SupportingPassageIDs) == 0:
			return nil, fmt.Errorf("candidate %d: supporting_passage_ids must be non-empty", i)
		}
	}
	return proposals, nil
}

// stripFences removes a surrounding markdown code fence, which models emit
// despite instructions to the contrary.
func stripFences(raw string) string {
	content := strings.TrimSpace(raw)
	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// accept filters fabricated evidence and deduplicates candidates into
// hypotheses. A candidate citing a passage that was never supplied in the
// prompt is dropped with a warning; duplicates of the same
// (drug, mechanism, target) triple merge their supporting sets.
func (g *Generator) accept(proposals []proposal, supplied map[string]bool) []types.Hypothesis {
	byID := make(map[string]int)
	var accepted []types.Hypothesis

	for _, p := range proposals {
		if cited := fabricated(p.SupportingPassageIDs, supplied); len(cited) > 0 {
			g.log.Warn("[GENERATION] evidence fabrication rejected: %s / %s cites unknown passages %v",
				p.Drug, p.Target, cited)
			continue
		}

		id := types.HypothesisID(p.Drug, p.Mechanism, p.Target)
		if idx, ok := byID[id]; ok {
			accepted[idx].SupportingPassages = mergeIDs(accepted[idx].SupportingPassages, p.SupportingPassageIDs)
			if accepted[idx].Rationale == "" {
				accepted[idx].Rationale = p.Rationale
			}
			continue
		}

		byID[id] = len(accepted)
		accepted = append(accepted, types.Hypothesis{
			ID:                 id,
			Drug:               strings.TrimSpace(p.Drug),
			Mechanism:          strings.TrimSpace(p.Mechanism),
			Target:             strings.TrimSpace(p.Target),
			SupportingPassages: mergeIDs(nil, p.SupportingPassageIDs),
			Rationale:          p.Rationale,
		})
	}

	return accepted
}

// fabricated returns the cited IDs that were not supplied in the prompt.
func fabricated(cited []string, supplied map[string]bool) []string {
	var unknown []string
	for _, id := range cited {
		if !supplied[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

// mergeIDs unions two ID lists, deduplicated and sorted for stable output.
func mergeIDs(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	merged := make([]string, 0, len(set))
	for id := range set {
		merged = append(merged, id)
	}
	sort.Strings(merged)
	return merged
}
