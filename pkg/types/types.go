// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the data model and configuration shared across
// pipeline stages.
package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Passage is a retrieved unit of corpus text with its similarity to the
// query that produced it. Immutable once retrieved; a Passage belongs to
// the result set of exactly one retrieval call.
type Passage struct {
	// ID is a stable identifier derived from the source document and chunk.
	ID string `json:"id" yaml:"id"`

	// DocumentID identifies the source document (e.g. a PMID).
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Text is the passage content.
	Text string `json:"text" yaml:"text"`

	// Date is the source document's publication date. Zero if unknown.
	Date time.Time `json:"date" yaml:"date"`

	// Similarity is the retrieval similarity score in (0, 1], highest first.
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// ValidationStatus classifies how a hypothesis fared against the external
// knowledge base. Set exactly once per hypothesis within a run; the zero
// value means validation has not run yet.
type ValidationStatus string

const (
	// StatusConfirmed: a high-confidence match exists between the proposed
	// mechanism and a recorded entry for the target.
	StatusConfirmed ValidationStatus = "confirmed"

	// StatusPartial: the target exists in the knowledge base but the
	// specific mechanism could not be matched at sufficient confidence.
	StatusPartial ValidationStatus = "partial"

	// StatusUnverified: no record exists for the target at all.
	StatusUnverified ValidationStatus = "unverified"

	// StatusError: the lookup itself failed after bounded retry. Unknown
	// due to infrastructure, not checked-and-absent.
	StatusError ValidationStatus = "error"
)

// Rank orders statuses for result ranking: confirmed > partial > error >
// unverified. Higher is better.
func (s ValidationStatus) Rank() int {
	switch s {
	case StatusConfirmed:
		return 3
	case StatusPartial:
		return 2
	case StatusError:
		return 1
	case StatusUnverified:
		return 0
	default:
		return -1
	}
}

// Hypothesis is a structured drug repurposing candidate produced by the
// generator and graded by the scorer and validator. Hypotheses are never
// deleted once accepted; unverifiable ones are retained and flagged.
type Hypothesis struct {
	// ID is stable across runs for the same (drug, mechanism, target) triple.
	ID string `json:"id" yaml:"id"`

	// Drug is the candidate drug entity.
	Drug string `json:"drug" yaml:"drug"`

	// Mechanism describes the proposed mechanism of action.
	Mechanism string `json:"mechanism" yaml:"mechanism"`

	// Target is the target entity or disease.
	Target string `json:"target" yaml:"target"`

	// SupportingPassages lists IDs of passages cited as evidence. Always a
	// subset of the passages retrieved for the run; never empty.
	SupportingPassages []string `json:"supporting_passage_ids" yaml:"supporting_passage_ids"`

	// Rationale is the raw reasoning text returned by the model.
	Rationale string `json:"rationale" yaml:"rationale"`

	// EvidenceScore is the corpus-side confidence in [0, 1]. Set by the scorer.
	EvidenceScore float64 `json:"evidence_score" yaml:"evidence_score"`

	// Validation is set by the grounding validator.
	Validation ValidationStatus `json:"validation_status" yaml:"validation_status"`

	// ValidationReason is a free-text explanation of the classification.
	ValidationReason string `json:"validation_reason,omitempty" yaml:"validation_reason,omitempty"`
}

// HypothesisID derives the stable identifier for a (drug, mechanism, target)
// triple: the first 12 hex characters of SHA-256 over the lowercased fields.
// Consistent across runs so idempotent stage re-execution deduplicates.
func HypothesisID(drug, mechanism, target string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(drug))))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(mechanism))))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(target))))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Stage names a pipeline state. A run moves strictly forward through
// StageStarted .. StageComplete; StageFailed is terminal and reachable only
// from an unrecoverable condition.
type Stage string

const (
	StageStarted   Stage = "started"
	StageRetrieved Stage = "retrieved"
	StageGenerated Stage = "generated"
	StageScored    Stage = "scored"
	StageValidated Stage = "validated"
	StageComplete  Stage = "complete"
	StageFailed    Stage = "failed"
)

// HandoffStatus marks the outcome recorded on a HandoffRecord.
type HandoffStatus string

const (
	HandoffOK     HandoffStatus = "ok"
	HandoffFailed HandoffStatus = "failed"
)

// HandoffRecord is one append-only audit-trail entry written at a stage
// transition. Never mutated after write.
type HandoffRecord struct {
	// RunID is the correlation ID of the owning run.
	RunID string `json:"run_id" yaml:"run_id"`

	// Seq is the position of this record within the run, starting at 0.
	Seq int `json:"seq" yaml:"seq"`

	// Stage is the state the run transitioned into.
	Stage Stage `json:"stage" yaml:"stage"`

	// At is the transition timestamp.
	At time.Time `json:"at" yaml:"at"`

	// Input references what the stage consumed (e.g. "passages:12").
	Input string `json:"input" yaml:"input"`

	// Output references what the stage produced (e.g. "hypotheses:4").
	Output string `json:"output" yaml:"output"`

	// Status is ok or failed.
	Status HandoffStatus `json:"status" yaml:"status"`

	// Detail carries an error message or note. Empty on clean transitions.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// PipelineRun is the cross-stage state for one query. Owned exclusively by
// the orchestrator for the run's lifetime; read-only once complete.
type PipelineRun struct {
	// ID is a UUID correlating all audit events for the run.
	ID string `json:"id" yaml:"id"`

	// Query is the disease or keyword query driving the run.
	Query string `json:"query" yaml:"query"`

	// Started is the run creation time.
	Started time.Time `json:"started" yaml:"started"`

	// Stage is the last recorded state.
	Stage Stage `json:"stage" yaml:"stage"`

	// Handoffs is the ordered audit trail.
	Handoffs []HandoffRecord `json:"handoffs" yaml:"handoffs"`

	// Passages is the retrieval result set for the run, persisted so a
	// resumed run re-scores against identical inputs.
	Passages []Passage `json:"passages" yaml:"passages"`

	// Hypotheses is the candidate list, ranked once the run completes.
	Hypotheses []Hypothesis `json:"hypotheses" yaml:"hypotheses"`
}
