// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline sequences retrieval, generation, scoring, and
// validation for one query, persisting an audit record at every stage
// transition so an interrupted run can resume where it stopped.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/corpus"
	"github.com/pdiddy/repurpose/pkg/types"
)

// Generator proposes hypotheses from retrieved passages.
type Generator interface {
	Generate(ctx context.Context, query string, passages []types.Passage) ([]types.Hypothesis, error)
}

// Validator classifies hypotheses against the knowledge base. It must
// return exactly as many hypotheses as it receives.
type Validator interface {
	Validate(ctx context.Context, hypotheses []types.Hypothesis) []types.Hypothesis
}

// Scorer computes the evidence score for one hypothesis. It must be pure.
type Scorer func(types.Hypothesis, []types.Passage) float64

// Orchestrator owns the run state machine:
//
//	started -> retrieved -> generated -> scored -> validated -> complete
//
// with failed as the only other terminal state, reachable solely from
// infrastructure failure of a required stage. Per-hypothesis problems
// never leave this path.
type Orchestrator struct {
	retriever corpus.Retriever
	generator Generator
	scorer    Scorer
	validator Validator
	store     *RunStore
	log       audit.Logger
	cfg       types.PipelineConfig
}

// New assembles an Orchestrator from its stage collaborators.
func New(retriever corpus.Retriever, generator Generator, scorer Scorer, validator Validator,
	store *RunStore, log audit.Logger, cfg types.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		scorer:    scorer,
		validator: validator,
		store:     store,
		log:       audit.OrNop(log),
		cfg:       cfg,
	}
}

// Run executes the full pipeline for query and returns the completed run
// with its ranked hypothesis list.
func (o *Orchestrator) Run(ctx context.Context, query string) (*types.PipelineRun, error) {
	run := &types.PipelineRun{
		ID:      uuid.NewString(),
		Query:   query,
		Started: time.Now(),
		Stage:   types.StageStarted,
	}

	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	if err := o.transition(ctx, run, types.StageStarted, "query:"+query, "", types.HandoffOK, ""); err != nil {
		return nil, err
	}

	return o.advance(ctx, run)
}

// Resume continues a persisted run from its last recorded stage. The stage
// after the last clean handoff re-executes; replacing the stage's output
// wholesale keeps re-execution idempotent.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*types.PipelineRun, error) {
	run, err := o.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Stage == types.StageComplete || run.Stage == types.StageFailed {
		return run, nil
	}

	o.log.Info("resuming run %s from stage %s", run.ID, run.Stage)
	return o.advance(ctx, run)
}

// advance drives the state machine forward until a terminal stage. The
// cancellation signal is checked at every stage boundary; a cancelled run
// keeps the handoff records persisted so far.
func (o *Orchestrator) advance(ctx context.Context, run *types.PipelineRun) (*types.PipelineRun, error) {
	for {
		if err := ctx.Err(); err != nil {
			o.log.Warn("run %s cancelled at stage %s", run.ID, run.Stage)
			return run, err
		}

		var err error
		switch run.Stage {
		case types.StageStarted:
			err = o.retrieve(ctx, run)
		case types.StageRetrieved:
			err = o.generate(ctx, run)
		case types.StageGenerated:
			err = o.scoreStage(ctx, run)
		case types.StageScored:
			err = o.validate(ctx, run)
		case types.StageValidated:
			err = o.complete(ctx, run)
		case types.StageComplete, types.StageFailed:
			return run, nil
		default:
			return run, fmt.Errorf("run %s in unknown stage %q", run.ID, run.Stage)
		}
		if err != nil {
			return run, err
		}
	}
}

// retrieve is the only stage whose failure is run-fatal: without the
// retriever there is no evidence to reason over.
func (o *Orchestrator) retrieve(ctx context.Context, run *types.PipelineRun) error {
	passages, err := o.retriever.Retrieve(ctx, run.Query,
		o.cfg.Retrieval.MaxPassages, o.cfg.Retrieval.SimilarityFloor)
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("retrieval failed: %w", err))
	}

	run.Passages = passages
	if err := o.store.SavePassages(ctx, run.ID, passages); err != nil {
		return o.fail(ctx, run, fmt.Errorf("persisting passages: %w", err))
	}

	return o.transition(ctx, run, types.StageRetrieved,
		"query:"+run.Query, fmt.Sprintf("passages:%d", len(passages)), types.HandoffOK, "")
}

// generate tolerates reasoning failure: a query whose response never
// parses yields zero hypotheses and the run continues.
func (o *Orchestrator) generate(ctx context.Context, run *types.PipelineRun) error {
	hypotheses, err := o.generator.Generate(ctx, run.Query, run.Passages)

	status, detail := types.HandoffOK, ""
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		status, detail = types.HandoffFailed, err.Error()
		hypotheses = nil
		o.log.Warn("generation yielded no hypotheses for run %s: %v", run.ID, err)
	}

	run.Hypotheses = hypotheses
	if err := o.store.SaveHypotheses(ctx, run.ID, hypotheses); err != nil {
		return o.fail(ctx, run, fmt.Errorf("persisting hypotheses: %w", err))
	}

	return o.transition(ctx, run, types.StageGenerated,
		fmt.Sprintf("passages:%d", len(run.Passages)),
		fmt.Sprintf("hypotheses:%d", len(hypotheses)), status, detail)
}

func (o *Orchestrator) scoreStage(ctx context.Context, run *types.PipelineRun) error {
	for i := range run.Hypotheses {
		run.Hypotheses[i].EvidenceScore = o.scorer(run.Hypotheses[i], run.Passages)
	}

	if err := o.store.SaveHypotheses(ctx, run.ID, run.Hypotheses); err != nil {
		return o.fail(ctx, run, fmt.Errorf("persisting scores: %w", err))
	}

	return o.transition(ctx, run, types.StageScored,
		fmt.Sprintf("hypotheses:%d", len(run.Hypotheses)),
		fmt.Sprintf("scored:%d", len(run.Hypotheses)), types.HandoffOK, "")
}

func (o *Orchestrator) validate(ctx context.Context, run *types.PipelineRun) error {
	validated := o.validator.Validate(ctx, run.Hypotheses)
	if len(validated) != len(run.Hypotheses) {
		// The validator contract guarantees count preservation; a mismatch
		// is a stage precondition violation.
		return o.fail(ctx, run, fmt.Errorf("validator returned %d hypotheses for %d inputs",
			len(validated), len(run.Hypotheses)))
	}

	run.Hypotheses = validated
	if err := o.store.SaveHypotheses(ctx, run.ID, validated); err != nil {
		return o.fail(ctx, run, fmt.Errorf("persisting validations: %w", err))
	}

	return o.transition(ctx, run, types.StageValidated,
		fmt.Sprintf("hypotheses:%d", len(run.Hypotheses)),
		fmt.Sprintf("validated:%d", len(validated)), types.HandoffOK, "")
}

// complete ranks the final list. Sorting happens only after all
// validations are in, so ordering is deterministic regardless of the
// arrival order of concurrent validation results.
func (o *Orchestrator) complete(ctx context.Context, run *types.PipelineRun) error {
	Rank(run.Hypotheses, run.Passages)

	if err := o.store.SaveHypotheses(ctx, run.ID, run.Hypotheses); err != nil {
		return o.fail(ctx, run, fmt.Errorf("persisting ranked results: %w", err))
	}

	return o.transition(ctx, run, types.StageComplete,
		fmt.Sprintf("validated:%d", len(run.Hypotheses)),
		fmt.Sprintf("ranked:%d", len(run.Hypotheses)), types.HandoffOK, "")
}

// transition appends a handoff record, advances the persisted stage, and
// mirrors both onto the in-memory run.
func (o *Orchestrator) transition(ctx context.Context, run *types.PipelineRun,
	stage types.Stage, input, output string, status types.HandoffStatus, detail string) error {
	rec := types.HandoffRecord{
		RunID:  run.ID,
		Seq:    len(run.Handoffs),
		Stage:  stage,
		At:     time.Now(),
		Input:  input,
		Output: output,
		Status: status,
		Detail: detail,
	}

	if err := o.store.AppendHandoff(ctx, rec); err != nil {
		return fmt.Errorf("recording handoff to %s: %w", stage, err)
	}

	from := run.Stage
	run.Handoffs = append(run.Handoffs, rec)
	run.Stage = stage

	o.log.Event(audit.KindHandoff, "%s -> %s | run=%s | in=%s out=%s | %s",
		from, stage, run.ID, input, output, status)
	return nil
}

// fail records the terminal failed state and returns the cause.
func (o *Orchestrator) fail(ctx context.Context, run *types.PipelineRun, cause error) error {
	// Best effort: the audit trail should reflect the failure even when
	// the store is the thing that broke.
	if err := o.transition(ctx, run, types.StageFailed, string(run.Stage), "",
		types.HandoffFailed, cause.Error()); err != nil {
		o.log.Error("recording failure for run %s: %v", run.ID, err)
	}
	return cause
}
