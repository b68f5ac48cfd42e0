// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/repurpose/pkg/types"
)

const runsDBFile = "pipeline.db"

// RunStore persists pipeline runs, their append-only handoff trail, and
// their hypothesis sets. A run can be resumed from whatever the store last
// recorded.
type RunStore struct {
	db *sql.DB
}

// NewRunStore opens or creates the run database at runsDir/pipeline.db.
func NewRunStore(runsDir string) (*RunStore, error) {
	if runsDir == "" {
		runsDir = "runs"
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}

	dbPath := filepath.Join(runsDir, runsDBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}

	s := &RunStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			started TEXT NOT NULL,
			stage TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			run_id TEXT NOT NULL REFERENCES runs(id),
			seq INTEGER NOT NULL,
			stage TEXT NOT NULL,
			at TEXT NOT NULL,
			input TEXT,
			output TEXT,
			status TEXT NOT NULL,
			detail TEXT,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_passages (
			run_id TEXT NOT NULL REFERENCES runs(id),
			pos INTEGER NOT NULL,
			id TEXT NOT NULL,
			document_id TEXT,
			text TEXT,
			date TEXT,
			similarity REAL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_hypotheses (
			run_id TEXT NOT NULL REFERENCES runs(id),
			pos INTEGER NOT NULL,
			id TEXT NOT NULL,
			drug TEXT NOT NULL,
			mechanism TEXT NOT NULL,
			target TEXT NOT NULL,
			passages TEXT,
			rationale TEXT,
			score REAL,
			status TEXT,
			reason TEXT,
			PRIMARY KEY (run_id, id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// CreateRun inserts a new run record.
func (s *RunStore) CreateRun(ctx context.Context, run *types.PipelineRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, started, stage) VALUES (?, ?, ?, ?)`,
		run.ID, run.Query, run.Started.UTC().Format(time.RFC3339Nano), string(run.Stage),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// AppendHandoff writes one audit record and advances the run's stage in a
// single transaction. Handoff rows are never updated afterwards.
func (s *RunStore) AppendHandoff(ctx context.Context, rec types.HandoffRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO handoffs (run_id, seq, stage, at, input, output, status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Seq, string(rec.Stage), rec.At.UTC().Format(time.RFC3339Nano),
		rec.Input, rec.Output, string(rec.Status), rec.Detail,
	); err != nil {
		return fmt.Errorf("inserting handoff %s/%d: %w", rec.RunID, rec.Seq, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET stage = ? WHERE id = ?`, string(rec.Stage), rec.RunID,
	); err != nil {
		return fmt.Errorf("updating run stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// SavePassages replaces the run's retrieved passage set.
func (s *RunStore) SavePassages(ctx context.Context, runID string, passages []types.Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_passages WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing passages: %w", err)
	}

	for i, p := range passages {
		date := ""
		if !p.Date.IsZero() {
			date = p.Date.UTC().Format(time.RFC3339)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_passages (run_id, pos, id, document_id, text, date, similarity)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, p.ID, p.DocumentID, p.Text, date, p.Similarity,
		); err != nil {
			return fmt.Errorf("inserting passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// SaveHypotheses replaces the run's hypothesis set in one transaction, so
// re-executing a stage after a restart leaves exactly one copy of each
// hypothesis.
func (s *RunStore) SaveHypotheses(ctx context.Context, runID string, hypotheses []types.Hypothesis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_hypotheses WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing hypotheses: %w", err)
	}

	for i, h := range hypotheses {
		passagesJSON, err := json.Marshal(h.SupportingPassages)
		if err != nil {
			return fmt.Errorf("marshaling passage ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_hypotheses (run_id, pos, id, drug, mechanism, target, passages, rationale, score, status, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, h.ID, h.Drug, h.Mechanism, h.Target, string(passagesJSON),
			h.Rationale, h.EvidenceScore, string(h.Validation), h.ValidationReason,
		); err != nil {
			return fmt.Errorf("inserting hypothesis %s: %w", h.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// LoadRun reconstructs a persisted run: metadata, ordered handoffs,
// passages, and hypotheses.
func (s *RunStore) LoadRun(ctx context.Context, runID string) (*types.PipelineRun, error) {
	run := &types.PipelineRun{ID: runID}

	var started, stage string
	err := s.db.QueryRowContext(ctx,
		`SELECT query, started, stage FROM runs WHERE id = ?`, runID,
	).Scan(&run.Query, &started, &stage)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("loading run: %w", err)
	}
	run.Stage = types.Stage(stage)
	run.Started, _ = time.Parse(time.RFC3339Nano, started)

	if run.Handoffs, err = s.loadHandoffs(ctx, runID); err != nil {
		return nil, err
	}
	if run.Passages, err = s.loadPassages(ctx, runID); err != nil {
		return nil, err
	}
	if run.Hypotheses, err = s.loadHypotheses(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunStore) loadHandoffs(ctx context.Context, runID string) ([]types.HandoffRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, stage, at, input, output, status, detail
		 FROM handoffs WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading handoffs: %w", err)
	}
	defer rows.Close()

	var records []types.HandoffRecord
	for rows.Next() {
		rec := types.HandoffRecord{RunID: runID}
		var stage, at, status string
		if err := rows.Scan(&rec.Seq, &stage, &at, &rec.Input, &rec.Output, &status, &rec.Detail); err != nil {
			return nil, fmt.Errorf("scanning handoff: %w", err)
		}
		rec.Stage = types.Stage(stage)
		rec.Status = types.HandoffStatus(status)
		rec.At, _ = time.Parse(time.RFC3339Nano, at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *RunStore) loadPassages(ctx context.Context, runID string) ([]types.Passage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, text, date, similarity
		 FROM run_passages WHERE run_id = ? ORDER BY pos`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading passages: %w", err)
	}
	defer rows.Close()

	var passages []types.Passage
	for rows.Next() {
		var p types.Passage
		var date string
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Text, &date, &p.Similarity); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		if date != "" {
			p.Date, _ = time.Parse(time.RFC3339, date)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

func (s *RunStore) loadHypotheses(ctx context.Context, runID string) ([]types.Hypothesis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, drug, mechanism, target, passages, rationale, score, status, reason
		 FROM run_hypotheses WHERE run_id = ? ORDER BY pos`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading hypotheses: %w", err)
	}
	defer rows.Close()

	var hypotheses []types.Hypothesis
	for rows.Next() {
		var h types.Hypothesis
		var passagesJSON, status string
		if err := rows.Scan(&h.ID, &h.Drug, &h.Mechanism, &h.Target, &passagesJSON,
			&h.Rationale, &h.EvidenceScore, &status, &h.ValidationReason); err != nil {
			return nil, fmt.Errorf("scanning hypothesis: %w", err)
		}
		h.Validation = types.ValidationStatus(status)
		if passagesJSON != "" {
			json.Unmarshal([]byte(passagesJSON), &h.SupportingPassages)
		}
		hypotheses = append(hypotheses, h)
	}
	return hypotheses, rows.Err()
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID         string
	Query      string
	Started    time.Time
	Stage      types.Stage
	Candidates int
}

// ListRuns returns all runs, most recent first.
func (s *RunStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.query, r.started, r.stage,
			(SELECT count(*) FROM run_hypotheses h WHERE h.run_id = r.id)
		 FROM runs r ORDER BY r.started DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var sum RunSummary
		var started, stage string
		if err := rows.Scan(&sum.ID, &sum.Query, &started, &stage, &sum.Candidates); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		sum.Stage = types.Stage(stage)
		sum.Started, _ = time.Parse(time.RFC3339Nano, started)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}
