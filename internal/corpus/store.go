// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package corpus persists literature passages and serves ranked retrieval.
// The index is a local SQLite database with an FTS5 full-text table kept in
// sync by triggers; abstracts are ingested from YAML record files and
// chunked into passages.
package corpus

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/repurpose/pkg/types"
)

const (
	abstractsDir = "abstracts"
	indexDir     = "index"
	dbFile       = "corpus.db"
)

// ErrNoIndex is returned when retrieval is attempted against a corpus that
// has never been ingested. The pipeline treats this as fatal: a missing
// index is infrastructure failure, not an empty result.
var ErrNoIndex = errors.New("corpus index does not exist")

// Store manages the corpus SQLite database.
type Store struct {
	db         *sql.DB
	corpusDir  string
	maxResults int
}

// NewStore opens or creates the corpus database at corpusDir/index/corpus.db,
// creating the schema if needed. Use Open when the index must already exist.
func NewStore(cfg types.RetrievalConfig) (*Store, error) {
	dbDir := filepath.Join(cfg.CorpusDir, indexDir)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	s, err := open(cfg)
	if err != nil {
		return nil, err
	}

	if err := s.createSchema(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Open opens an existing corpus database. It returns ErrNoIndex when the
// database file is missing.
func Open(cfg types.RetrievalConfig) (*Store, error) {
	dbPath := filepath.Join(cfg.CorpusDir, indexDir, dbFile)
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dbPath, ErrNoIndex)
		}
		return nil, fmt.Errorf("stat corpus index: %w", err)
	}
	return open(cfg)
}

func open(cfg types.RetrievalConfig) (*Store, error) {
	dbPath := filepath.Join(cfg.CorpusDir, indexDir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening corpus database: %w", err)
	}

	maxResults := cfg.MaxPassages
	if maxResults <= 0 {
		maxResults = 10
	}

	return &Store{
		db:         db,
		corpusDir:  cfg.CorpusDir,
		maxResults: maxResults,
	}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT,
			date TEXT,
			source TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS passages (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			document_id TEXT NOT NULL REFERENCES documents(id),
			text TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passages_document_id ON passages(document_id)`,
		`CREATE TABLE IF NOT EXISTS ingest_status (
			file TEXT PRIMARY KEY,
			file_mod_time TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	// FTS5 virtual table with triggers for sync.
	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='passages_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}

	if ftsExists == 0 {
		ftsStatements := []string{
			`CREATE VIRTUAL TABLE passages_fts USING fts5(text, content=passages, content_rowid=rowid)`,
			`CREATE TRIGGER passages_ai AFTER INSERT ON passages BEGIN
				INSERT INTO passages_fts(rowid, text) VALUES (new.rowid, new.text);
			END`,
			`CREATE TRIGGER passages_ad AFTER DELETE ON passages BEGIN
				INSERT INTO passages_fts(passages_fts, rowid, text) VALUES('delete', old.rowid, old.text);
			END`,
			`CREATE TRIGGER passages_au AFTER UPDATE ON passages BEGIN
				INSERT INTO passages_fts(passages_fts, rowid, text) VALUES('delete', old.rowid, old.text);
				INSERT INTO passages_fts(rowid, text) VALUES (new.rowid, new.text);
			END`,
		}
		for _, stmt := range ftsStatements {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("creating FTS infrastructure: %w", err)
			}
		}
	}

	return nil
}
