// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose/internal/audit"
)

// chunkSize bounds the rune length of a single passage. Abstracts are split
// on sentence boundaries so one passage stays a coherent evidence unit.
const chunkSize = 500

// DocumentRecord is one abstract as it appears in a corpus YAML file.
type DocumentRecord struct {
	// ID is the source document identifier (e.g. a PMID).
	ID string `json:"id" yaml:"id"`

	// Title is the document title.
	Title string `json:"title" yaml:"title"`

	// Date is the publication date, ISO format ("2024-03-01" or "2024").
	Date string `json:"date" yaml:"date"`

	// Abstract is the abstract text. Records with empty abstracts are skipped.
	Abstract string `json:"abstract" yaml:"abstract"`
}

// IngestSummary holds counts from a corpus indexing run.
type IngestSummary struct {
	Indexed  int
	Updated  int
	Skipped  int
	Failed   int
	Passages int
}

// Total returns the number of files processed.
func (s IngestSummary) Total() int {
	return s.Indexed + s.Updated + s.Skipped + s.Failed
}

// Ingest reads abstract record files from corpusDir/abstracts/ and populates
// the passage index. Unchanged files are skipped by modification time;
// changed files are re-chunked and replace their previous passages.
func (s *Store) Ingest(ctx context.Context, log audit.Logger) (IngestSummary, error) {
	log = audit.OrNop(log)
	recordDir := filepath.Join(s.corpusDir, abstractsDir)

	entries, err := os.ReadDir(recordDir)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("reading abstracts directory %s: %w", recordDir, err)
	}

	var summary IngestSummary

	for _, entry := range entries {
		if entry.IsDir() || !isRecordFile(entry.Name()) {
			continue
		}

		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		filePath := filepath.Join(recordDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			log.Warn("failed  %s: %v", entry.Name(), err)
			summary.Failed++
			continue
		}
		modTime := info.ModTime().UTC().Format(time.RFC3339Nano)

		var storedModTime string
		err = s.db.QueryRowContext(ctx,
			`SELECT file_mod_time FROM ingest_status WHERE file = ?`, entry.Name(),
		).Scan(&storedModTime)

		if err == nil && storedModTime == modTime {
			log.Info("skipped %s", entry.Name())
			summary.Skipped++
			continue
		}
		isUpdate := err == nil

		records, err := readRecords(filePath)
		if err != nil {
			log.Warn("failed  %s: %v", entry.Name(), err)
			summary.Failed++
			continue
		}

		count, err := s.ingestFile(ctx, entry.Name(), records, modTime, isUpdate)
		if err != nil {
			log.Warn("failed  %s: %v", entry.Name(), err)
			summary.Failed++
			continue
		}

		summary.Passages += count
		if isUpdate {
			log.Info("updated %s (%d passages)", entry.Name(), count)
			summary.Updated++
		} else {
			log.Info("indexed %s (%d passages)", entry.Name(), count)
			summary.Indexed++
		}
	}

	return summary, nil
}

func isRecordFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, ".json")
}

// readRecords parses a corpus file as a list of DocumentRecords.
func readRecords(path string) ([]DocumentRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var records []DocumentRecord
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &records)
	} else {
		err = yaml.Unmarshal(data, &records)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return records, nil
}

// ingestFile replaces all passages from one corpus file in a single
// transaction so a failed parse never leaves a half-indexed file behind.
func (s *Store) ingestFile(ctx context.Context, file string, records []DocumentRecord, modTime string, isUpdate bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, rec := range records {
		abstract := cleanText(rec.Abstract)
		if rec.ID == "" || abstract == "" {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, title, date, source) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET title=excluded.title, date=excluded.date, source=excluded.source`,
			rec.ID, cleanText(rec.Title), rec.Date, file,
		); err != nil {
			return 0, fmt.Errorf("upserting document %s: %w", rec.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM passages WHERE document_id = ?`, rec.ID,
		); err != nil {
			return 0, fmt.Errorf("clearing passages for %s: %w", rec.ID, err)
		}

		for _, chunk := range chunkText(abstract, chunkSize) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO passages (id, document_id, text) VALUES (?, ?, ?)`,
				passageID(rec.ID, chunk), rec.ID, chunk,
			); err != nil {
				return 0, fmt.Errorf("inserting passage for %s: %w", rec.ID, err)
			}
			count++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ingest_status (file, file_mod_time) VALUES (?, ?)
		 ON CONFLICT(file) DO UPDATE SET file_mod_time=excluded.file_mod_time`,
		file, modTime,
	); err != nil {
		return 0, fmt.Errorf("recording ingest status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return count, nil
}

var htmlTagRE = regexp.MustCompile(`<[^>]+>`)

// cleanText strips HTML tags, collapses whitespace, and trims.
func cleanText(text string) string {
	text = htmlTagRE.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// chunkText splits text into chunks of at most max runes, breaking on
// sentence boundaries where possible.
func chunkText(text string, max int) []string {
	if len([]rune(text)) <= max {
		return []string{text}
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder

	for _, sent := range sentences {
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(sent))+1 > max {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sent)

		// A single sentence longer than max is split hard.
		for len([]rune(current.String())) > max {
			runes := []rune(current.String())
			chunks = append(chunks, strings.TrimSpace(string(runes[:max])))
			current.Reset()
			current.WriteString(strings.TrimSpace(string(runes[max:])))
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// splitSentences splits on ". " keeping the period with the sentence.
func splitSentences(text string) []string {
	parts := strings.SplitAfter(text, ". ")
	var sentences []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// passageID derives a deterministic passage identifier: the first 12 hex
// characters of SHA-256(documentID + chunk). Stable across re-ingestion of
// unchanged content.
func passageID(documentID, chunk string) string {
	h := sha256.New()
	h.Write([]byte(documentID))
	h.Write([]byte(chunk))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}
