// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pdiddy/repurpose/pkg/types"
)

// Retriever returns ranked passages for a query. The pipeline consumes
// retrieval through this interface so tests can substitute a fixture.
type Retriever interface {
	// Retrieve returns at most k passages with similarity >= floor, highest
	// similarity first. An empty result is a valid no-evidence outcome.
	Retrieve(ctx context.Context, query string, k int, floor float64) ([]types.Passage, error)
}

// Retrieve runs an FTS5 query over the passage index. BM25 rank is mapped
// to a similarity in (0, 1]; see similarityFromRank.
func (s *Store) Retrieve(ctx context.Context, query string, k int, floor float64) ([]types.Passage, error) {
	if k <= 0 {
		k = s.maxResults
	}

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.document_id, p.text, d.date, passages_fts.rank
		 FROM passages_fts
		 JOIN passages p ON p.rowid = passages_fts.rowid
		 LEFT JOIN documents d ON p.document_id = d.id
		 WHERE passages_fts MATCH ?
		 ORDER BY passages_fts.rank
		 LIMIT ?`,
		match, k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying passage index: %w", err)
	}
	defer rows.Close()

	var passages []types.Passage
	for rows.Next() {
		var (
			p       types.Passage
			dateStr sql.NullString
			rank    float64
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Text, &dateStr, &rank); err != nil {
			return nil, fmt.Errorf("scanning passage row: %w", err)
		}

		p.Similarity = similarityFromRank(rank)
		if p.Similarity < floor {
			continue
		}
		if dateStr.Valid {
			p.Date = parseDate(dateStr.String)
		}
		passages = append(passages, p)
	}

	return passages, rows.Err()
}

// ftsQuery turns a free-text query into an FTS5 OR expression of quoted
// terms, so punctuation and FTS operators in user input cannot break the
// match syntax.
func ftsQuery(query string) string {
	var terms []string
	for _, field := range strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if field != "" {
			terms = append(terms, `"`+field+`"`)
		}
	}
	return strings.Join(terms, " OR ")
}

// similarityFromRank maps an FTS5 BM25 rank (negative, more negative is
// more relevant) onto (0, 1]: rel/(rel+1) with rel = -rank. Monotonic in
// relevance, so ordering by rank and by similarity agree.
func similarityFromRank(rank float64) float64 {
	rel := -rank
	if rel <= 0 {
		return 0
	}
	return rel / (rel + 1)
}

// dateLayouts covers the publication date formats seen in corpus records.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
