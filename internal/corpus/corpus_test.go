// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, abstractsDir), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := types.RetrievalConfig{CorpusDir: tmpDir, MaxPassages: 10}
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return store, tmpDir
}

func writeRecords(t *testing.T, tmpDir, name string, records []DocumentRecord) {
	t.Helper()
	data, err := yaml.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(tmpDir, abstractsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

var testRecords = []DocumentRecord{
	{
		ID:       "pmid-100",
		Title:    "Metformin and AMPK signaling in leukemia",
		Date:     "2024-03-01",
		Abstract: "Metformin activates AMPK signaling. AMPK activation suppresses leukemic blast proliferation in vitro.",
	},
	{
		ID:       "pmid-200",
		Title:    "Statins in oncology",
		Date:     "2019-06-15",
		Abstract: "Simvastatin inhibits HMG-CoA reductase. Cholesterol pathway inhibition alters tumor cell membranes.",
	},
	{
		ID:       "pmid-300",
		Title:    "Empty entry",
		Date:     "2023-01-01",
		Abstract: "",
	},
}

// --- ingest ---

func TestIngestAndRetrieve(t *testing.T) {
	store, tmpDir := testStore(t)
	writeRecords(t, tmpDir, "batch1.yaml", testRecords)

	summary, err := store.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Indexed != 1 {
		t.Errorf("Indexed = %d, want 1", summary.Indexed)
	}
	if summary.Passages == 0 {
		t.Fatal("no passages indexed")
	}

	passages, err := store.Retrieve(context.Background(), "metformin AMPK leukemia", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) == 0 {
		t.Fatal("expected passages for metformin query")
	}

	// Top hit should come from the metformin document.
	if passages[0].DocumentID != "pmid-100" {
		t.Errorf("top passage document = %s, want pmid-100", passages[0].DocumentID)
	}
	if passages[0].Similarity <= 0 || passages[0].Similarity > 1 {
		t.Errorf("similarity %f out of (0,1]", passages[0].Similarity)
	}
	if passages[0].Date.IsZero() {
		t.Error("publication date not populated")
	}

	// Ordered highest similarity first.
	for i := 1; i < len(passages); i++ {
		if passages[i].Similarity > passages[i-1].Similarity {
			t.Errorf("passages not ordered by similarity at %d", i)
		}
	}
}

func TestIngestSkipsUnchangedFiles(t *testing.T) {
	store, tmpDir := testStore(t)
	writeRecords(t, tmpDir, "batch1.yaml", testRecords)

	if _, err := store.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	summary, err := store.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if summary.Indexed != 0 {
		t.Errorf("Indexed = %d, want 0", summary.Indexed)
	}
}

func TestIngestFailsOnMalformedFile(t *testing.T) {
	store, tmpDir := testStore(t)
	path := filepath.Join(tmpDir, abstractsDir, "bad.yaml")
	if err := os.WriteFile(path, []byte("{not: [valid"), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := store.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
}

// --- retrieve ---

func TestRetrieveRespectsLimitAndFloor(t *testing.T) {
	store, tmpDir := testStore(t)
	writeRecords(t, tmpDir, "batch1.yaml", testRecords)
	if _, err := store.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	passages, err := store.Retrieve(context.Background(), "metformin AMPK signaling", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) > 1 {
		t.Errorf("got %d passages, want at most 1", len(passages))
	}

	// A floor above every possible similarity filters everything out.
	passages, err = store.Retrieve(context.Background(), "metformin", 10, 0.999)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages above floor 0.999, want 0", len(passages))
	}
}

func TestRetrieveNoMatchesIsNotAnError(t *testing.T) {
	store, tmpDir := testStore(t)
	writeRecords(t, tmpDir, "batch1.yaml", testRecords)
	if _, err := store.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	passages, err := store.Retrieve(context.Background(), "zzzunmatchable", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages, want 0", len(passages))
	}
}

func TestOpenMissingIndex(t *testing.T) {
	cfg := types.RetrievalConfig{CorpusDir: t.TempDir()}
	_, err := Open(cfg)
	if !errors.Is(err, ErrNoIndex) {
		t.Errorf("err = %v, want ErrNoIndex", err)
	}
}

// --- text processing ---

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips html tags", "a <b>bold</b> claim", "a bold claim"},
		{"collapses whitespace", "spaced \n\t out", "spaced out"},
		{"trims", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanText(tt.in); got != tt.want {
				t.Errorf("cleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChunkText(t *testing.T) {
	short := "One sentence."
	if got := chunkText(short, 500); len(got) != 1 || got[0] != short {
		t.Errorf("chunkText(short) = %v", got)
	}

	long := strings.Repeat("This sentence fills space with words. ", 40)
	chunks := chunkText(strings.TrimSpace(long), 500)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 500 {
			t.Errorf("chunk %d is %d runes, want <= 500", i, len([]rune(c)))
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}

	// A single unbreakable sentence is split hard.
	giant := strings.Repeat("x", 1200)
	chunks = chunkText(giant, 500)
	if len(chunks) != 3 {
		t.Errorf("got %d chunks for 1200-rune run, want 3", len(chunks))
	}
}

func TestFTSQueryQuotesTerms(t *testing.T) {
	got := ftsQuery(`metformin AND "leukemia" (repurposing)`)
	want := `"metformin" OR "AND" OR "leukemia" OR "repurposing"`
	if got != want {
		t.Errorf("ftsQuery = %q, want %q", got, want)
	}

	if got := ftsQuery("!!!"); got != "" {
		t.Errorf("ftsQuery(punct) = %q, want empty", got)
	}
}

func TestPassageIDStable(t *testing.T) {
	a := passageID("pmid-1", "some chunk text")
	b := passageID("pmid-1", "some chunk text")
	if a != b {
		t.Errorf("passage IDs differ: %s vs %s", a, b)
	}
	if len(a) != 12 {
		t.Errorf("passage ID length = %d, want 12", len(a))
	}
	if a == passageID("pmid-2", "some chunk text") {
		t.Error("different documents produced the same passage ID")
	}
}
