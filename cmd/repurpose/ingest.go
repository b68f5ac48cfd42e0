// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/corpus"
	"github.com/pdiddy/repurpose/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index abstract records into the corpus passage store",
	Long: `Ingest reads abstract record files (YAML or JSON) from
corpus/abstracts/, cleans and chunks each abstract into passages, and
indexes them into a SQLite database with FTS5 full-text search.
Unchanged files are skipped on subsequent runs.`,
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := retrievalConfig(cmd)

	store, err := corpus.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	log := audit.NewWriterLogger(os.Stdout, "ingest")
	summary, err := store.Ingest(context.Background(), log)
	if err != nil {
		return err
	}

	fmt.Printf("\nindexed: %d, updated: %d, skipped: %d, failed: %d (%d passages)\n",
		summary.Indexed, summary.Updated, summary.Skipped, summary.Failed, summary.Passages)
	if summary.Failed > 0 {
		return fmt.Errorf("%d file(s) failed to index", summary.Failed)
	}
	return nil
}

// retrievalConfig builds the retrieval settings from flags.
func retrievalConfig(cmd *cobra.Command) types.RetrievalConfig {
	corpusDir, _ := cmd.Flags().GetString("corpus-dir")
	if corpusDir == "" {
		corpusDir = "corpus"
	}
	maxPassages, _ := cmd.Flags().GetInt("k")
	floor, _ := cmd.Flags().GetFloat64("floor")

	return types.RetrievalConfig{
		CorpusDir:       corpusDir,
		MaxPassages:     maxPassages,
		SimilarityFloor: floor,
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
