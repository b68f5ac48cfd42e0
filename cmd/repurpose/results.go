// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/repurpose/internal/pipeline"
	"github.com/pdiddy/repurpose/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results [run-id]",
	Short: "List stored runs or show a run's graded candidates",
	Long: `Results without arguments lists all persisted pipeline runs. With a
run ID it prints that run's ranked candidate list, including each
hypothesis's evidence score, validation status, and audit trail.`,
	RunE: runResults,
}

func runResults(cmd *cobra.Command, args []string) error {
	runsDir, _ := cmd.Flags().GetString("runs-dir")
	store, err := pipeline.NewRunStore(runsDir)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	if len(args) == 0 {
		return listRuns(ctx, store)
	}

	run, err := store.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "":
		printRun(os.Stdout, run)
		return nil
	case "json":
		return writeRunJSON(os.Stdout, run)
	case "yaml":
		data, err := yaml.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
}

func listRuns(ctx context.Context, store *pipeline.RunStore) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	fmt.Printf("%-36s  %-30s  %-19s  %-9s  %s\n", "Run", "Query", "Started", "Stage", "Candidates")
	fmt.Println(strings.Repeat("-", 108))
	for _, r := range runs {
		query := r.Query
		if len(query) > 30 {
			query = query[:27] + "..."
		}
		fmt.Printf("%-36s  %-30s  %-19s  %-9s  %d\n",
			r.ID, query, r.Started.Format("2006-01-02 15:04:05"), r.Stage, r.Candidates)
	}
	return nil
}

func printRun(w io.Writer, run *types.PipelineRun) {
	fmt.Fprintf(w, "Run %s\nQuery: %s\nStage: %s\n\n", run.ID, run.Query, run.Stage)

	formatHypothesesTable(w, run.Hypotheses)

	fmt.Fprintf(w, "\nAudit trail:\n")
	for _, rec := range run.Handoffs {
		line := fmt.Sprintf("  %s  %-9s  %-6s  in=%s out=%s",
			rec.At.Format("15:04:05"), rec.Stage, rec.Status, rec.Input, rec.Output)
		if rec.Detail != "" {
			line += "  (" + rec.Detail + ")"
		}
		fmt.Fprintln(w, line)
	}
}

// formatHypothesesTable writes the ranked candidate list as a table.
func formatHypothesesTable(w io.Writer, hypotheses []types.Hypothesis) {
	if len(hypotheses) == 0 {
		fmt.Fprintln(w, "No candidates.")
		return
	}

	fmt.Fprintf(w, "%-4s  %-16s  %-40s  %-20s  %-6s  %-10s  %s\n",
		"Rank", "Drug", "Mechanism", "Target", "Score", "Status", "Support")
	fmt.Fprintln(w, strings.Repeat("-", 112))

	for i, h := range hypotheses {
		mechanism := h.Mechanism
		if len(mechanism) > 40 {
			mechanism = mechanism[:37] + "..."
		}
		target := h.Target
		if len(target) > 20 {
			target = target[:17] + "..."
		}
		drug := h.Drug
		if len(drug) > 16 {
			drug = drug[:13] + "..."
		}
		fmt.Fprintf(w, "%-4d  %-16s  %-40s  %-20s  %-6.2f  %-10s  %d\n",
			i+1, drug, mechanism, target, h.EvidenceScore, h.Validation, len(h.SupportingPassages))
	}
}

func writeRunJSON(w io.Writer, run *types.PipelineRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}

func init() {
	resultsCmd.Flags().String("format", "", "export format: yaml or json")

	rootCmd.AddCommand(resultsCmd)
}
