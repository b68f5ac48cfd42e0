// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/repurpose/internal/audit"
	"github.com/pdiddy/repurpose/internal/corpus"
	"github.com/pdiddy/repurpose/internal/generate"
	"github.com/pdiddy/repurpose/internal/pipeline"
	"github.com/pdiddy/repurpose/internal/ratelimit"
	"github.com/pdiddy/repurpose/internal/score"
	"github.com/pdiddy/repurpose/internal/validate"
	"github.com/pdiddy/repurpose/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Execute the hypothesis pipeline for a disease or keyword query",
	Long: `Run drives the full pipeline: retrieve evidence passages for the
query, generate structured hypotheses with the reasoning model, score each
from corpus evidence, and validate every proposed mechanism against
UniProtKB. The ranked, graded candidate list is printed and persisted.

Use --resume with a run ID to continue an interrupted run from its last
recorded stage.`,
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	resumeID, _ := cmd.Flags().GetString("resume")
	query := strings.TrimSpace(strings.Join(args, " "))
	if resumeID == "" && query == "" {
		return fmt.Errorf("query required: provide a disease or keyword query, or --resume with a run ID")
	}

	cfg := pipelineConfig(cmd)

	retriever, err := corpus.Open(cfg.Retrieval)
	if err != nil {
		return fmt.Errorf("opening corpus (run 'repurpose ingest' first?): %w", err)
	}
	defer retriever.Close()

	store, err := pipeline.NewRunStore(cfg.RunsDir)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter := ratelimit.New(cfg.RateLimit)
	defer limiter.Close()

	log := audit.NewWriterLogger(os.Stderr, "pipeline")

	backend := &generate.GeminiBackend{
		APIKey: cfg.Generation.APIKey,
		Model:  cfg.Generation.Model,
		Log:    log.WithComponent("reasoner"),
	}
	generator := generate.New(backend, limiter, log.WithComponent("reasoner"), cfg.Generation)

	kb := &validate.UniProtBackend{
		Limiter: limiter,
		Log:     log.WithComponent("validator"),
		HTTP:    cfg.Validation.HTTPConfig,
	}
	validator := validate.New(kb, log.WithComponent("validator"), cfg.Validation)

	orch := pipeline.New(retriever, generator, score.Score, validator, store, log, cfg)

	// Ctrl-C cancels between stages; records persisted so far are kept.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var run *types.PipelineRun
	if resumeID != "" {
		run, err = orch.Resume(ctx, resumeID)
	} else {
		run, err = orch.Run(ctx, query)
	}
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		return writeRunJSON(os.Stdout, run)
	}

	fmt.Printf("\nRun %s (%s) — %d candidate(s)\n\n", run.ID, run.Stage, len(run.Hypotheses))
	formatHypothesesTable(os.Stdout, run.Hypotheses)
	return nil
}

// pipelineConfig builds the full pipeline configuration: flag values win,
// then config-file values, then defaults.
func pipelineConfig(cmd *cobra.Command) types.PipelineConfig {
	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = viper.GetString("generation.model")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if threshold == 0 {
		threshold = viper.GetFloat64("validation.confirm_threshold")
	}
	workers, _ := cmd.Flags().GetInt("workers")
	runsDir, _ := cmd.Flags().GetString("runs-dir")
	if runsDir == "" {
		runsDir = "runs"
	}

	return types.PipelineConfig{
		Retrieval: retrievalConfig(cmd),
		Generation: types.GenerationConfig{
			AIConfig: types.AIConfig{
				Model:  model,
				APIKey: secretDefault("gemini-api-key", viper.GetString("generation.api_key")),
			},
		},
		Validation: types.ValidationConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   30 * time.Second,
				UserAgent: "repurpose/" + version + " (" + secretDefault("uniprot-contact-email", "") + ")",
			},
			ConfirmThreshold: threshold,
			Workers:          workers,
		},
		RateLimit: types.RateLimitConfig{
			Capacity:       viper.GetInt("rate_limit.capacity"),
			RefillInterval: viper.GetDuration("rate_limit.refill_interval"),
			AcquireTimeout: viper.GetDuration("rate_limit.acquire_timeout"),
		},
		RunsDir: runsDir,
	}
}

func init() {
	runCmd.Flags().Int("k", 10, "maximum passages to retrieve")
	runCmd.Flags().Float64("floor", 0.1, "minimum retrieval similarity")
	runCmd.Flags().String("model", "", "reasoning model identifier")
	runCmd.Flags().Float64("threshold", 0, "confidence threshold for a confirmed classification (0 = default)")
	runCmd.Flags().Int("workers", 0, "concurrent validation workers (0 = default)")
	runCmd.Flags().String("resume", "", "resume a persisted run by ID")
	runCmd.Flags().Bool("json", false, "output the run as JSON")

	rootCmd.AddCommand(runCmd)
}
