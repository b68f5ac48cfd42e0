// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the repurpose CLI, the
// drug-repurposing hypothesis pipeline over a local literature corpus.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/repurpose/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// secretDefault returns fallback if non-empty, else the stored secret for key.
func secretDefault(key, fallback string) string {
	if fallback != "" {
		return fallback
	}
	if v, ok := loadedSecrets[key]; ok {
		return v
	}
	return ""
}

// rootCmd is the base command for the repurpose CLI.
var rootCmd = &cobra.Command{
	Use:   "repurpose",
	Short: "Mine a literature corpus for graded drug-repurposing hypotheses",
	Long: `repurpose retrieves evidence passages from a local literature corpus,
drives a constrained reasoning model to propose drug-mechanism-target
hypotheses, scores each one from corpus evidence, and cross-checks every
proposed mechanism against UniProtKB. Candidates are never dropped:
unverifiable ones are flagged for review instead.

Ingest abstracts with 'ingest', execute a pipeline run with 'run', and
inspect stored runs with 'results'. Every stage transition is persisted,
so an interrupted run resumes with 'run --resume'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", secrets.Keys(s))
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./repurpose.yaml or ~/.config/repurpose/config.yaml)")
	rootCmd.PersistentFlags().String("corpus-dir", "corpus", "base directory for the corpus (contains abstracts/, index/)")
	rootCmd.PersistentFlags().String("runs-dir", "runs", "directory for the pipeline run database")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("repurpose")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "repurpose"))
		}
	}

	viper.SetEnvPrefix("REPURPOSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
