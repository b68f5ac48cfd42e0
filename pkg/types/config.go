// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "repurpose/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Model is the AI model identifier (e.g. "gemini-2.5-flash").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of attempts for malformed responses (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// RetrievalConfig holds settings for the retrieval stage.
type RetrievalConfig struct {
	// CorpusDir is the base directory for the corpus (contains abstracts/, index/).
	CorpusDir string `json:"corpus_dir" yaml:"corpus_dir"`

	// MaxPassages is the maximum number of passages per query (default 10).
	MaxPassages int `json:"max_passages" yaml:"max_passages"`

	// SimilarityFloor excludes passages scoring below it (default 0.1).
	SimilarityFloor float64 `json:"similarity_floor" yaml:"similarity_floor"`
}

// GenerationConfig holds settings for the hypothesis generation stage.
type GenerationConfig struct {
	AIConfig `yaml:",inline"`
}

// ValidationConfig holds settings for the grounding validation stage.
type ValidationConfig struct {
	HTTPConfig `yaml:",inline"`

	// ConfirmThreshold is the minimum match confidence for a confirmed
	// classification (default 0.75).
	ConfirmThreshold float64 `json:"confirm_threshold" yaml:"confirm_threshold"`

	// Workers bounds concurrent validation lookups (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries is the number of lookup attempts before classifying a
	// hypothesis as error (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// RateLimitConfig holds token-bucket settings applied per external service.
type RateLimitConfig struct {
	// Capacity is the bucket size, the maximum burst (default 5).
	Capacity int `json:"capacity" yaml:"capacity"`

	// RefillInterval is the time between token refills (default 1s).
	RefillInterval time.Duration `json:"refill_interval" yaml:"refill_interval"`

	// AcquireTimeout bounds how long a caller waits for a token (default 30s).
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Retrieval  RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	RateLimit  RateLimitConfig  `json:"rate_limit" yaml:"rate_limit"`

	// RunsDir is the directory holding the pipeline run database (default "runs").
	RunsDir string `json:"runs_dir" yaml:"runs_dir"`
}
