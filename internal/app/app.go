// Package app assembles the scoring pipeline from configuration. It is
// shared by the HTTP server and the queue worker.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"talky/internal/acoustic"
	"talky/internal/config"
	"talky/internal/feedback"
	"talky/internal/g2p"
	"talky/internal/observe"
	"talky/internal/phoneme"
	"talky/internal/pipeline"
	"talky/internal/scoring"
	"talky/pkg/cache"
	"talky/pkg/logger"
	"talky/pkg/resilience"

	"go.uber.org/zap"
)

// Thresholds returns the configured pass thresholds.
func Thresholds(cfg *config.Config) scoring.Thresholds {
	return scoring.Thresholds{
		Coarse:  cfg.Scoring.CoarseThreshold,
		Phoneme: cfg.Scoring.PhonemeThreshold,
	}
}

// AcousticPool returns a pool that dials the inference sidecar on first use.
func AcousticPool(cfg *config.Config) *acoustic.Pool {
	breaker := resilience.NewNamedCircuitBreaker("acoustic", cfg.Acoustic.BreakerFailures, cfg.Acoustic.BreakerTimeout)
	opts := []acoustic.ClientOption{
		acoustic.WithHTTPClient(&http.Client{Timeout: cfg.Acoustic.Timeout}),
		acoustic.WithCircuitBreaker(breaker),
	}
	if cfg.Acoustic.APIKey != "" {
		opts = append(opts, acoustic.WithAPIKey(cfg.Acoustic.APIKey))
	}
	url := cfg.Acoustic.URL

	return acoustic.NewPool(func(ctx context.Context) (acoustic.Model, error) {
		return acoustic.Dial(ctx, url, opts...)
	})
}

// LLM builds the chat-model client used for feedback and practice material.
// It returns nil when no API key is configured.
func LLM(cfg *config.Config) (*feedback.LLM, error) {
	if cfg.Feedback.APIKey == "" {
		return nil, nil
	}

	opts := []feedback.Option{feedback.WithTimeout(cfg.Feedback.Timeout)}
	if cfg.Feedback.BaseURL != "" {
		opts = append(opts, feedback.WithBaseURL(cfg.Feedback.BaseURL))
	}
	if cfg.Feedback.RateLimit > 0 {
		opts = append(opts, feedback.WithRateLimiter(
			resilience.NewRateLimiter(cfg.Feedback.RateLimit, time.Minute/time.Duration(cfg.Feedback.RateLimit)),
		))
	}

	llm, err := feedback.NewLLM(cfg.Feedback.APIKey, cfg.Feedback.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model client: %w", err)
	}
	return llm, nil
}

// Trigger builds the feedback trigger. Without an API key failing results
// carry the fallback message only.
func Trigger(cfg *config.Config) (*scoring.Trigger, error) {
	t := &scoring.Trigger{}
	llm, err := LLM(cfg)
	if err != nil {
		return nil, err
	}
	if llm == nil {
		logger.Warn("Feedback API key not set, LLM feedback disabled")
		return t, nil
	}
	t.Generator = llm
	return t, nil
}

// NewScorer loads the pronunciation dictionary and wires the pipeline. The
// acoustic model is not contacted until the first request.
func NewScorer(cfg *config.Config, c cache.Cache, pool *acoustic.Pool, metrics *observe.Metrics) (*pipeline.Scorer, error) {
	dict, err := g2p.LoadFile(cfg.G2P.Dictionary)
	if err != nil {
		return nil, fmt.Errorf("failed to load pronunciation dictionary: %w", err)
	}
	logger.Info("Pronunciation dictionary loaded",
		zap.String("path", cfg.G2P.Dictionary),
		zap.Int("words", dict.Len()))

	var converter g2p.Converter = dict
	if c != nil {
		converter = g2p.NewCached(dict, c, cfg.G2P.CacheTTL)
	}

	trigger, err := Trigger(cfg)
	if err != nil {
		return nil, err
	}

	return &pipeline.Scorer{
		Models:            pool,
		G2P:               converter,
		Map:               phoneme.ARPAbetToIPA(),
		Trigger:           trigger,
		Metrics:           metrics,
		WordHintThreshold: cfg.Scoring.WordHintThreshold,
	}, nil
}
