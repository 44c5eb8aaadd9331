package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// Detector is the entry point for change-point detection runs.
type Detector struct {
	logger  *slog.Logger
	manager *ChainManager
}

// NewDetector constructs a Detector. maxParallel bounds concurrently running chains
// when the run config does not set MaxParallel.
func NewDetector(logger *slog.Logger, maxParallel int) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		logger:  logger,
		manager: NewChainManager(logger, maxParallel),
	}
}

// DetectChangePoints samples the posterior of the change-point model for series.
// Configuration problems are returned as *InvalidConfigError before sampling starts;
// a run where no chain is usable returns *SamplerFailure. Non-convergence is reported
// through Posterior.Warnings only.
func (d *Detector) DetectChangePoints(ctx context.Context, series models.TimeSeries, cfg models.ModelConfig) (*Posterior, error) {
	model, err := NewModel(series, cfg)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("sampling started",
		slog.Int("observations", model.N()),
		slog.Int("change_points", model.K()),
		slog.Int("chains", cfg.Chains),
		slog.Int("draws", cfg.Draws),
		slog.Int("tuning", cfg.TuningIterations))

	chains, err := d.manager.Run(ctx, model, cfg)
	if err != nil {
		return nil, err
	}

	post := newPosterior(model, cfg, chains)
	post.Diagnostics, post.Warnings = Diagnose(post.draws, model.K(), cfg.RHatThreshold)
	for _, w := range post.Warnings {
		d.logger.Warn("non-convergence", slog.String("parameter", w.Parameter), slog.Float64("rhat", w.RHat))
	}
	return post, nil
}

// Run detects change points and summarizes them into a DetectionResult.
func (d *Detector) Run(ctx context.Context, series models.TimeSeries, cfg models.ModelConfig) (models.DetectionResult, error) {
	start := time.Now()
	post, err := d.DetectChangePoints(ctx, series, cfg)
	if err != nil {
		return models.DetectionResult{}, err
	}
	table, err := Summarize(post, series)
	if err != nil {
		return models.DetectionResult{}, fmt.Errorf("summarize posterior: %w", err)
	}

	return models.DetectionResult{
		RunID:           uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Observations:    post.N,
		NumChangePoints: post.K,
		Config:          cfg,
		Table:           table,
		Diagnostics:     post.Diagnostics,
		Chains:          post.ChainReports(),
		Duration:        time.Since(start),
	}, nil
}
