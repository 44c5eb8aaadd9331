package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// ChainManager runs independent chains concurrently and joins them.
type ChainManager struct {
	logger      *slog.Logger
	maxParallel int
}

// NewChainManager constructs a ChainManager. maxParallel <= 0 means
// min(chains, GOMAXPROCS) at run time.
func NewChainManager(logger *slog.Logger, maxParallel int) *ChainManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainManager{logger: logger, maxParallel: maxParallel}
}

// Run executes cfg.Chains chains against model and returns them in index order.
// It fails with SamplerFailure only when no chain is usable.
func (m *ChainManager) Run(ctx context.Context, model *Model, cfg models.ModelConfig) ([]*Chain, error) {
	proposer := NewProposer(model)
	chains := make([]*Chain, cfg.Chains)
	for i := range chains {
		chains[i] = NewChain(model, proposer, cfg, i)
	}

	workers := m.workers(cfg)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(c *Chain) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				c.fail(PhaseTuning, ctx.Err())
				return
			}
			defer func() { <-sem }()

			m.logger.Debug("chain started", slog.Int("chain", c.Index()))
			if err := c.Run(ctx); err != nil {
				m.logger.Warn("chain failed",
					slog.Int("chain", c.Index()),
					slog.String("phase", c.FailedPhase().String()),
					slog.Int("draws", len(c.Draws())),
					slog.Any("error", err))
				return
			}
			m.logger.Debug("chain finished",
				slog.Int("chain", c.Index()),
				slog.Float64("acceptance_rate", c.AcceptanceRate()))
		}(chain)
	}
	wg.Wait()

	usable := 0
	failures := make([]ChainFailure, 0)
	for _, c := range chains {
		if c.Usable(cfg.AllowPartial) {
			usable++
			continue
		}
		failures = append(failures, ChainFailure{Chain: c.Index(), Phase: c.FailedPhase(), Err: c.Err()})
	}
	if usable == 0 {
		return chains, &SamplerFailure{Failures: failures}
	}
	return chains, nil
}

func (m *ChainManager) workers(cfg models.ModelConfig) int {
	workers := m.maxParallel
	if cfg.MaxParallel > 0 {
		workers = cfg.MaxParallel
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > cfg.Chains {
		workers = cfg.Chains
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
