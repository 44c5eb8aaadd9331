package engine

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countdownCtx reports cancellation once Err has been called more than limit times.
type countdownCtx struct {
	context.Context
	limit int64
	calls atomic.Int64
}

func (c *countdownCtx) Err() error {
	if c.calls.Add(1) > c.limit {
		return context.Canceled
	}
	return nil
}

func newTestChain(t *testing.T, k, tuning, draws int, seed int64, index int) *Chain {
	t.Helper()
	cfg := testConfig(k)
	cfg.TuningIterations = tuning
	cfg.Draws = draws
	cfg.Seed = seed
	model, err := NewModel(stepSeries(60, 30, 0, 4, 0.5, 11), cfg)
	require.NoError(t, err)
	return NewChain(model, NewProposer(model), cfg, index)
}

func TestChainRunCompletes(t *testing.T) {
	c := newTestChain(t, 1, 200, 150, 3, 0)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, PhaseDone, c.Phase())
	assert.Len(t, c.Draws(), 150)
	assert.Len(t, c.LogDensities(), 150)
	assert.True(t, c.Usable(false))

	rate := c.AcceptanceRate()
	assert.True(t, rate > 0 && rate <= 1, "acceptance rate %v", rate)
	for _, s := range c.StepScales() {
		assert.True(t, s > 0 && !math.IsInf(s, 0), "step scale %v", s)
	}
	for i, d := range c.Draws() {
		require.Len(t, d.Positions, 1)
		require.Len(t, d.Means, 2)
		require.Greater(t, d.SD, 0.0)
		require.False(t, math.IsInf(c.LogDensities()[i], 0))
	}
}

func TestChainIsDeterministicForSeedAndIndex(t *testing.T) {
	a := newTestChain(t, 2, 100, 100, 42, 1)
	b := newTestChain(t, 2, 100, 100, 42, 1)
	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, b.Run(context.Background()))
	assert.Equal(t, a.Draws(), b.Draws())
	assert.Equal(t, a.LogDensities(), b.LogDensities())

	other := newTestChain(t, 2, 100, 100, 42, 2)
	require.NoError(t, other.Run(context.Background()))
	assert.NotEqual(t, a.Draws(), other.Draws(), "chain index must select an independent stream")
}

func TestChainWithoutTuningStillSamples(t *testing.T) {
	c := newTestChain(t, 1, 0, 50, 5, 0)
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, PhaseDone, c.Phase())
	assert.Len(t, c.Draws(), 50)
	for _, d := range c.Draws() {
		assert.True(t, d.Positions[0] >= 0 && d.Positions[0] < 60)
	}
}

func TestChainCancelledDuringTuning(t *testing.T) {
	c := newTestChain(t, 1, 100, 100, 1, 0)
	ctx := &countdownCtx{Context: context.Background(), limit: 10}

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Equal(t, PhaseTuning, c.FailedPhase())
	assert.Empty(t, c.Draws())
	assert.False(t, c.Usable(true))
}

func TestChainCancelledDuringSamplingKeepsPartialDraws(t *testing.T) {
	c := newTestChain(t, 1, 10, 100, 1, 0)
	// 10 checks during tuning, then 4 successful sampling steps.
	ctx := &countdownCtx{Context: context.Background(), limit: 14}

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.Equal(t, PhaseSampling, c.FailedPhase())
	assert.Len(t, c.Draws(), 4)
	assert.False(t, c.Usable(false))
	assert.True(t, c.Usable(true))
}

func TestChainFailsOnNumericInstability(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = 1e200
		if i%2 == 1 {
			values[i] = -1e200
		}
	}
	cfg := testConfig(1)
	model, err := NewModel(seriesFromValues(values), cfg)
	require.NoError(t, err)

	c := NewChain(model, NewProposer(model), cfg, 0)
	err = c.Run(context.Background())

	var unstable *NumericInstabilityError
	require.True(t, errors.As(err, &unstable), "got %v", err)
	assert.Equal(t, PhaseTuning, unstable.Phase)
	assert.Equal(t, PhaseFailed, c.Phase())
	assert.False(t, c.Usable(true))
}

func TestChainFailsWhenSDCollapses(t *testing.T) {
	cfg := testConfig(1)
	model, err := NewModel(seriesFromValues(make([]float64, 60)), cfg)
	require.NoError(t, err)

	c := NewChain(model, NewProposer(model), cfg, 0)
	err = c.Run(context.Background())

	var unstable *NumericInstabilityError
	require.True(t, errors.As(err, &unstable), "got %v", err)
	assert.Contains(t, unstable.Reason, "collapsed")
	assert.Equal(t, PhaseFailed, c.Phase())
	for _, d := range c.Draws() {
		assert.GreaterOrEqual(t, d.SD, model.SDFloor())
	}
}

func TestCheckCollapseUsesModelFloor(t *testing.T) {
	c := newTestChain(t, 1, 0, 1, 1, 0)
	require.NoError(t, c.initialize())
	require.NoError(t, c.checkCollapse(PhaseTuning))

	c.current.SD = c.model.SDFloor() / 2
	var unstable *NumericInstabilityError
	require.True(t, errors.As(c.checkCollapse(PhaseSampling), &unstable))
	assert.Equal(t, PhaseSampling, unstable.Phase)
}

func TestAdaptMovesScaleTowardTarget(t *testing.T) {
	c := newTestChain(t, 1, 0, 1, 1, 0)
	c.scales = [3]float64{1, 1, 1}
	c.windowProposed = [3]int{10, 10, 0}
	c.windowAccepted = [3]int{10, 0, 0}

	c.adapt()

	assert.Greater(t, c.scales[BlockChangePoints], 1.0, "high acceptance widens the step")
	assert.Less(t, c.scales[BlockMeans], 1.0, "low acceptance narrows the step")
	assert.Equal(t, 1.0, c.scales[BlockSD], "blocks without proposals keep their scale")
	assert.Equal(t, [3]int{}, c.windowProposed)
}

func TestReflectIntoStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	const upper = 25.0
	for i := 0; i < 10000; i++ {
		x := (rng.Float64() - 0.5) * 1e4
		y := reflectInto(x, upper)
		require.True(t, y >= 0 && y < upper, "reflectInto(%v) = %v", x, y)
	}
	assert.Equal(t, 3.0, reflectInto(-3, upper))
	assert.Equal(t, 20.0, reflectInto(30, upper))
	assert.Equal(t, 7.5, reflectInto(7.5, upper))
}

func TestProposeTouchesOnlyItsBlock(t *testing.T) {
	model, err := NewModel(stepSeries(40, 20, 0, 2, 0.3, 4), testConfig(2))
	require.NoError(t, err)
	p := NewProposer(model)
	rng := rand.New(rand.NewPCG(1, 1))
	cur := ParameterState{Positions: []float64{10, 30}, Means: []float64{0, 1, 2}, SD: 0.5}

	next, h := p.Propose(rng, cur, BlockMeans, 1)
	assert.Equal(t, cur.Positions, next.Positions)
	assert.Equal(t, cur.SD, next.SD)
	assert.NotEqual(t, cur.Means, next.Means)
	assert.Zero(t, h)

	next, h = p.Propose(rng, cur, BlockSD, 1)
	assert.Equal(t, cur.Means, next.Means)
	assert.Greater(t, next.SD, 0.0)
	assert.InDelta(t, math.Log(next.SD)-math.Log(cur.SD), h, 1e-12)

	next, _ = p.Propose(rng, cur, BlockChangePoints, 1e6)
	for _, pos := range next.Positions {
		assert.True(t, pos >= 0 && pos < 40)
	}
	assert.Equal(t, []float64{10, 30}, cur.Positions, "current state must not be mutated")
}
