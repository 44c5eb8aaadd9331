package engine

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

func TestAssignIsMonotoneWithContiguousRegimes(t *testing.T) {
	const n, k = 40, 4
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 200; trial++ {
		positions := make([]float64, k)
		for i := range positions {
			positions[i] = rng.Float64() * n
		}

		regimes := Assign(positions, n)
		require.Len(t, regimes, n)
		for i := 1; i < n; i++ {
			require.GreaterOrEqual(t, regimes[i], regimes[i-1], "assignment must be non-decreasing")
		}
		for _, r := range regimes {
			require.True(t, r >= 0 && r <= k, "regime %d out of range", r)
		}

		// Boundaries describe exactly the same K+1 ranges.
		bounds := Boundaries(positions, n)
		require.Len(t, bounds, k)
		lo := 0
		for r := 0; r <= k; r++ {
			hi := n
			if r < k {
				hi = bounds[r]
			}
			require.GreaterOrEqual(t, hi, lo)
			for i := lo; i < hi; i++ {
				require.Equal(t, r, regimes[i])
			}
			lo = hi
		}
	}
}

func TestAssignCollapsedChangePointsKeepsEmptyRegime(t *testing.T) {
	positions := []float64{5.5, 5.5}
	regimes := Assign(positions, 10)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 2, 2, 2, 2}, regimes)
	assert.Equal(t, []int{6, 6}, Boundaries(positions, 10))

	series := seriesFromValues([]float64{1, 1, 1, 1, 1, 1, 3, 3, 3, 3})
	cfg := testConfig(2)
	model, err := NewModel(series, cfg)
	require.NoError(t, err)

	lp := model.LogDensity(ParameterState{Positions: positions, Means: []float64{1, 99, 3}, SD: 0.5})
	assert.False(t, math.IsInf(lp, 0), "empty regime must be legal")

	// The mean of an empty regime only enters through its prior.
	lpOther := model.LogDensity(ParameterState{Positions: positions, Means: []float64{1, 0, 3}, SD: 0.5})
	prior := distuv.Normal{Mu: 0, Sigma: cfg.Priors.MeanScale}
	assert.InDelta(t, prior.LogProb(0)-prior.LogProb(99), lpOther-lp, 1e-9)
}

func TestLogDensityMatchesDirectEvaluation(t *testing.T) {
	series := stepSeries(30, 12, 2, 6, 0.7, 3)
	cfg := testConfig(2)
	cfg.Priors.MeanCenter = 1
	model, err := NewModel(series, cfg)
	require.NoError(t, err)

	state := ParameterState{Positions: []float64{20.3, 11.7}, Means: []float64{2.1, 5.8, 6.2}, SD: 0.9}

	values := series.Values()
	regimes := Assign(state.Positions, len(values))
	want := 2 * -math.Log(float64(len(values)))
	meanPrior := distuv.Normal{Mu: cfg.Priors.MeanCenter, Sigma: cfg.Priors.MeanScale}
	for _, mu := range state.Means {
		want += meanPrior.LogProb(mu)
	}
	want += math.Ln2 + distuv.Normal{Mu: 0, Sigma: cfg.Priors.SDScale}.LogProb(state.SD)
	for i, v := range values {
		want += distuv.Normal{Mu: state.Means[regimes[i]], Sigma: state.SD}.LogProb(v)
	}

	assert.InDelta(t, want, model.LogDensity(state), 1e-8)
	assert.Equal(t, model.LogDensity(state), model.LogDensity(state.Clone()))
}

func TestLogDensityOutsideSupport(t *testing.T) {
	model, err := NewModel(stepSeries(20, 10, 0, 1, 0.1, 1), testConfig(1))
	require.NoError(t, err)

	cases := map[string]ParameterState{
		"negative position": {Positions: []float64{-0.1}, Means: []float64{0, 1}, SD: 1},
		"position at n":     {Positions: []float64{20}, Means: []float64{0, 1}, SD: 1},
		"zero sd":           {Positions: []float64{10}, Means: []float64{0, 1}, SD: 0},
		"negative sd":       {Positions: []float64{10}, Means: []float64{0, 1}, SD: -1},
		"wrong mean count":  {Positions: []float64{10}, Means: []float64{0}, SD: 1},
		"nan mean":          {Positions: []float64{10}, Means: []float64{math.NaN(), 1}, SD: 1},
	}
	for name, state := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, math.IsInf(model.LogDensity(state), -1))
		})
	}
}

func TestSDFloorScalesWithData(t *testing.T) {
	cfg := testConfig(1)

	zeros, err := NewModel(seriesFromValues(make([]float64, 10)), cfg)
	require.NoError(t, err)
	assert.InDelta(t, sdFloorRatio, zeros.SDFloor(), 1e-18)

	level := make([]float64, 10)
	for i := range level {
		level[i] = -50
	}
	flat, err := NewModel(seriesFromValues(level), cfg)
	require.NoError(t, err)
	assert.InDelta(t, 50*sdFloorRatio, flat.SDFloor(), 1e-15)

	noisy, err := NewModel(seriesFromValues([]float64{1, 3, 1, 3}), cfg)
	require.NoError(t, err)
	assert.InDelta(t, sdFloorRatio, noisy.SDFloor(), 1e-15)
}

func TestNewModelRejectsInvalidConfig(t *testing.T) {
	series := stepSeries(10, 5, 0, 1, 0.1, 1)

	tests := []struct {
		name   string
		field  string
		mutate func(*models.ModelConfig)
	}{
		{name: "too many change points", field: "NumChangePoints", mutate: func(c *models.ModelConfig) { c.NumChangePoints = 9 }},
		{name: "negative change points", field: "NumChangePoints", mutate: func(c *models.ModelConfig) { c.NumChangePoints = -1 }},
		{name: "non-positive mean scale", field: "Priors.MeanScale", mutate: func(c *models.ModelConfig) { c.Priors.MeanScale = 0 }},
		{name: "negative sd scale", field: "Priors.SDScale", mutate: func(c *models.ModelConfig) { c.Priors.SDScale = -1 }},
		{name: "zero target accept", field: "TargetAccept", mutate: func(c *models.ModelConfig) { c.TargetAccept = 0 }},
		{name: "target accept of one", field: "TargetAccept", mutate: func(c *models.ModelConfig) { c.TargetAccept = 1 }},
		{name: "no chains", field: "Chains", mutate: func(c *models.ModelConfig) { c.Chains = 0 }},
		{name: "no draws", field: "Draws", mutate: func(c *models.ModelConfig) { c.Draws = 0 }},
		{name: "negative tuning", field: "TuningIterations", mutate: func(c *models.ModelConfig) { c.TuningIterations = -5 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(1)
			tc.mutate(&cfg)

			_, err := NewModel(series, cfg)
			var invalid *InvalidConfigError
			require.True(t, errors.As(err, &invalid), "expected InvalidConfigError, got %v", err)
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestNewModelRejectsUnorderedSeries(t *testing.T) {
	series := stepSeries(10, 5, 0, 1, 0.1, 1)
	series.Observations[3].Timestamp = series.Observations[2].Timestamp

	_, err := NewModel(series, testConfig(1))
	var invalid *InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "series", invalid.Field)
}
