package engine

import (
	"math/rand/v2"
	"time"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

var seriesStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func seriesFromValues(values []float64) models.TimeSeries {
	obs := make([]models.Observation, len(values))
	for i, v := range values {
		obs[i] = models.Observation{Timestamp: seriesStart.AddDate(0, 0, i), Value: v}
	}
	return models.TimeSeries{Observations: obs}
}

// stepSeries returns n points at low before breakAt and high from breakAt on, plus Gaussian noise.
func stepSeries(n, breakAt int, low, high, noise float64, seed uint64) models.TimeSeries {
	rng := rand.New(rand.NewPCG(seed, 0))
	values := make([]float64, n)
	for i := range values {
		level := low
		if i >= breakAt {
			level = high
		}
		values[i] = level + noise*rng.NormFloat64()
	}
	return seriesFromValues(values)
}

func testConfig(k int) models.ModelConfig {
	cfg := models.DefaultModelConfig()
	cfg.NumChangePoints = k
	cfg.Seed = 7
	return cfg
}
