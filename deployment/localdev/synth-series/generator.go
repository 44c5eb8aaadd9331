package main

import (
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

var seriesStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// shape describes a piecewise-constant series with Gaussian noise. Levels has one more
// entry than Breaks.
type shape struct {
	N      int
	Breaks []int
	Levels []float64
	Noise  float64
	Seed   uint64
}

func defaultShape() shape {
	return shape{N: 200, Breaks: []int{80, 140}, Levels: []float64{20, 60, 35}, Noise: 2, Seed: 1}
}

// parseShape overlays query parameters (n, breaks, levels, noise, seed) onto the default.
func parseShape(q url.Values) (shape, error) {
	s := defaultShape()
	var err error
	if v := q.Get("n"); v != "" {
		if s.N, err = strconv.Atoi(v); err != nil {
			return shape{}, fmt.Errorf("n: %w", err)
		}
	}
	if v := q.Get("breaks"); v != "" {
		s.Breaks = nil
		for _, part := range strings.Split(v, ",") {
			b, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return shape{}, fmt.Errorf("breaks: %w", err)
			}
			s.Breaks = append(s.Breaks, b)
		}
	}
	if v := q.Get("levels"); v != "" {
		s.Levels = nil
		for _, part := range strings.Split(v, ",") {
			l, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return shape{}, fmt.Errorf("levels: %w", err)
			}
			s.Levels = append(s.Levels, l)
		}
	}
	if v := q.Get("noise"); v != "" {
		if s.Noise, err = strconv.ParseFloat(v, 64); err != nil {
			return shape{}, fmt.Errorf("noise: %w", err)
		}
	}
	if v := q.Get("seed"); v != "" {
		if s.Seed, err = strconv.ParseUint(v, 10, 64); err != nil {
			return shape{}, fmt.Errorf("seed: %w", err)
		}
	}
	return s, s.validate()
}

func (s shape) validate() error {
	if s.N < 2 {
		return fmt.Errorf("n must be at least 2")
	}
	if len(s.Levels) != len(s.Breaks)+1 {
		return fmt.Errorf("need %d levels for %d breaks, got %d", len(s.Breaks)+1, len(s.Breaks), len(s.Levels))
	}
	prev := 0
	for _, b := range s.Breaks {
		if b <= prev || b >= s.N {
			return fmt.Errorf("breaks must be increasing within (0, %d)", s.N)
		}
		prev = b
	}
	if s.Noise < 0 {
		return fmt.Errorf("noise must be non-negative")
	}
	return nil
}

// generate returns one observation per day starting at seriesStart.
func (s shape) generate() models.TimeSeries {
	rng := rand.New(rand.NewPCG(s.Seed, uint64(s.N)))
	obs := make([]models.Observation, s.N)
	regime := 0
	for i := range obs {
		for regime < len(s.Breaks) && i >= s.Breaks[regime] {
			regime++
		}
		obs[i] = models.Observation{
			Timestamp: seriesStart.AddDate(0, 0, i),
			Value:     s.Levels[regime] + s.Noise*rng.NormFloat64(),
		}
	}
	return models.TimeSeries{Observations: obs}
}
