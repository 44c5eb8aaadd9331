package models

import (
	"fmt"
	"math"
	"time"
)

// Observation is a single timestamped sample of the analysed series.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// TimeSeries is an ordered, already-cleaned univariate series.
type TimeSeries struct {
	Observations []Observation `json:"observations"`
}

// NewTimeSeries builds a series from parallel timestamp/value slices.
func NewTimeSeries(timestamps []time.Time, values []float64) (TimeSeries, error) {
	if len(timestamps) != len(values) {
		return TimeSeries{}, fmt.Errorf("timestamps (%d) and values (%d) differ in length", len(timestamps), len(values))
	}
	obs := make([]Observation, len(values))
	for i := range values {
		obs[i] = Observation{Timestamp: timestamps[i], Value: values[i]}
	}
	return TimeSeries{Observations: obs}, nil
}

// Len returns the number of observations.
func (s TimeSeries) Len() int {
	return len(s.Observations)
}

// Values copies the observed values in order.
func (s TimeSeries) Values() []float64 {
	values := make([]float64, len(s.Observations))
	for i, obs := range s.Observations {
		values[i] = obs.Value
	}
	return values
}

// TimestampAt returns the timestamp of index i clamped into the series range.
func (s TimeSeries) TimestampAt(i int) time.Time {
	if len(s.Observations) == 0 {
		return time.Time{}
	}
	if i < 0 {
		i = 0
	}
	if i >= len(s.Observations) {
		i = len(s.Observations) - 1
	}
	return s.Observations[i].Timestamp
}

// Validate checks ordering and finiteness. At least two observations are required.
func (s TimeSeries) Validate() error {
	if len(s.Observations) < 2 {
		return fmt.Errorf("series needs at least 2 observations, got %d", len(s.Observations))
	}
	for i, obs := range s.Observations {
		if math.IsNaN(obs.Value) || math.IsInf(obs.Value, 0) {
			return fmt.Errorf("observation %d has non-finite value", i)
		}
		if i > 0 && !obs.Timestamp.After(s.Observations[i-1].Timestamp) {
			return fmt.Errorf("timestamps must be strictly increasing (index %d)", i)
		}
	}
	return nil
}
