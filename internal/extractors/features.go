package extractors

import (
	"fmt"
	"math"
	"strings"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// Transform names a derived feature computed from the raw price series before detection.
type Transform string

const (
	// TransformNone analyses the values as given.
	TransformNone Transform = "none"
	// TransformLog analyses log(value); every value must be positive.
	TransformLog Transform = "log"
	// TransformReturns analyses simple returns value[i]/value[i-1] - 1. The first
	// observation has no return and is dropped.
	TransformReturns Transform = "returns"
)

// ParseTransform maps a user supplied name onto a Transform. The empty string means none.
func ParseTransform(name string) (Transform, error) {
	switch t := Transform(strings.ToLower(strings.TrimSpace(name))); t {
	case "", TransformNone:
		return TransformNone, nil
	case TransformLog, TransformReturns:
		return t, nil
	default:
		return "", fmt.Errorf("unknown transform %q (want none, log or returns)", name)
	}
}

// FeatureExtractor derives the analysed series from raw prices.
type FeatureExtractor struct{}

// NewFeatureExtractor creates a feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Apply returns a new series; the input is never modified.
func (e *FeatureExtractor) Apply(series models.TimeSeries, t Transform) (models.TimeSeries, error) {
	obs := series.Observations
	switch t {
	case "", TransformNone:
		return models.TimeSeries{Observations: append([]models.Observation(nil), obs...)}, nil

	case TransformLog:
		out := make([]models.Observation, len(obs))
		for i, o := range obs {
			if o.Value <= 0 {
				return models.TimeSeries{}, fmt.Errorf("log transform needs positive values, observation %d is %g", i, o.Value)
			}
			out[i] = models.Observation{Timestamp: o.Timestamp, Value: math.Log(o.Value)}
		}
		return models.TimeSeries{Observations: out}, nil

	case TransformReturns:
		if len(obs) < 2 {
			return models.TimeSeries{}, fmt.Errorf("returns need at least 2 observations")
		}
		out := make([]models.Observation, 0, len(obs)-1)
		for i := 1; i < len(obs); i++ {
			prev := obs[i-1].Value
			if prev == 0 {
				return models.TimeSeries{}, fmt.Errorf("returns undefined after zero value at observation %d", i-1)
			}
			out = append(out, models.Observation{Timestamp: obs[i].Timestamp, Value: obs[i].Value/prev - 1})
		}
		return models.TimeSeries{Observations: out}, nil

	default:
		return models.TimeSeries{}, fmt.Errorf("unknown transform %q", t)
	}
}
