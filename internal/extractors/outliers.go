package extractors

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// madScale turns a median absolute deviation into a Gaussian sd estimate.
const madScale = 1.4826

// Outlier is an isolated spike relative to its neighbourhood.
type Outlier struct {
	Index     int
	Timestamp time.Time
	Value     float64
	Score     float64
}

// OutlierDetector flags spikes using residuals from a rolling median. Level shifts move
// the rolling median with them, so change points are not reported as outliers.
type OutlierDetector struct {
	Window    int
	Threshold float64
}

// NewOutlierDetector returns a detector with the given robust z-score threshold.
func NewOutlierDetector(threshold float64) *OutlierDetector {
	if threshold <= 0 {
		threshold = 5
	}
	return &OutlierDetector{Window: 7, Threshold: threshold}
}

// Detect returns the observations whose robust score reaches the threshold.
func (d *OutlierDetector) Detect(series models.TimeSeries) []Outlier {
	values := series.Values()
	if len(values) < 3 {
		return nil
	}
	half := d.Window / 2
	if half < 1 {
		half = 1
	}

	residuals := make([]float64, len(values))
	for i := range values {
		lo, hi := i-half, i+half+1
		if lo < 0 {
			lo = 0
		}
		if hi > len(values) {
			hi = len(values)
		}
		residuals[i] = values[i] - median(values[lo:hi])
	}

	center := median(residuals)
	deviations := make([]float64, len(residuals))
	for i, r := range residuals {
		deviations[i] = math.Abs(r - center)
	}
	spread := madScale * median(deviations)
	if spread == 0 {
		return nil
	}

	var outliers []Outlier
	for i, r := range residuals {
		score := math.Abs(r-center) / spread
		if score >= d.Threshold {
			outliers = append(outliers, Outlier{
				Index:     i,
				Timestamp: series.Observations[i].Timestamp,
				Value:     values[i],
				Score:     score,
			})
		}
	}
	return outliers
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}
