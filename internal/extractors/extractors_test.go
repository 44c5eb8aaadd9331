package extractors

import (
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

func dailySeries(values ...float64) models.TimeSeries {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]models.Observation, len(values))
	for i, v := range values {
		obs[i] = models.Observation{Timestamp: start.AddDate(0, 0, i), Value: v}
	}
	return models.TimeSeries{Observations: obs}
}

func TestFeatureExtractorLog(t *testing.T) {
	series := dailySeries(1, math.E, 10)
	out, err := NewFeatureExtractor().Apply(series, TransformLog)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 3 || math.Abs(out.Observations[1].Value-1) > 1e-12 {
		t.Fatalf("unexpected log series: %+v", out.Values())
	}
	if series.Observations[1].Value != math.E {
		t.Fatalf("input series must not be modified")
	}

	if _, err := NewFeatureExtractor().Apply(dailySeries(1, 0, 2), TransformLog); err == nil {
		t.Fatalf("expected error for non-positive value")
	}
}

func TestFeatureExtractorReturns(t *testing.T) {
	series := dailySeries(100, 110, 99)
	out, err := NewFeatureExtractor().Apply(series, TransformReturns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("expected first observation to be dropped, got %d", out.Len())
	}
	if !out.Observations[0].Timestamp.Equal(series.Observations[1].Timestamp) {
		t.Fatalf("returns must keep the later timestamp")
	}
	if math.Abs(out.Observations[0].Value-0.1) > 1e-12 || math.Abs(out.Observations[1].Value+0.1) > 1e-12 {
		t.Fatalf("unexpected returns: %v", out.Values())
	}

	if _, err := NewFeatureExtractor().Apply(dailySeries(0, 1, 2), TransformReturns); err == nil {
		t.Fatalf("expected error after zero value")
	}
}

func TestParseTransform(t *testing.T) {
	for input, want := range map[string]Transform{"": TransformNone, "none": TransformNone, " LOG ": TransformLog, "returns": TransformReturns} {
		got, err := ParseTransform(input)
		if err != nil || got != want {
			t.Fatalf("ParseTransform(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseTransform("diff"); err == nil {
		t.Fatalf("expected error for unknown transform")
	}
}

func TestOutlierDetectorFlagsSpikesNotLevelShifts(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		level := 10.0
		if i >= 40 {
			level = 20
		}
		values[i] = level + 0.1*float64((i*7)%5-2)
	}
	values[20] = 30

	outliers := NewOutlierDetector(5).Detect(dailySeries(values...))
	if len(outliers) != 1 {
		t.Fatalf("expected exactly one outlier, got %+v", outliers)
	}
	if outliers[0].Index != 20 || outliers[0].Value != 30 {
		t.Fatalf("unexpected outlier %+v", outliers[0])
	}
}

func TestOutlierDetectorConstantSeries(t *testing.T) {
	if got := NewOutlierDetector(0).Detect(dailySeries(4, 4, 4, 4, 4)); len(got) != 0 {
		t.Fatalf("constant series has no outliers, got %+v", got)
	}
}
