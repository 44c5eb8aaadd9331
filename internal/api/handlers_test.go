package api

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

func mustStruct(t *testing.T, v map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(v)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestFromProtoDetectRequestKeepsDefaults(t *testing.T) {
	defaults := models.DefaultModelConfig()
	defaults.Draws = 321

	req := mustStruct(t, map[string]any{
		"series": []any{
			map[string]any{"timestamp": "2021-01-01T00:00:00Z", "value": 1.5},
			map[string]any{"timestamp": "2021-01-02T00:00:00Z", "value": 2.5},
		},
		"config": map[string]any{
			"numChangePoints": 1,
			"seed":            7,
			"priors":          map[string]any{"meanScale": 4},
		},
		"persist": true,
	})

	got, err := FromProtoDetectRequest(req, defaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Series) != 2 || got.Series[1].Value != 2.5 {
		t.Fatalf("series not decoded: %+v", got.Series)
	}
	if !got.Series[0].Timestamp.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", got.Series[0].Timestamp)
	}
	if got.Config.NumChangePoints != 1 || got.Config.Seed != 7 {
		t.Fatalf("config not decoded: %+v", got.Config)
	}
	if got.Config.Draws != 321 {
		t.Fatalf("absent fields must keep defaults, got draws=%d", got.Config.Draws)
	}
	if got.Config.Priors.MeanScale != 4 || got.Config.Priors.SDScale != 1 {
		t.Fatalf("partial priors must merge onto defaults: %+v", got.Config.Priors)
	}
	if !got.Persist {
		t.Fatalf("persist flag lost")
	}
}

func TestFromProtoDetectRequestRejectsBadInput(t *testing.T) {
	defaults := models.DefaultModelConfig()
	cases := map[string]*structpb.Struct{
		"nil":           nil,
		"empty series":  mustStruct(t, map[string]any{"series": []any{}}),
		"unknown field": mustStruct(t, map[string]any{"series": []any{map[string]any{"timestamp": "2021-01-01T00:00:00Z", "value": 1}}, "bogus": 1}),
		"bad timestamp": mustStruct(t, map[string]any{"series": []any{map[string]any{"timestamp": "yesterday", "value": 1}}}),
	}
	for name, req := range cases {
		if _, err := FromProtoDetectRequest(req, defaults); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDetectionResultRoundTrip(t *testing.T) {
	day := time.Date(2022, 5, 1, 0, 0, 0, 0, time.UTC)
	res := models.DetectionResult{
		RunID:           "run-42",
		CreatedAt:       day,
		Observations:    3,
		NumChangePoints: 1,
		Config:          models.DefaultModelConfig(),
		Table: models.RegimeTable{
			Records:      []models.RegimeRecord{{Regime: 0, StartDate: day, EndDate: day, Observations: 3, MeanPrice: 12.5}},
			ChangePoints: []models.ChangePointEstimate{{Ordinal: 0, Position: 1.4, Index: 2, Date: day}},
		},
		Diagnostics: models.Diagnostics{Converged: true, MaxRHat: 1.01, MinESS: 400},
		Duration:    1500 * time.Millisecond,
	}

	pb, err := ToProtoDetectionResult(res)
	if err != nil {
		t.Fatalf("to proto: %v", err)
	}
	if pb.GetFields()["run_id"].GetStringValue() != "run-42" {
		t.Fatalf("run id missing from struct")
	}

	back, err := DetectionResultFromProto(pb)
	if err != nil {
		t.Fatalf("from proto: %v", err)
	}
	if back.Duration != res.Duration || back.Table.ChangePoints[0].Index != 2 || back.Config.Draws != res.Config.Draws {
		t.Fatalf("round trip lost data: %+v", back)
	}
}

func TestFromProtoRunID(t *testing.T) {
	if _, err := FromProtoRunID(mustStruct(t, map[string]any{})); err == nil {
		t.Fatalf("expected error for missing run_id")
	}
	id, err := FromProtoRunID(mustStruct(t, map[string]any{"run_id": "abc"}))
	if err != nil || id != "abc" {
		t.Fatalf("unexpected result %q, %v", id, err)
	}
}
