package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// FromProtoDetectRequest decodes a Detect payload. Config fields absent from the
// payload keep the values of defaults; unknown fields are rejected.
func FromProtoDetectRequest(req *structpb.Struct, defaults models.ModelConfig) (models.DetectRequest, error) {
	if req == nil {
		return models.DetectRequest{}, fmt.Errorf("request is nil")
	}
	raw, err := protojson.Marshal(req)
	if err != nil {
		return models.DetectRequest{}, fmt.Errorf("encode request: %w", err)
	}

	out := models.DetectRequest{Config: defaults}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return models.DetectRequest{}, fmt.Errorf("decode request: %w", err)
	}
	if len(out.Series) == 0 {
		return models.DetectRequest{}, fmt.Errorf("series is required")
	}
	return out, nil
}

// FromProtoRunID extracts the run_id field of a GetRun payload.
func FromProtoRunID(req *structpb.Struct) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request is nil")
	}
	v, ok := req.GetFields()["run_id"]
	if !ok || v.GetStringValue() == "" {
		return "", fmt.Errorf("run_id is required")
	}
	return v.GetStringValue(), nil
}

// ToProtoDetectionResult converts a domain result into its Struct representation.
func ToProtoDetectionResult(res models.DetectionResult) (*structpb.Struct, error) {
	return toStruct(res)
}

// ToProtoHealth converts a health report into its Struct representation.
func ToProtoHealth(report models.HealthReport) (*structpb.Struct, error) {
	return toStruct(report)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// DetectionResultFromProto decodes a Detect response, the inverse of ToProtoDetectionResult.
func DetectionResultFromProto(resp *structpb.Struct) (models.DetectionResult, error) {
	var out models.DetectionResult
	if resp == nil {
		return out, fmt.Errorf("response is nil")
	}
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return out, fmt.Errorf("encode response: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ToProtoDetectRequest encodes a request for clients of the Detector service.
func ToProtoDetectRequest(req models.DetectRequest) (*structpb.Struct, error) {
	return toStruct(req)
}
