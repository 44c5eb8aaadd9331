package models

// DetectRequest is the wire payload accepted by the detection service.
type DetectRequest struct {
	Series []Observation `json:"series"`
	Config ModelConfig   `json:"config"`
	// Transform selects the derived feature analysed instead of the raw values:
	// "none" (default), "log" or "returns".
	Transform string `json:"transform,omitempty"`
	// Persist asks the service to store the run when a store is configured.
	Persist bool `json:"persist"`
}

// TimeSeries converts the request payload into a TimeSeries.
func (r DetectRequest) TimeSeries() TimeSeries {
	return TimeSeries{Observations: append([]Observation(nil), r.Series...)}
}

// HealthReport is returned by the Health RPC.
type HealthReport struct {
	Status       string  `json:"status"`
	Cache        string  `json:"cache"`
	Store        string  `json:"store"`
	Detections   int     `json:"detections"`
	LatencyP95MS float64 `json:"latency_p95_ms"`
}
