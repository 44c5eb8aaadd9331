package models

import "time"

// RegimeRecord describes one contiguous regime between consecutive change points.
// MeanPrice and Volatility are realized statistics of the observed values.
type RegimeRecord struct {
	Regime       int       `json:"regime"`
	StartIndex   int       `json:"start_index"`
	EndIndex     int       `json:"end_index"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Observations int       `json:"observations"`
	MeanPrice    float64   `json:"mean_price"`
	Volatility   float64   `json:"volatility"`
}

// ChangePointEstimate is the posterior summary of the k-th smallest change point.
type ChangePointEstimate struct {
	Ordinal int `json:"ordinal"`
	// Position is the posterior mean of the continuous change-point location.
	Position float64 `json:"position"`
	// Index is the first observation of the new regime: the rounded posterior mean
	// of ceil(position). It sits about half an index above Position.
	Index      int       `json:"index"`
	Date       time.Time `json:"date"`
	LowerIndex int       `json:"lower_index"`
	UpperIndex int       `json:"upper_index"`
	LowerDate  time.Time `json:"lower_date"`
	UpperDate  time.Time `json:"upper_date"`
}

// RegimeTable is the summarizer output consumed by the dashboard layer.
type RegimeTable struct {
	Records      []RegimeRecord        `json:"regimes"`
	ChangePoints []ChangePointEstimate `json:"change_points"`
}

// ParameterDiagnostic holds convergence statistics for one scalar parameter.
type ParameterDiagnostic struct {
	Name string  `json:"name"`
	RHat float64 `json:"rhat"`
	ESS  float64 `json:"ess"`
}

// Diagnostics aggregates convergence information for a run.
type Diagnostics struct {
	Converged  bool                  `json:"converged"`
	MaxRHat    float64               `json:"max_rhat"`
	MinESS     float64               `json:"min_ess"`
	Parameters []ParameterDiagnostic `json:"parameters,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
	// Outliers lists indices of isolated spikes in the analysed series.
	Outliers []int `json:"outliers,omitempty"`
}

// ChainStatus is the terminal state of one chain.
type ChainStatus string

const (
	ChainStatusDone   ChainStatus = "done"
	ChainStatusFailed ChainStatus = "failed"
)

// ChainReport describes how a single chain finished.
type ChainReport struct {
	Index          int         `json:"index"`
	Status         ChainStatus `json:"status"`
	Draws          int         `json:"draws"`
	AcceptanceRate float64     `json:"acceptance_rate"`
	StepScales     []float64   `json:"step_scales,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// DetectionResult is the full outcome of a detection run.
type DetectionResult struct {
	RunID           string        `json:"run_id"`
	CreatedAt       time.Time     `json:"created_at"`
	Observations    int           `json:"observations"`
	NumChangePoints int           `json:"num_change_points"`
	Transform       string        `json:"transform,omitempty"`
	Config          ModelConfig   `json:"config"`
	Table           RegimeTable   `json:"table"`
	Diagnostics     Diagnostics   `json:"diagnostics"`
	Chains          []ChainReport `json:"chains"`
	Duration        time.Duration `json:"duration_ns"`
}
