package engine

import (
	"fmt"
	"strings"
)

// InvalidConfigError rejects a run before any sampling starts.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Reason
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// NumericInstabilityError marks a chain whose log-density never became finite
// or whose noise sd collapsed toward zero.
type NumericInstabilityError struct {
	Chain  int
	Phase  Phase
	Reason string
}

func (e *NumericInstabilityError) Error() string {
	return fmt.Sprintf("chain %d: numeric instability during %s: %s", e.Chain, e.Phase, e.Reason)
}

// ChainFailure records why a chain ended in PhaseFailed.
type ChainFailure struct {
	Chain int
	Phase Phase
	Err   error
}

// SamplerFailure is returned when no chain produced a usable posterior.
type SamplerFailure struct {
	Failures []ChainFailure
}

func (e *SamplerFailure) Error() string {
	if len(e.Failures) == 0 {
		return "sampler failure: no chains ran"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chain %d (%s): %v", f.Chain, f.Phase, f.Err))
	}
	return "sampler failure: all chains failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-chain causes to errors.Is / errors.As.
func (e *SamplerFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// NonConvergenceWarning is advisory: the run still produces a RegimeTable.
type NonConvergenceWarning struct {
	Parameter string
	RHat      float64
	Threshold float64
}

func (w *NonConvergenceWarning) Error() string {
	return fmt.Sprintf("parameter %s did not converge: r-hat %.4f exceeds %.4f", w.Parameter, w.RHat, w.Threshold)
}
