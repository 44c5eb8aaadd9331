package engine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// RHat is the Gelman-Rubin potential scale reduction factor. Chains are truncated
// to their common length; at least two chains of two draws are required, otherwise
// NaN is returned.
func RHat(chains [][]float64) float64 {
	m, n := len(chains), commonLength(chains)
	if m < 2 || n < 2 {
		return math.NaN()
	}

	means := make([]float64, m)
	variances := make([]float64, m)
	for j, chain := range chains {
		means[j], variances[j] = stat.MeanVariance(chain[:n], nil)
	}
	w := stat.Mean(variances, nil)
	b := float64(n) * stat.Variance(means, nil)
	if w == 0 {
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}

	// W is taken with the same 1/n divisor as the pooled estimate so that
	// chains with identical moments score exactly 1.
	nf := float64(n)
	w *= (nf - 1) / nf
	varPlus := w + b/nf
	return math.Sqrt(varPlus / w)
}

// SplitRHat computes RHat after splitting every chain into its first and second half,
// which also exposes drift within a single chain.
func SplitRHat(chains [][]float64) float64 {
	return RHat(splitChains(chains))
}

func splitChains(chains [][]float64) [][]float64 {
	n := commonLength(chains)
	half := n / 2
	if half == 0 {
		return nil
	}
	split := make([][]float64, 0, 2*len(chains))
	for _, chain := range chains {
		split = append(split, chain[:half], chain[n-half:n])
	}
	return split
}

// EffectiveSampleSize estimates the multi-chain ESS using Geyer's initial positive
// sequence over the combined autocorrelation.
func EffectiveSampleSize(chains [][]float64) float64 {
	m, n := len(chains), commonLength(chains)
	if m == 0 || n == 0 {
		return 0
	}
	total := float64(m * n)
	if n < 4 {
		return total
	}

	means := make([]float64, m)
	variances := make([]float64, m)
	for j, chain := range chains {
		means[j], variances[j] = stat.MeanVariance(chain[:n], nil)
	}
	w := stat.Mean(variances, nil)
	nf := float64(n)
	varPlus := (nf - 1) / nf * w
	if m > 1 {
		varPlus += stat.Variance(means, nil)
	}
	if !(varPlus > 0) {
		return total
	}

	rho := func(lag int) float64 {
		acov := 0.0
		for j, chain := range chains {
			mu := means[j]
			sum := 0.0
			for i := 0; i+lag < n; i++ {
				sum += (chain[i] - mu) * (chain[i+lag] - mu)
			}
			acov += sum / nf
		}
		acov /= float64(m)
		return 1 - (w-acov)/varPlus
	}

	tau := -1.0
	prevPair := math.Inf(1)
	for lag := 0; lag+1 < n; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair <= 0 {
			break
		}
		if pair > prevPair {
			pair = prevPair
		}
		tau += 2 * pair
		prevPair = pair
	}
	if tau <= 0 {
		return total
	}
	return math.Min(total/tau, total*math.Log10(total))
}

func commonLength(chains [][]float64) int {
	if len(chains) == 0 {
		return 0
	}
	n := len(chains[0])
	for _, chain := range chains[1:] {
		if len(chain) < n {
			n = len(chain)
		}
	}
	return n
}

// parameterTraces flattens draws into per-parameter traces: traces[p][chain][draw].
// Change points are sorted within each draw so that ordinal k is comparable across chains.
func parameterTraces(draws [][]ParameterState, k int) ([]string, [][][]float64) {
	names := make([]string, 0, 2*k+2)
	for i := 0; i < k; i++ {
		names = append(names, fmt.Sprintf("changepoint[%d]", i))
	}
	for r := 0; r <= k; r++ {
		names = append(names, fmt.Sprintf("segment_mean[%d]", r))
	}
	names = append(names, "segment_sd")

	traces := make([][][]float64, len(names))
	for p := range traces {
		traces[p] = make([][]float64, len(draws))
		for c := range draws {
			traces[p][c] = make([]float64, len(draws[c]))
		}
	}

	sorted := make([]float64, k)
	for c, chain := range draws {
		for d, state := range chain {
			copy(sorted, state.Positions)
			sort.Float64s(sorted)
			p := 0
			for _, pos := range sorted {
				traces[p][c][d] = pos
				p++
			}
			for _, mu := range state.Means {
				traces[p][c][d] = mu
				p++
			}
			traces[p][c][d] = state.SD
		}
	}
	return names, traces
}

// Diagnose computes split R-hat and ESS per parameter and collects advisory warnings
// for every parameter whose R-hat exceeds threshold.
func Diagnose(draws [][]ParameterState, k int, threshold float64) (models.Diagnostics, []*NonConvergenceWarning) {
	diag := models.Diagnostics{Converged: true, MinESS: math.Inf(1)}
	names, traces := parameterTraces(draws, k)

	var warnings []*NonConvergenceWarning
	for p, name := range names {
		rhat := SplitRHat(traces[p])
		ess := EffectiveSampleSize(traces[p])
		if math.IsNaN(rhat) {
			diag.Converged = false
			diag.Warnings = append(diag.Warnings, fmt.Sprintf("parameter %s: not enough draws for r-hat", name))
			continue
		}
		if math.IsInf(rhat, 1) {
			// chains stuck at different constants; keep the value JSON-encodable
			rhat = math.MaxFloat64
		}
		diag.Parameters = append(diag.Parameters, models.ParameterDiagnostic{Name: name, RHat: rhat, ESS: ess})
		if rhat > diag.MaxRHat {
			diag.MaxRHat = rhat
		}
		if ess < diag.MinESS {
			diag.MinESS = ess
		}
		if rhat > threshold {
			w := &NonConvergenceWarning{Parameter: name, RHat: rhat, Threshold: threshold}
			warnings = append(warnings, w)
			diag.Warnings = append(diag.Warnings, w.Error())
			diag.Converged = false
		}
	}
	if math.IsInf(diag.MinESS, 1) {
		diag.MinESS = 0
	}
	return diag, warnings
}
