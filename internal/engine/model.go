package engine

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// sdFloorRatio bounds how far the noise sd may shrink relative to the data scale
// before a chain is declared collapsed.
const sdFloorRatio = 1e-6

var (
	logSqrt2Pi = 0.5 * math.Log(2*math.Pi)
	ln2        = math.Ln2
)

// ParameterState is one point in parameter space. Values are never mutated after
// construction, so draws may share backing arrays.
type ParameterState struct {
	Positions []float64 `json:"positions"`
	Means     []float64 `json:"means"`
	SD        float64   `json:"sd"`
}

// Clone returns a deep copy.
func (s ParameterState) Clone() ParameterState {
	return ParameterState{
		Positions: append([]float64(nil), s.Positions...),
		Means:     append([]float64(nil), s.Means...),
		SD:        s.SD,
	}
}

// SortedPositions returns the change-point positions in ascending order.
func (s ParameterState) SortedPositions() []float64 {
	sorted := append([]float64(nil), s.Positions...)
	sort.Float64s(sorted)
	return sorted
}

// Model holds the priors and the likelihood over a fixed series.
// It is read-only after construction and safe for concurrent use by many chains.
type Model struct {
	n      int
	k      int
	priors models.Priors

	center  float64
	sdFloor float64
	prefix1 []float64
	prefix2 []float64

	logUniform float64
	meanPrior  distuv.Normal
	sdPrior    distuv.Normal
}

// NewModel validates the inputs and precomputes the sufficient statistics of the series.
func NewModel(series models.TimeSeries, cfg models.ModelConfig) (*Model, error) {
	if err := ValidateConfig(series, cfg); err != nil {
		return nil, err
	}

	values := series.Values()
	n := len(values)

	center := 0.0
	for _, v := range values {
		center += v
	}
	center /= float64(n)

	prefix1 := make([]float64, n+1)
	prefix2 := make([]float64, n+1)
	for i, v := range values {
		d := v - center
		prefix1[i+1] = prefix1[i] + d
		prefix2[i+1] = prefix2[i] + d*d
	}

	scale := math.Sqrt(prefix2[n] / float64(n))
	if !(scale > 0) {
		scale = math.Max(math.Abs(center), 1)
	}

	return &Model{
		n:          n,
		k:          cfg.NumChangePoints,
		priors:     cfg.Priors,
		center:     center,
		sdFloor:    sdFloorRatio * scale,
		prefix1:    prefix1,
		prefix2:    prefix2,
		logUniform: -math.Log(float64(n)),
		meanPrior:  distuv.Normal{Mu: cfg.Priors.MeanCenter, Sigma: cfg.Priors.MeanScale},
		sdPrior:    distuv.Normal{Mu: 0, Sigma: cfg.Priors.SDScale},
	}, nil
}

// N returns the series length.
func (m *Model) N() int { return m.n }

// K returns the number of change points.
func (m *Model) K() int { return m.k }

// SDFloor is the smallest noise sd a healthy chain may reach. A state below it
// means the segments fit the data exactly and the posterior has degenerated.
func (m *Model) SDFloor() float64 { return m.sdFloor }

// Priors returns the prior hyperparameters.
func (m *Model) Priors() models.Priors { return m.priors }

// LogDensity evaluates the joint log-density (priors + likelihood) of state.
// Out-of-support or non-finite results are reported as -Inf.
func (m *Model) LogDensity(state ParameterState) float64 {
	if len(state.Positions) != m.k || len(state.Means) != m.k+1 {
		return math.Inf(-1)
	}
	sd := state.SD
	if !(sd > 0) || math.IsInf(sd, 0) {
		return math.Inf(-1)
	}

	lp := 0.0
	for _, pos := range state.Positions {
		if !(pos >= 0 && pos < float64(m.n)) {
			return math.Inf(-1)
		}
		lp += m.logUniform
	}
	for _, mu := range state.Means {
		lp += m.meanPrior.LogProb(mu)
	}
	lp += ln2 + m.sdPrior.LogProb(sd)

	lp += m.logLikelihood(state.SortedPositions(), state.Means, sd)

	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return math.Inf(-1)
	}
	return lp
}

func (m *Model) logLikelihood(sorted, means []float64, sd float64) float64 {
	logSD := math.Log(sd)
	inv2Var := 1 / (2 * sd * sd)

	ll := 0.0
	lo := 0
	for r := 0; r <= m.k; r++ {
		hi := m.n
		if r < m.k {
			hi = boundaryIndex(sorted[r], m.n)
		}
		if hi < lo {
			hi = lo
		}
		count := hi - lo
		if count > 0 {
			ll -= float64(count) * (logSD + logSqrt2Pi)
			ll -= m.sumSquares(lo, hi, means[r]) * inv2Var
		}
		lo = hi
	}
	return ll
}

// sumSquares returns Σ(x_i - mu)^2 over [lo, hi).
func (m *Model) sumSquares(lo, hi int, mu float64) float64 {
	count := float64(hi - lo)
	s1 := m.prefix1[hi] - m.prefix1[lo]
	s2 := m.prefix2[hi] - m.prefix2[lo]
	d := mu - m.center
	ss := s2 - 2*d*s1 + count*d*d
	if ss < 0 {
		return 0
	}
	return ss
}

// segmentMoments returns the mean and population sd of the observations in [lo, hi).
func (m *Model) segmentMoments(lo, hi int) (float64, float64, bool) {
	if hi <= lo {
		return 0, 0, false
	}
	count := float64(hi - lo)
	mean := m.center + (m.prefix1[hi]-m.prefix1[lo])/count
	variance := m.sumSquares(lo, hi, mean) / count
	return mean, math.Sqrt(variance), true
}

// boundaryIndex is the first observation index assigned past a change point at pos.
func boundaryIndex(pos float64, n int) int {
	b := int(math.Ceil(pos))
	if b < 0 {
		return 0
	}
	if b > n {
		return n
	}
	return b
}

// Boundaries returns the K regime boundaries implied by positions: regime r covers
// [b[r-1], b[r]) with b[-1] = 0 and b[K] = n. The result is non-decreasing.
func Boundaries(positions []float64, n int) []int {
	sorted := append([]float64(nil), positions...)
	sort.Float64s(sorted)
	bounds := make([]int, len(sorted))
	for i, pos := range sorted {
		bounds[i] = boundaryIndex(pos, n)
	}
	return bounds
}

// Assign maps every index in [0, n) to its regime: the count of change points <= index.
func Assign(positions []float64, n int) []int {
	sorted := append([]float64(nil), positions...)
	sort.Float64s(sorted)
	regimes := make([]int, n)
	for i := 0; i < n; i++ {
		x := float64(i)
		regimes[i] = sort.Search(len(sorted), func(j int) bool { return sorted[j] > x })
	}
	return regimes
}
