package engine

import (
	"math"
	"math/rand/v2"
)

// Block selects which components of a ParameterState a proposal perturbs.
type Block int

const (
	BlockChangePoints Block = iota
	BlockMeans
	BlockSD
	// BlockAll perturbs every component jointly.
	BlockAll
)

// sweepBlocks is the order in which a sampler step visits blocks.
var sweepBlocks = [...]Block{BlockChangePoints, BlockMeans, BlockSD}

func (b Block) String() string {
	switch b {
	case BlockChangePoints:
		return "changepoints"
	case BlockMeans:
		return "means"
	case BlockSD:
		return "sd"
	case BlockAll:
		return "all"
	default:
		return "unknown"
	}
}

// Proposer generates Gaussian random-walk candidates. The caller's step scale is
// multiplied by a per-block base scale derived from the series.
type Proposer struct {
	upper float64
	base  [3]float64
}

// NewProposer derives base scales from the model's series.
func NewProposer(model *Model) *Proposer {
	n := model.N()
	segLen := float64(n) / float64(model.K()+1)

	cpBase := math.Max(1, segLen/10)

	center, spread, _ := model.segmentMoments(0, n)
	meanBase := spread / math.Sqrt(segLen)
	if !(meanBase > 0) {
		meanBase = 0.01 * math.Max(1, math.Abs(center))
	}

	return &Proposer{
		upper: float64(n),
		base:  [3]float64{cpBase, meanBase, 0.1},
	}
}

// BaseScale returns the base scale used for block b.
func (p *Proposer) BaseScale(b Block) float64 {
	if b < 0 || int(b) >= len(p.base) {
		return 0
	}
	return p.base[b]
}

// Propose returns a candidate and the log Hastings correction log q(cur|cand) - log q(cand|cur).
// Unperturbed components share storage with cur.
func (p *Proposer) Propose(rng *rand.Rand, cur ParameterState, block Block, scale float64) (ParameterState, float64) {
	next := ParameterState{Positions: cur.Positions, Means: cur.Means, SD: cur.SD}
	logHastings := 0.0

	if block == BlockChangePoints || block == BlockAll {
		step := scale * p.base[BlockChangePoints]
		positions := make([]float64, len(cur.Positions))
		for i, pos := range cur.Positions {
			positions[i] = reflectInto(pos+step*rng.NormFloat64(), p.upper)
		}
		next.Positions = positions
	}

	if block == BlockMeans || block == BlockAll {
		step := scale * p.base[BlockMeans]
		means := make([]float64, len(cur.Means))
		for i, mu := range cur.Means {
			means[i] = mu + step*rng.NormFloat64()
		}
		next.Means = means
	}

	if block == BlockSD || block == BlockAll {
		step := scale * p.base[BlockSD]
		logSD := math.Log(cur.SD)
		logNext := logSD + step*rng.NormFloat64()
		next.SD = math.Exp(logNext)
		logHastings += logNext - logSD
	}

	return next, logHastings
}

// reflectInto folds x back into [0, upper) by mirroring at both edges.
// Mirroring keeps the random-walk kernel symmetric, so no Hastings term is needed.
func reflectInto(x, upper float64) float64 {
	if x >= 0 && x < upper {
		return x
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	period := 2 * upper
	y := math.Mod(x, period)
	if y < 0 {
		y += period
	}
	if y >= upper {
		y = period - y
	}
	if y >= upper {
		y = math.Nextafter(upper, 0)
	}
	return y
}
