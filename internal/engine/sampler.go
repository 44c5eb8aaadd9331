package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// Phase is the lifecycle state of a chain.
type Phase int

const (
	PhaseTuning Phase = iota
	PhaseSampling
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseTuning:
		return "tuning"
	case PhaseSampling:
		return "sampling"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	maxInitAttempts = 64
	minStepScale    = 1e-8
	maxStepScale    = 1e4
	adaptGain       = 2.0
	initJitter      = 0.25
)

// Chain is a single Markov chain. It is driven by exactly one goroutine and owns
// its random stream, current state and draws.
type Chain struct {
	index    int
	model    *Model
	proposer *Proposer
	cfg      models.ModelConfig
	rng      *rand.Rand

	phase     Phase
	current   ParameterState
	currentLP float64

	scales         [3]float64
	maxScales      [3]float64
	accepted       [3]int
	proposed       [3]int
	windowAccepted [3]int
	windowProposed [3]int

	draws        []ParameterState
	logDensities []float64

	err         error
	failedPhase Phase
}

// NewChain creates chain index with a random stream seeded from (cfg.Seed, index).
func NewChain(model *Model, proposer *Proposer, cfg models.ModelConfig, index int) *Chain {
	c := &Chain{
		index:    index,
		model:    model,
		proposer: proposer,
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(index))),
		phase:    PhaseTuning,
	}
	for b := range c.scales {
		c.scales[b] = cfg.InitialStepScale
		c.maxScales[b] = maxStepScale
	}
	if base := proposer.BaseScale(BlockChangePoints); base > 0 {
		c.maxScales[BlockChangePoints] = float64(model.N()) / base
	}
	return c
}

// Run drives the chain through tuning and sampling. It returns the failure cause
// when the chain ends in PhaseFailed; draws collected before a failure are kept.
func (c *Chain) Run(ctx context.Context) error {
	if err := c.initialize(); err != nil {
		return c.fail(PhaseTuning, err)
	}

	finite := 0
	for step := 0; step < c.cfg.TuningIterations; step++ {
		if err := ctx.Err(); err != nil {
			return c.fail(PhaseTuning, err)
		}
		finite += c.sweep()
		if err := c.checkCollapse(PhaseTuning); err != nil {
			return c.fail(PhaseTuning, err)
		}
		if (step+1)%c.cfg.AdaptInterval == 0 {
			c.adapt()
		}
	}
	if c.cfg.TuningIterations > 0 && finite == 0 {
		return c.fail(PhaseTuning, &NumericInstabilityError{
			Chain:  c.index,
			Phase:  PhaseTuning,
			Reason: "every proposal evaluated to a non-finite log-density",
		})
	}

	c.phase = PhaseSampling
	c.accepted = [3]int{}
	c.proposed = [3]int{}
	c.draws = make([]ParameterState, 0, c.cfg.Draws)
	c.logDensities = make([]float64, 0, c.cfg.Draws)
	for step := 0; step < c.cfg.Draws; step++ {
		if err := ctx.Err(); err != nil {
			return c.fail(PhaseSampling, err)
		}
		c.sweep()
		if err := c.checkCollapse(PhaseSampling); err != nil {
			return c.fail(PhaseSampling, err)
		}
		c.draws = append(c.draws, c.current)
		c.logDensities = append(c.logDensities, c.currentLP)
	}

	c.phase = PhaseDone
	return nil
}

// sweep performs one Metropolis-within-Gibbs step over every non-empty block and
// returns how many candidates had a finite log-density.
func (c *Chain) sweep() int {
	finite := 0
	for _, block := range sweepBlocks {
		if block == BlockChangePoints && c.model.K() == 0 {
			continue
		}
		candidate, logHastings := c.proposer.Propose(c.rng, c.current, block, c.scales[block])
		lp := c.model.LogDensity(candidate)
		c.proposed[block]++
		c.windowProposed[block]++
		if math.IsInf(lp, -1) {
			continue
		}
		finite++

		logAlpha := lp - c.currentLP + logHastings
		if logAlpha >= 0 || math.Log(c.rng.Float64()) < logAlpha {
			c.current = candidate
			c.currentLP = lp
			c.accepted[block]++
			c.windowAccepted[block]++
		}
	}
	return finite
}

// checkCollapse fails the chain once the noise sd has shrunk below the model floor.
func (c *Chain) checkCollapse(phase Phase) error {
	if c.current.SD >= c.model.SDFloor() {
		return nil
	}
	return &NumericInstabilityError{
		Chain:  c.index,
		Phase:  phase,
		Reason: fmt.Sprintf("noise sd collapsed to %.3g (floor %.3g)", c.current.SD, c.model.SDFloor()),
	}
}

// adapt nudges each block scale multiplicatively toward the target acceptance rate.
func (c *Chain) adapt() {
	for b := range c.scales {
		if c.windowProposed[b] == 0 {
			continue
		}
		rate := float64(c.windowAccepted[b]) / float64(c.windowProposed[b])
		scale := c.scales[b] * math.Exp(adaptGain*(rate-c.cfg.TargetAccept))
		c.scales[b] = math.Min(math.Max(scale, minStepScale), c.maxScales[b])
		c.windowAccepted[b] = 0
		c.windowProposed[b] = 0
	}
}

func (c *Chain) initialize() error {
	state := c.heuristicStart()
	lp := c.model.LogDensity(state)
	for attempt := 0; math.IsInf(lp, -1) && attempt < maxInitAttempts; attempt++ {
		state = c.priorStart()
		lp = c.model.LogDensity(state)
	}
	if math.IsInf(lp, -1) {
		return &NumericInstabilityError{
			Chain:  c.index,
			Phase:  PhaseTuning,
			Reason: fmt.Sprintf("no finite initial log-density after %d attempts", maxInitAttempts+1),
		}
	}
	c.current = state
	c.currentLP = lp
	return nil
}

// heuristicStart spaces change points evenly (with jitter) and seeds the means
// and sd from the empirical moments of the induced segments.
func (c *Chain) heuristicStart() ParameterState {
	n, k := c.model.N(), c.model.K()
	upper := float64(n)
	spacing := upper / float64(k+1)

	positions := make([]float64, k)
	for i := range positions {
		jitter := spacing * initJitter * (2*c.rng.Float64() - 1)
		positions[i] = reflectInto(float64(i+1)*spacing+jitter, upper)
	}

	center, spread, _ := c.model.segmentMoments(0, n)
	meanJitter := c.proposer.BaseScale(BlockMeans)
	bounds := Boundaries(positions, n)
	means := make([]float64, k+1)
	lo := 0
	for r := range means {
		hi := n
		if r < k {
			hi = bounds[r]
		}
		mean, _, ok := c.model.segmentMoments(lo, hi)
		if !ok {
			mean = center
		}
		means[r] = mean + meanJitter*c.rng.NormFloat64()
		lo = max(lo, hi)
	}

	sd := spread
	if !(sd > 0) {
		sd = 0.01 * math.Max(1, math.Abs(center))
	}
	return ParameterState{Positions: positions, Means: means, SD: sd}
}

// priorStart draws a state from the priors.
func (c *Chain) priorStart() ParameterState {
	n, k := c.model.N(), c.model.K()
	priors := c.model.Priors()

	positions := make([]float64, k)
	for i := range positions {
		positions[i] = c.rng.Float64() * float64(n)
	}
	means := make([]float64, k+1)
	for r := range means {
		means[r] = priors.MeanCenter + priors.MeanScale*c.rng.NormFloat64()
	}
	sd := math.Abs(priors.SDScale * c.rng.NormFloat64())
	if !(sd > 0) {
		sd = priors.SDScale
	}
	return ParameterState{Positions: positions, Means: means, SD: sd}
}

func (c *Chain) fail(phase Phase, err error) error {
	c.phase = PhaseFailed
	c.failedPhase = phase
	c.err = err
	return err
}

// Index returns the chain number.
func (c *Chain) Index() int { return c.index }

// Phase returns the current lifecycle state.
func (c *Chain) Phase() Phase { return c.phase }

// FailedPhase reports the phase the chain was in when it failed.
func (c *Chain) FailedPhase() Phase { return c.failedPhase }

// Err returns the failure cause, if any.
func (c *Chain) Err() error { return c.err }

// Draws returns the recorded post-tuning draws.
func (c *Chain) Draws() []ParameterState { return c.draws }

// LogDensities returns the log-density of each recorded draw.
func (c *Chain) LogDensities() []float64 { return c.logDensities }

// StepScales returns the effective per-block step sizes (multiplier × base).
func (c *Chain) StepScales() []float64 {
	scales := make([]float64, len(c.scales))
	for b := range c.scales {
		scales[b] = c.scales[b] * c.proposer.BaseScale(Block(b))
	}
	return scales
}

// AcceptanceRate is the fraction of accepted block proposals since sampling began
// (or since the start of tuning if sampling never started).
func (c *Chain) AcceptanceRate() float64 {
	accepted, proposed := 0, 0
	for b := range c.proposed {
		accepted += c.accepted[b]
		proposed += c.proposed[b]
	}
	if proposed == 0 {
		return 0
	}
	return float64(accepted) / float64(proposed)
}

// Usable reports whether the chain's draws may enter the posterior.
func (c *Chain) Usable(allowPartial bool) bool {
	switch c.phase {
	case PhaseDone:
		return len(c.draws) > 0
	case PhaseFailed:
		return allowPartial && c.failedPhase == PhaseSampling && len(c.draws) >= 2
	default:
		return false
	}
}
