package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

// Posterior holds the pooled post-tuning draws of every usable chain.
// It is read-only once returned by DetectChangePoints.
type Posterior struct {
	N      int
	K      int
	Config models.ModelConfig

	Diagnostics models.Diagnostics
	Warnings    []*NonConvergenceWarning
	Failures    []ChainFailure

	chains []*Chain
	draws  [][]ParameterState
}

func newPosterior(model *Model, cfg models.ModelConfig, chains []*Chain) *Posterior {
	post := &Posterior{N: model.N(), K: model.K(), Config: cfg, chains: chains}
	for _, c := range chains {
		if c.Usable(cfg.AllowPartial) {
			post.draws = append(post.draws, c.Draws())
			continue
		}
		post.Failures = append(post.Failures, ChainFailure{Chain: c.Index(), Phase: c.FailedPhase(), Err: c.Err()})
	}
	return post
}

// ChainDraws returns the draws of each usable chain.
func (p *Posterior) ChainDraws() [][]ParameterState {
	return p.draws
}

// Pooled concatenates the draws of all usable chains in chain order.
func (p *Posterior) Pooled() []ParameterState {
	total := 0
	for _, d := range p.draws {
		total += len(d)
	}
	pooled := make([]ParameterState, 0, total)
	for _, d := range p.draws {
		pooled = append(pooled, d...)
	}
	return pooled
}

// ChainReports describes the terminal state of every chain, usable or not.
func (p *Posterior) ChainReports() []models.ChainReport {
	reports := make([]models.ChainReport, 0, len(p.chains))
	for _, c := range p.chains {
		report := models.ChainReport{
			Index:          c.Index(),
			Status:         models.ChainStatusDone,
			Draws:          len(c.Draws()),
			AcceptanceRate: c.AcceptanceRate(),
			StepScales:     c.StepScales(),
		}
		if c.Phase() == PhaseFailed {
			report.Status = models.ChainStatusFailed
			if c.Err() != nil {
				report.Error = c.Err().Error()
			}
		}
		reports = append(reports, report)
	}
	return reports
}

// Summarize reduces the posterior to change-point estimates and a RegimeTable whose
// per-regime statistics are computed from the observed values.
func Summarize(post *Posterior, series models.TimeSeries) (models.RegimeTable, error) {
	if post == nil {
		return models.RegimeTable{}, errors.New("summarize: posterior is nil")
	}
	n := series.Len()
	if n != post.N {
		return models.RegimeTable{}, fmt.Errorf("summarize: series has %d observations, posterior was fit on %d", n, post.N)
	}
	pooled := post.Pooled()
	if len(pooled) == 0 {
		return models.RegimeTable{}, errors.New("summarize: posterior has no draws")
	}

	mass := post.Config.CredibleMass
	if !(mass > 0 && mass < 1) {
		mass = 0.9
	}
	lowerP, upperP := (1-mass)/2, (1+mass)/2

	k := post.K
	positions := make([][]float64, k)
	bounds := make([][]float64, k)
	for i := 0; i < k; i++ {
		positions[i] = make([]float64, len(pooled))
		bounds[i] = make([]float64, len(pooled))
	}
	for d, state := range pooled {
		for i, pos := range state.SortedPositions() {
			positions[i][d] = pos
			bounds[i][d] = float64(boundaryIndex(pos, n))
		}
	}

	table := models.RegimeTable{
		Records:      make([]models.RegimeRecord, 0, k+1),
		ChangePoints: make([]models.ChangePointEstimate, 0, k),
	}
	splits := make([]int, k)
	for i := 0; i < k; i++ {
		boundary := clampInt(int(math.Round(stat.Mean(bounds[i], nil))), 0, n)
		if i > 0 && boundary < splits[i-1] {
			boundary = splits[i-1]
		}
		splits[i] = boundary

		sort.Float64s(bounds[i])
		lower := clampInt(int(stat.Quantile(lowerP, stat.Empirical, bounds[i], nil)), 0, n-1)
		upper := clampInt(int(stat.Quantile(upperP, stat.Empirical, bounds[i], nil)), 0, n-1)
		index := clampInt(boundary, 0, n-1)
		// A skewed posterior can put its mean outside the central interval.
		lower, upper = min(lower, index), max(upper, index)

		table.ChangePoints = append(table.ChangePoints, models.ChangePointEstimate{
			Ordinal:    i,
			Position:   stat.Mean(positions[i], nil),
			Index:      index,
			Date:       series.TimestampAt(index),
			LowerIndex: lower,
			UpperIndex: upper,
			LowerDate:  series.TimestampAt(lower),
			UpperDate:  series.TimestampAt(upper),
		})
	}

	values := series.Values()
	lo := 0
	for r := 0; r <= k; r++ {
		hi := n
		if r < k {
			hi = splits[r]
		}
		table.Records = append(table.Records, regimeRecord(r, lo, hi, values, series))
		lo = hi
	}
	return table, nil
}

func regimeRecord(regime, lo, hi int, values []float64, series models.TimeSeries) models.RegimeRecord {
	record := models.RegimeRecord{
		Regime:       regime,
		StartIndex:   lo,
		EndIndex:     hi - 1,
		StartDate:    series.TimestampAt(lo),
		EndDate:      series.TimestampAt(lo),
		Observations: hi - lo,
	}
	if hi <= lo {
		return record
	}
	record.EndDate = series.TimestampAt(hi - 1)
	mean, sd := stat.MeanStdDev(values[lo:hi], nil)
	record.MeanPrice = mean
	if hi-lo > 1 && !math.IsNaN(sd) {
		record.Volatility = sd
	}
	return record
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
