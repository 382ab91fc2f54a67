package optimize

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"backlab/internal/domain"
)

// SimMethod selects how each Monte Carlo run rebuilds the trade sequence.
type SimMethod string

const (
	// MethodShuffle replays a uniform random permutation of the trade set.
	MethodShuffle SimMethod = "shuffle"
	// MethodBootstrap draws len(trades) trades with replacement.
	MethodBootstrap SimMethod = "bootstrap"
)

// MonteCarloConfig configures a resampling simulation.
type MonteCarloConfig struct {
	Method SimMethod
	// Runs is the number of simulated sequences. Defaults to 1000.
	Runs int
	// InitialCapital defaults to 100000.
	InitialCapital float64
	// ConfidenceLevel drives the VaR cutoff, e.g. 0.95 reads the 5th
	// percentile of the return distribution. Defaults to 0.95.
	ConfidenceLevel float64
	// Seed fixes the random source for reproducible runs. Zero seeds from
	// the clock.
	Seed int64
}

func (c MonteCarloConfig) withDefaults() MonteCarloConfig {
	if c.Method == "" {
		c.Method = MethodShuffle
	}
	if c.Runs <= 0 {
		c.Runs = 1000
	}
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		c.ConfidenceLevel = 0.95
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Distribution summarizes a simulated outcome sample.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P5     float64 `json:"p5"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
}

// DrawdownSummary summarizes the simulated max-drawdown sample.
type DrawdownSummary struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// MonteCarloResult is the distribution summary over all simulation runs.
type MonteCarloResult struct {
	Method            SimMethod       `json:"method"`
	Runs              int             `json:"runs"`
	Returns           Distribution    `json:"returns"`
	Drawdowns         DrawdownSummary `json:"drawdowns"`
	ProbabilityOfLoss float64         `json:"probability_of_loss"`
	ProbabilityOfRuin float64         `json:"probability_of_ruin"`
	VaR               float64         `json:"var"`
	CVaR              float64         `json:"cvar"`
	// SampleCurves holds up to ten evenly spaced full equity paths for
	// visualization.
	SampleCurves [][]float64 `json:"sample_curves"`
}

const maxSampleCurves = 10

// MonteCarlo resamples a completed trade sequence and summarizes the
// resulting return and drawdown distributions. Shuffle mode permutes the
// original trades, bootstrap mode draws with replacement.
func MonteCarlo(trades []domain.Trade, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	if len(trades) == 0 {
		return nil, errors.New("monte carlo simulation requires at least one trade")
	}
	cfg = cfg.withDefaults()
	if cfg.Method != MethodShuffle && cfg.Method != MethodBootstrap {
		return nil, fmt.Errorf("unknown simulation method %q", cfg.Method)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	profits := make([]float64, len(trades))
	for i, t := range trades {
		profits[i] = t.ProfitPct
	}

	returns := make([]float64, cfg.Runs)
	drawdowns := make([]float64, cfg.Runs)
	stride := cfg.Runs / maxSampleCurves
	if stride < 1 {
		stride = 1
	}
	var curves [][]float64

	seq := make([]float64, len(profits))
	for run := 0; run < cfg.Runs; run++ {
		switch cfg.Method {
		case MethodShuffle:
			copy(seq, profits)
			rng.Shuffle(len(seq), func(i, j int) { seq[i], seq[j] = seq[j], seq[i] })
		case MethodBootstrap:
			for i := range seq {
				seq[i] = profits[rng.Intn(len(profits))]
			}
		}

		keep := run%stride == 0 && len(curves) < maxSampleCurves
		var curve []float64
		if keep {
			curve = make([]float64, 0, len(seq)+1)
			curve = append(curve, cfg.InitialCapital)
		}

		capital := cfg.InitialCapital
		peak := capital
		var maxDD float64
		for _, p := range seq {
			capital *= 1 + p/100
			if capital > peak {
				peak = capital
			}
			if peak > 0 {
				if dd := (peak - capital) / peak * 100; dd > maxDD {
					maxDD = dd
				}
			}
			if keep {
				curve = append(curve, capital)
			}
		}
		returns[run] = (capital - cfg.InitialCapital) / cfg.InitialCapital * 100
		drawdowns[run] = maxDD
		if keep {
			curves = append(curves, curve)
		}
	}

	res := &MonteCarloResult{
		Method:       cfg.Method,
		Runs:         cfg.Runs,
		Returns:      summarize(returns),
		SampleCurves: curves,
	}

	sortedDD := sortedCopy(drawdowns)
	res.Drawdowns = DrawdownSummary{
		Mean:   mean(drawdowns),
		Median: percentileSorted(sortedDD, 50),
		Max:    sortedDD[len(sortedDD)-1],
		P95:    percentileSorted(sortedDD, 95),
	}

	var losses, ruins int
	for i := range returns {
		if returns[i] < 0 {
			losses++
		}
		if drawdowns[i] > 50 {
			ruins++
		}
	}
	res.ProbabilityOfLoss = float64(losses) / float64(cfg.Runs) * 100
	res.ProbabilityOfRuin = float64(ruins) / float64(cfg.Runs) * 100

	sortedRet := sortedCopy(returns)
	res.VaR = percentileSorted(sortedRet, (1-cfg.ConfidenceLevel)*100)
	var tailSum float64
	var tailN int
	for _, r := range sortedRet {
		if r <= res.VaR {
			tailSum += r
			tailN++
		}
	}
	if tailN > 0 {
		res.CVaR = tailSum / float64(tailN)
	}
	return res, nil
}

func summarize(xs []float64) Distribution {
	sorted := sortedCopy(xs)
	mu := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	var std float64
	if len(xs) > 1 {
		std = math.Sqrt(ss / float64(len(xs)-1))
	}
	return Distribution{
		Mean:   mu,
		Median: percentileSorted(sorted, 50),
		StdDev: std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P5:     percentileSorted(sorted, 5),
		P25:    percentileSorted(sorted, 25),
		P75:    percentileSorted(sorted, 75),
		P95:    percentileSorted(sorted, 95),
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	sort.Float64s(out)
	return out
}

// percentileSorted reads the p-th percentile from an ascending sample with
// linear interpolation between order statistics.
func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
