// Package optimize implements the four search procedures built on the
// backtest executor: exhaustive grid search, Monte Carlo / bootstrap
// resampling, walk-forward validation, and portfolio weight optimization.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"backlab/internal/backtest"
	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// ErrNoValidCombination is returned when every evaluated parameter
// combination failed or produced fewer trades than the minimum.
var ErrNoValidCombination = errors.New("no parameter combination produced a valid backtest")

// GridConfig configures a grid search run.
type GridConfig struct {
	// Ranges are the parameter axes to enumerate. Empty falls back to the
	// strategy's declared ranges.
	Ranges []strategy.ParameterRange
	// Objective ranks candidates. Empty defaults to total return.
	Objective backtest.Objective
	// MaxCombinations caps the number of evaluated combinations.
	// Defaults to 5000.
	MaxCombinations int
	// TopK bounds how many ranked results are retained. Defaults to 100.
	TopK int
	// MinTrades drops candidates that produce fewer trades. Defaults to 1.
	MinTrades int
	// Backtest carries capital and annualization settings for each run.
	Backtest backtest.Config
}

func (c GridConfig) withDefaults() GridConfig {
	if c.Objective == "" {
		c.Objective = backtest.ObjectiveTotalReturn
	}
	if c.MaxCombinations <= 0 {
		c.MaxCombinations = 5000
	}
	if c.TopK <= 0 {
		c.TopK = 100
	}
	if c.MinTrades <= 0 {
		c.MinTrades = 1
	}
	return c
}

// Candidate is one evaluated parameter combination.
type Candidate struct {
	Params  strategy.Params  `json:"params"`
	Metrics backtest.Metrics `json:"metrics"`
	Score   float64          `json:"score"`
	Rank    int              `json:"rank"`
}

// GridResult is the ranked outcome of a grid search. When
// ExecutedCombinations is below TotalCombinations the enumeration was capped
// and the result is partial, which is reported as data rather than an error.
type GridResult struct {
	Objective            backtest.Objective `json:"objective"`
	Best                 Candidate          `json:"best"`
	Results              []Candidate        `json:"results"`
	TotalCombinations    int                `json:"total_combinations"`
	ExecutedCombinations int                `json:"executed_combinations"`
	SkippedCombinations  int                `json:"skipped_combinations"`
}

// GridSearch enumerates the Cartesian product of the parameter ranges, runs
// a backtest per combination, and ranks the survivors by the objective.
// Candidates that yield too few trades are skipped without failing the
// search; if none survive the search fails with ErrNoValidCombination.
func GridSearch(ctx context.Context, strat strategy.Strategy, bars []domain.Bar, cfg GridConfig) (*GridResult, error) {
	cfg = cfg.withDefaults()
	ranges := cfg.Ranges
	if len(ranges) == 0 {
		ranges = strat.ParameterRanges()
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("strategy %q declares no parameter ranges", strat.Name())
	}

	it, err := newGridIterator(ranges)
	if err != nil {
		return nil, err
	}

	res := &GridResult{
		Objective:         cfg.Objective,
		TotalCombinations: it.Total(),
	}
	var candidates []Candidate
	for res.ExecutedCombinations < cfg.MaxCombinations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params, ok := it.Next()
		if !ok {
			break
		}
		res.ExecutedCombinations++

		signals := strat.GenerateSignals(bars, params)
		run := backtest.Execute(bars, signals, cfg.Backtest)
		if len(run.Trades) < cfg.MinTrades {
			res.SkippedCombinations++
			continue
		}
		candidates = append(candidates, Candidate{
			Params:  params,
			Metrics: run.Metrics,
			Score:   cfg.Objective.Score(run.Metrics),
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoValidCombination
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
	res.Best = candidates[0]
	if len(candidates) > cfg.TopK {
		candidates = candidates[:cfg.TopK]
	}
	res.Results = candidates
	return res, nil
}

// ---------------------------------------------------------------------------
// Lazy Cartesian iterator
// ---------------------------------------------------------------------------

// gridIterator walks the Cartesian product of parameter ranges one
// combination at a time, so large spaces never materialize in memory.
type gridIterator struct {
	names  []string
	values [][]float64
	idx    []int
	done   bool
}

func newGridIterator(ranges []strategy.ParameterRange) (*gridIterator, error) {
	it := &gridIterator{
		names:  make([]string, len(ranges)),
		values: make([][]float64, len(ranges)),
		idx:    make([]int, len(ranges)),
	}
	for i, r := range ranges {
		if r.Step <= 0 {
			return nil, fmt.Errorf("range %q: step must be positive, got %v", r.Name, r.Step)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("range %q: min %v exceeds max %v", r.Name, r.Min, r.Max)
		}
		it.names[i] = r.Name
		// The epsilon keeps max itself in the axis despite float stepping.
		for v := r.Min; v <= r.Max+1e-9; v += r.Step {
			it.values[i] = append(it.values[i], round3(v))
		}
	}
	return it, nil
}

// Total returns the full product size, independent of any cap.
func (it *gridIterator) Total() int {
	total := 1
	for _, axis := range it.values {
		total *= len(axis)
	}
	return total
}

// Next returns the next combination, or ok=false when exhausted.
func (it *gridIterator) Next() (strategy.Params, bool) {
	if it.done {
		return nil, false
	}
	params := make(strategy.Params, len(it.names))
	for i, name := range it.names {
		params[name] = it.values[i][it.idx[i]]
	}
	// Odometer increment, last axis fastest.
	for i := len(it.idx) - 1; i >= 0; i-- {
		it.idx[i]++
		if it.idx[i] < len(it.values[i]) {
			return params, true
		}
		it.idx[i] = 0
	}
	it.done = true
	return params, true
}

// Reset rewinds the iterator to the first combination.
func (it *gridIterator) Reset() {
	for i := range it.idx {
		it.idx[i] = 0
	}
	it.done = false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
