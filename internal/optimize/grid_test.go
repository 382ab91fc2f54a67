package optimize

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

func almost(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func dailyBars(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func zigzagBars(n int) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 95
		} else {
			closes[i] = 105
		}
	}
	return dailyBars(closes)
}

// roundTripper buys the first bar of the series and sells the last,
// regardless of parameters. Useful for combination-count tests.
type roundTripper struct{}

func (roundTripper) Name() string { return "round-tripper" }

func (roundTripper) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{{Name: "p", Default: 5, Min: 5, Max: 15, Step: 5}}
}

func (roundTripper) GenerateSignals(bars []domain.Bar, _ strategy.Params) []domain.Signal {
	if len(bars) < 2 {
		return nil
	}
	return []domain.Signal{
		{Timestamp: bars[0].Timestamp, Kind: domain.SignalBuy, Price: bars[0].Close},
		{Timestamp: bars[len(bars)-1].Timestamp, Kind: domain.SignalSell, Price: bars[len(bars)-1].Close},
	}
}

// exiter buys the first bar and exits at the bar index given by its
// parameter, so on a trending series each parameter value earns a different
// score.
type exiter struct{}

func (exiter) Name() string { return "exiter" }

func (exiter) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{{Name: "exit_bar", Default: 5, Min: 5, Max: 15, Step: 5}}
}

func (exiter) GenerateSignals(bars []domain.Bar, params strategy.Params) []domain.Signal {
	exit := int(params.Get("exit_bar", 5))
	if len(bars) < 2 || exit <= 0 {
		return nil
	}
	if exit >= len(bars) {
		exit = len(bars) - 1
	}
	return []domain.Signal{
		{Timestamp: bars[0].Timestamp, Kind: domain.SignalBuy, Price: bars[0].Close},
		{Timestamp: bars[exit].Timestamp, Kind: domain.SignalSell, Price: bars[exit].Close},
	}
}

// silent never trades.
type silent struct{}

func (silent) Name() string { return "silent" }

func (silent) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{{Name: "p", Default: 1, Min: 1, Max: 3, Step: 1}}
}

func (silent) GenerateSignals([]domain.Bar, strategy.Params) []domain.Signal { return nil }

func TestGridSearchCombinationCounts(t *testing.T) {
	bars := zigzagBars(20)
	ranges := []strategy.ParameterRange{{Name: "p", Min: 5, Max: 15, Step: 5}}

	res, err := GridSearch(context.Background(), roundTripper{}, bars, GridConfig{Ranges: ranges})
	if err != nil {
		t.Fatalf("GridSearch: %v", err)
	}
	if res.TotalCombinations != 3 || res.ExecutedCombinations != 3 {
		t.Errorf("combinations = %d/%d, want 3/3", res.ExecutedCombinations, res.TotalCombinations)
	}

	res, err = GridSearch(context.Background(), roundTripper{}, bars, GridConfig{Ranges: ranges, MaxCombinations: 2})
	if err != nil {
		t.Fatalf("GridSearch capped: %v", err)
	}
	if res.TotalCombinations != 3 || res.ExecutedCombinations != 2 {
		t.Errorf("capped combinations = %d/%d, want 2/3", res.ExecutedCombinations, res.TotalCombinations)
	}
}

func risingBars(n int) []domain.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return dailyBars(closes)
}

func TestGridSearchDeterministic(t *testing.T) {
	bars := risingBars(30)
	cfg := GridConfig{Objective: "total_return"}

	a, err := GridSearch(context.Background(), exiter{}, bars, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := GridSearch(context.Background(), exiter{}, bars, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if !reflect.DeepEqual(a.Best.Params, b.Best.Params) {
		t.Errorf("best params differ across runs: %v vs %v", a.Best.Params, b.Best.Params)
	}
	if len(a.Results) != len(b.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(a.Results), len(b.Results))
	}
	for i := range a.Results {
		if a.Results[i].Score != b.Results[i].Score || a.Results[i].Rank != b.Results[i].Rank {
			t.Errorf("rank %d differs across runs", i+1)
		}
	}
}

func TestGridSearchRanking(t *testing.T) {
	bars := risingBars(30)

	res, err := GridSearch(context.Background(), exiter{}, bars, GridConfig{})
	if err != nil {
		t.Fatalf("GridSearch: %v", err)
	}
	// Later exits ride the uptrend longer, so exit_bar=15 must win.
	if !almost(res.Best.Params["exit_bar"], 15, 1e-9) {
		t.Errorf("best exit_bar = %v, want 15", res.Best.Params["exit_bar"])
	}
	if len(res.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(res.Results))
	}
	for i := 1; i < len(res.Results); i++ {
		if res.Results[i].Score > res.Results[i-1].Score {
			t.Errorf("results not sorted descending at rank %d", i+1)
		}
		if res.Results[i].Rank != i+1 {
			t.Errorf("rank = %d, want %d", res.Results[i].Rank, i+1)
		}
	}
	if res.Best.Score != res.Results[0].Score {
		t.Error("best should match the top-ranked result")
	}
}

func TestGridSearchNoValidCombination(t *testing.T) {
	bars := zigzagBars(10)

	_, err := GridSearch(context.Background(), silent{}, bars, GridConfig{})
	if !errors.Is(err, ErrNoValidCombination) {
		t.Errorf("err = %v, want ErrNoValidCombination", err)
	}
}

func TestGridSearchInvalidRange(t *testing.T) {
	bars := zigzagBars(10)

	_, err := GridSearch(context.Background(), roundTripper{}, bars, GridConfig{
		Ranges: []strategy.ParameterRange{{Name: "p", Min: 1, Max: 5, Step: 0}},
	})
	if err == nil {
		t.Error("zero step should be rejected")
	}

	_, err = GridSearch(context.Background(), roundTripper{}, bars, GridConfig{
		Ranges: []strategy.ParameterRange{{Name: "p", Min: 5, Max: 1, Step: 1}},
	})
	if err == nil {
		t.Error("min > max should be rejected")
	}
}

func TestGridSearchCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := GridSearch(ctx, roundTripper{}, zigzagBars(10), GridConfig{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGridIterator(t *testing.T) {
	it, err := newGridIterator([]strategy.ParameterRange{
		{Name: "a", Min: 1, Max: 2, Step: 1},
		{Name: "b", Min: 0.1, Max: 0.3, Step: 0.1},
	})
	if err != nil {
		t.Fatalf("newGridIterator: %v", err)
	}
	if it.Total() != 6 {
		t.Fatalf("Total = %d, want 6", it.Total())
	}

	seen := map[[2]float64]bool{}
	for {
		p, ok := it.Next()
		if !ok {
			break
		}
		seen[[2]float64{p["a"], p["b"]}] = true
	}
	if len(seen) != 6 {
		t.Errorf("distinct combinations = %d, want 6", len(seen))
	}
	// Rounded to 3 decimals despite float stepping.
	if !seen[[2]float64{2, 0.3}] {
		t.Errorf("combination {2, 0.3} missing, got %v", seen)
	}

	it.Reset()
	if _, ok := it.Next(); !ok {
		t.Error("Reset should rewind the iterator")
	}
}

func TestRound3(t *testing.T) {
	if got := round3(0.1 + 0.2); got != 0.3 {
		t.Errorf("round3(0.1+0.2) = %v, want 0.3", got)
	}
}
