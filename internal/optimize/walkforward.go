package optimize

import (
	"context"
	"fmt"
	"math"

	"backlab/internal/backtest"
	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// OverfitRatioCap stands in for an infinite overfit ratio when the average
// out-of-sample score is not positive.
const OverfitRatioCap = 999

// aggregateProfitFactorCap keeps a single infinite-sentinel profit factor
// from dominating the cross-window averages.
const aggregateProfitFactorCap = 100

// WalkForwardConfig configures a walk-forward validation run.
type WalkForwardConfig struct {
	// Ranges are the parameter axes optimized per window. Empty falls back
	// to the strategy's declared ranges.
	Ranges []strategy.ParameterRange
	// Objective scores both the in-sample optimization and the
	// out-of-sample evaluation. Empty defaults to total return.
	Objective backtest.Objective
	// WindowCount is the number of train/test windows, between 2 and 10.
	// Defaults to 5.
	WindowCount int
	// TrainRatio is the in-sample share of each window, between 0.5 and
	// 0.9. Defaults to 0.7.
	TrainRatio float64
	// Anchored grows every train segment from bar 0 instead of rolling it
	// forward.
	Anchored bool
	// MaxCombinations caps the per-window grid search, at most 1000.
	MaxCombinations int
	// MinTrades is forwarded to the per-window grid search.
	MinTrades int
	// Backtest carries capital and annualization settings.
	Backtest backtest.Config
}

func (c WalkForwardConfig) withDefaults() WalkForwardConfig {
	if c.Objective == "" {
		c.Objective = backtest.ObjectiveTotalReturn
	}
	if c.WindowCount == 0 {
		c.WindowCount = 5
	}
	if c.TrainRatio == 0 {
		c.TrainRatio = 0.7
	}
	if c.MaxCombinations <= 0 || c.MaxCombinations > 1000 {
		c.MaxCombinations = 1000
	}
	return c
}

// Window is one train/test split with its per-segment outcome. Index bounds
// are half-open bar offsets into the input series.
type Window struct {
	Index      int `json:"index"`
	TrainStart int `json:"train_start"`
	TrainEnd   int `json:"train_end"`
	TestStart  int `json:"test_start"`
	TestEnd    int `json:"test_end"`

	BestParams   strategy.Params  `json:"best_params"`
	TrainMetrics backtest.Metrics `json:"train_metrics"`
	TestMetrics  backtest.Metrics `json:"test_metrics"`
	TrainScore   float64          `json:"train_score"`
	TestScore    float64          `json:"test_score"`
}

// Aggregates averages window outcomes separately for train and test.
type Aggregates struct {
	TrainWinRate      float64 `json:"train_win_rate"`
	TestWinRate       float64 `json:"test_win_rate"`
	TrainReturn       float64 `json:"train_return"`
	TestReturn        float64 `json:"test_return"`
	TrainProfitFactor float64 `json:"train_profit_factor"`
	TestProfitFactor  float64 `json:"test_profit_factor"`
	TrainSharpe       float64 `json:"train_sharpe"`
	TestSharpe        float64 `json:"test_sharpe"`
	TrainScore        float64 `json:"train_score"`
	TestScore         float64 `json:"test_score"`
}

// WalkForwardResult is the full validation outcome.
type WalkForwardResult struct {
	Objective  backtest.Objective `json:"objective"`
	Anchored   bool               `json:"anchored"`
	Windows    []Window           `json:"windows"`
	Aggregates Aggregates         `json:"aggregates"`
	// OverfitRatio is avg in-sample score over avg out-of-sample score.
	OverfitRatio float64 `json:"overfit_ratio"`
	// Consistency is the share of windows with a positive test return.
	Consistency float64 `json:"consistency"`
	// RobustnessScore blends consistency, test performance, and the
	// overfit penalty into a 0-100 score.
	RobustnessScore float64 `json:"robustness_score"`
	RiskLevel       string  `json:"risk_level"`
	Recommendation  string  `json:"recommendation"`
}

// WalkForward partitions the bar series into chronological train/test
// windows, re-optimizes parameters on each train segment, evaluates them on
// the untouched test segment, and scores in-sample vs out-of-sample
// degradation. Test bars never participate in parameter selection.
func WalkForward(ctx context.Context, strat strategy.Strategy, bars []domain.Bar, cfg WalkForwardConfig) (*WalkForwardResult, error) {
	cfg = cfg.withDefaults()
	if len(bars) < 100 {
		return nil, fmt.Errorf("walk-forward requires at least 100 bars, got %d", len(bars))
	}
	if cfg.WindowCount < 2 || cfg.WindowCount > 10 {
		return nil, fmt.Errorf("window count must be between 2 and 10, got %d", cfg.WindowCount)
	}
	if cfg.TrainRatio < 0.5 || cfg.TrainRatio > 0.9 {
		return nil, fmt.Errorf("train ratio must be between 0.5 and 0.9, got %v", cfg.TrainRatio)
	}

	windowLen := len(bars) / cfg.WindowCount
	trainLen := int(cfg.TrainRatio * float64(windowLen))
	testLen := windowLen - trainLen
	if trainLen < 30 {
		return nil, fmt.Errorf("train segment of %d bars is below the 30-bar minimum", trainLen)
	}
	if testLen < 10 {
		return nil, fmt.Errorf("test segment of %d bars is below the 10-bar minimum", testLen)
	}

	res := &WalkForwardResult{Objective: cfg.Objective, Anchored: cfg.Anchored}
	for w := 0; w < cfg.WindowCount; w++ {
		win := Window{
			Index:      w,
			TrainStart: w * windowLen,
			TrainEnd:   w*windowLen + trainLen,
			TestStart:  w*windowLen + trainLen,
			TestEnd:    (w + 1) * windowLen,
		}
		if cfg.Anchored {
			win.TrainStart = 0
		}

		trainBars := bars[win.TrainStart:win.TrainEnd]
		testBars := bars[win.TestStart:win.TestEnd]

		grid, err := GridSearch(ctx, strat, trainBars, GridConfig{
			Ranges:          cfg.Ranges,
			Objective:       cfg.Objective,
			MaxCombinations: cfg.MaxCombinations,
			MinTrades:       cfg.MinTrades,
			Backtest:        cfg.Backtest,
		})
		if err != nil {
			return nil, fmt.Errorf("window %d train optimization: %w", w, err)
		}
		win.BestParams = grid.Best.Params
		win.TrainMetrics = grid.Best.Metrics
		win.TrainScore = grid.Best.Score

		testRun := backtest.Execute(testBars, strat.GenerateSignals(testBars, win.BestParams), cfg.Backtest)
		win.TestMetrics = testRun.Metrics
		win.TestScore = cfg.Objective.Score(testRun.Metrics)

		res.Windows = append(res.Windows, win)
	}

	res.Aggregates = aggregate(res.Windows)
	res.OverfitRatio = overfitRatio(res.Aggregates.TrainScore, res.Aggregates.TestScore)
	res.Consistency = consistency(res.Windows)
	res.RobustnessScore = robustness(res.Consistency, res.Aggregates.TestReturn, res.OverfitRatio)
	res.RiskLevel, res.Recommendation = classifyRisk(res.OverfitRatio, res.Consistency, res.RobustnessScore)
	return res, nil
}

func aggregate(windows []Window) Aggregates {
	var a Aggregates
	n := float64(len(windows))
	for _, w := range windows {
		a.TrainWinRate += w.TrainMetrics.WinRate / n
		a.TestWinRate += w.TestMetrics.WinRate / n
		a.TrainReturn += w.TrainMetrics.TotalReturnPct / n
		a.TestReturn += w.TestMetrics.TotalReturnPct / n
		a.TrainProfitFactor += math.Min(w.TrainMetrics.ProfitFactor, aggregateProfitFactorCap) / n
		a.TestProfitFactor += math.Min(w.TestMetrics.ProfitFactor, aggregateProfitFactorCap) / n
		a.TrainSharpe += w.TrainMetrics.SharpeRatio / n
		a.TestSharpe += w.TestMetrics.SharpeRatio / n
		a.TrainScore += w.TrainScore / n
		a.TestScore += w.TestScore / n
	}
	return a
}

func overfitRatio(avgTrain, avgTest float64) float64 {
	if avgTest <= 0 {
		return OverfitRatioCap
	}
	return avgTrain / avgTest
}

func consistency(windows []Window) float64 {
	var positive int
	for _, w := range windows {
		if w.TestMetrics.TotalReturnPct > 0 {
			positive++
		}
	}
	return float64(positive) / float64(len(windows)) * 100
}

// robustness blends three equally weighted 0-100 terms: consistency, the
// clamped average test return, and an overfit penalty that pays full credit
// at ratio<=1, decays linearly to zero at ratio 2, and stays zero beyond.
func robustness(consistency, avgTestReturn, ratio float64) float64 {
	perf := math.Max(0, math.Min(100, avgTestReturn))

	var overfit float64
	switch {
	case ratio <= 1:
		overfit = 100
	case ratio <= 2:
		overfit = 100 * (2 - ratio)
	}
	return (consistency + perf + overfit) / 3
}

func classifyRisk(ratio, consistency, robustness float64) (level, recommendation string) {
	switch {
	case ratio <= 1.3 && consistency >= 70 && robustness >= 60:
		return "low", "parameters hold up out of sample; suitable for forward testing"
	case ratio <= 2.0 && consistency >= 50 && robustness >= 40:
		return "medium", "moderate in-sample to out-of-sample degradation; widen the test windows or simplify the parameter space before deploying"
	}
	switch {
	case ratio > 2.0:
		return "high", "in-sample score is more than twice the out-of-sample score; the parameters are likely overfit to the training data"
	case consistency < 50:
		return "high", "fewer than half the test windows were profitable; the edge is not consistent across time"
	default:
		return "high", "low robustness score; treat these parameters as unreliable"
	}
}
