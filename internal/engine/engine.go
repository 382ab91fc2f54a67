// Package engine is the facade tying strategies, stored bars, and the
// optimizers together. It resolves each request to a bar series and a
// strategy, runs the requested computation, and persists a run record.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"backlab/internal/backtest"
	"backlab/internal/config"
	"backlab/internal/domain"
	"backlab/internal/optimize"
	"backlab/internal/paramstore"
	"backlab/internal/store"
	"backlab/internal/strategy"
)

// Engine runs backtests and optimizations against stored bar data.
type Engine struct {
	cfg      *config.Config
	registry *strategy.Registry
	bars     store.BarStore
	runs     store.RunStore    // may be nil: runs are not persisted
	params   *paramstore.Store // may be nil: best params are not published
	log      *slog.Logger
}

// New creates an Engine. runs and params may be nil to disable persistence
// and parameter publishing respectively.
func New(cfg *config.Config, registry *strategy.Registry, bars store.BarStore, runs store.RunStore, params *paramstore.Store, log *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		bars:     bars,
		runs:     runs,
		params:   params,
		log:      log,
	}
}

// Series identifies a bar series to load: a symbol within a market over a
// date range.
type Series struct {
	Symbol string    `json:"symbol"`
	Market string    `json:"market"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

func (s Series) withDefaults() Series {
	if s.Market == "" {
		s.Market = string(domain.MarketUS)
	}
	if s.End.IsZero() {
		s.End = time.Now().UTC()
	}
	if s.Start.IsZero() {
		s.Start = s.End.AddDate(-5, 0, 0)
	}
	return s
}

// backtestConfig maps the configured executor defaults.
func (e *Engine) backtestConfig() backtest.Config {
	return backtest.Config{
		InitialCapital: e.cfg.Backtest.InitialCapital,
		PeriodsPerYear: e.cfg.Backtest.PeriodsPerYear,
		RiskFreeRate:   e.cfg.Backtest.RiskFreeRate,
	}
}

func (e *Engine) loadBars(ctx context.Context, s Series) ([]domain.Bar, error) {
	bars, err := e.bars.ReadBars(ctx, s.Symbol, s.Market, s.Start, s.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", s.Symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s/%s in [%s, %s]",
			s.Market, s.Symbol, s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
	}
	return bars, nil
}

func (e *Engine) resolveStrategy(name string) (strategy.Strategy, error) {
	strat, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, e.registry.List())
	}
	return strat, nil
}

// resolveParams picks explicit params when given, then previously optimized
// params from the param store, then the strategy's declared defaults.
func (e *Engine) resolveParams(strat strategy.Strategy, symbol string, explicit strategy.Params) strategy.Params {
	if len(explicit) > 0 {
		return explicit
	}
	if e.params != nil {
		if stored := e.params.Get(strat.Name(), symbol); len(stored) > 0 {
			return stored
		}
	}
	return strategy.DefaultParams(strat)
}

// record persists a run summary. Persistence failures are logged, never
// surfaced: the computation already succeeded.
func (e *Engine) record(ctx context.Context, kind domain.RunKind, strategyName, symbol string, params, result any) string {
	id := fmt.Sprintf("%s-%d", kind, time.Now().UnixNano())
	if e.runs == nil {
		return id
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		e.log.Error("marshalling run params", "kind", kind, "error", err)
		return id
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		e.log.Error("marshalling run result", "kind", kind, "error", err)
		return id
	}
	rec := &domain.RunRecord{
		ID:        id,
		Kind:      kind,
		Strategy:  strategyName,
		Symbol:    symbol,
		CreatedAt: time.Now().UTC(),
		Params:    string(paramsJSON),
		Result:    string(resultJSON),
	}
	if err := e.runs.SaveRun(ctx, rec); err != nil {
		e.log.Error("saving run record", "id", id, "error", err)
	}
	return id
}

// ---------------------------------------------------------------------------
// Backtest
// ---------------------------------------------------------------------------

// BacktestRequest runs a single strategy over one bar series.
type BacktestRequest struct {
	Strategy string          `json:"strategy"`
	Series   Series          `json:"series"`
	Params   strategy.Params `json:"params,omitempty"`
}

// BacktestResponse is the run result plus the resolved inputs.
type BacktestResponse struct {
	RunID    string          `json:"run_id"`
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Params   strategy.Params `json:"params"`
	Result   backtest.Result `json:"result"`
}

// RunBacktest executes one backtest and persists its summary.
func (e *Engine) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	strat, err := e.resolveStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	series := req.Series.withDefaults()
	bars, err := e.loadBars(ctx, series)
	if err != nil {
		return nil, err
	}
	params := e.resolveParams(strat, series.Symbol, req.Params)

	result := backtest.Execute(bars, strat.GenerateSignals(bars, params), e.backtestConfig())
	e.log.Info("backtest complete",
		"strategy", strat.Name(), "symbol", series.Symbol,
		"bars", len(bars), "trades", result.Metrics.TotalTrades,
		"return_pct", result.Metrics.TotalReturnPct)

	id := e.record(ctx, domain.RunBacktest, strat.Name(), series.Symbol, params, result.Metrics)
	return &BacktestResponse{
		RunID:    id,
		Strategy: strat.Name(),
		Symbol:   series.Symbol,
		Params:   params,
		Result:   result,
	}, nil
}

// ---------------------------------------------------------------------------
// Grid search
// ---------------------------------------------------------------------------

// GridSearchRequest optimizes a strategy's parameters over one bar series.
type GridSearchRequest struct {
	Strategy  string                    `json:"strategy"`
	Series    Series                    `json:"series"`
	Ranges    []strategy.ParameterRange `json:"ranges,omitempty"`
	Objective string                    `json:"objective,omitempty"`
	// Publish stores the best parameters in the param store on success.
	Publish bool `json:"publish,omitempty"`
}

// GridSearchResponse is the ranked search result.
type GridSearchResponse struct {
	RunID    string               `json:"run_id"`
	Strategy string               `json:"strategy"`
	Symbol   string               `json:"symbol"`
	Result   *optimize.GridResult `json:"result"`
}

// RunGridSearch runs a grid search, persists the summary, and optionally
// publishes the best parameters.
func (e *Engine) RunGridSearch(ctx context.Context, req GridSearchRequest) (*GridSearchResponse, error) {
	strat, err := e.resolveStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	objective, err := backtest.ParseObjective(req.Objective)
	if err != nil {
		return nil, err
	}
	series := req.Series.withDefaults()
	bars, err := e.loadBars(ctx, series)
	if err != nil {
		return nil, err
	}

	result, err := optimize.GridSearch(ctx, strat, bars, optimize.GridConfig{
		Ranges:          req.Ranges,
		Objective:       objective,
		MaxCombinations: e.cfg.Optimizer.MaxCombinations,
		TopK:            e.cfg.Optimizer.TopK,
		MinTrades:       e.cfg.Optimizer.MinTrades,
		Backtest:        e.backtestConfig(),
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("grid search complete",
		"strategy", strat.Name(), "symbol", series.Symbol,
		"executed", result.ExecutedCombinations, "total", result.TotalCombinations,
		"best_score", result.Best.Score)

	if req.Publish && e.params != nil {
		e.params.Set(strat.Name(), series.Symbol, result.Best.Params)
	}

	id := e.record(ctx, domain.RunGridSearch, strat.Name(), series.Symbol, req.Ranges, result.Best)
	return &GridSearchResponse{RunID: id, Strategy: strat.Name(), Symbol: series.Symbol, Result: result}, nil
}

// ---------------------------------------------------------------------------
// Monte Carlo
// ---------------------------------------------------------------------------

// MonteCarloRequest resamples the trades of a backtest run.
type MonteCarloRequest struct {
	Strategy   string          `json:"strategy"`
	Series     Series          `json:"series"`
	Params     strategy.Params `json:"params,omitempty"`
	Method     string          `json:"method,omitempty"` // shuffle | bootstrap
	Runs       int             `json:"runs,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Seed       int64           `json:"seed,omitempty"`
}

// MonteCarloResponse carries the distribution summary plus the metrics of
// the underlying single-path backtest.
type MonteCarloResponse struct {
	RunID    string                     `json:"run_id"`
	Strategy string                     `json:"strategy"`
	Symbol   string                     `json:"symbol"`
	Baseline backtest.Metrics           `json:"baseline"`
	Result   *optimize.MonteCarloResult `json:"result"`
}

// RunMonteCarlo backtests the strategy, then resamples its trade sequence.
func (e *Engine) RunMonteCarlo(ctx context.Context, req MonteCarloRequest) (*MonteCarloResponse, error) {
	bt, err := e.RunBacktest(ctx, BacktestRequest{Strategy: req.Strategy, Series: req.Series, Params: req.Params})
	if err != nil {
		return nil, err
	}

	result, err := optimize.MonteCarlo(bt.Result.Trades, optimize.MonteCarloConfig{
		Method:          optimize.SimMethod(req.Method),
		Runs:            firstPositive(req.Runs, e.cfg.Optimizer.MonteCarloRuns),
		InitialCapital:  e.cfg.Backtest.InitialCapital,
		ConfidenceLevel: req.Confidence,
		Seed:            req.Seed,
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("monte carlo complete",
		"strategy", bt.Strategy, "symbol", bt.Symbol,
		"method", result.Method, "runs", result.Runs,
		"mean_return_pct", result.Returns.Mean)

	id := e.record(ctx, domain.RunMonteCarlo, bt.Strategy, bt.Symbol, bt.Params, result)
	return &MonteCarloResponse{
		RunID:    id,
		Strategy: bt.Strategy,
		Symbol:   bt.Symbol,
		Baseline: bt.Result.Metrics,
		Result:   result,
	}, nil
}

// ---------------------------------------------------------------------------
// Walk-forward
// ---------------------------------------------------------------------------

// WalkForwardRequest validates a strategy across train/test windows.
type WalkForwardRequest struct {
	Strategy    string                    `json:"strategy"`
	Series      Series                    `json:"series"`
	Ranges      []strategy.ParameterRange `json:"ranges,omitempty"`
	Objective   string                    `json:"objective,omitempty"`
	WindowCount int                       `json:"window_count,omitempty"`
	TrainRatio  float64                   `json:"train_ratio,omitempty"`
	Anchored    bool                      `json:"anchored,omitempty"`
}

// WalkForwardResponse is the validation outcome.
type WalkForwardResponse struct {
	RunID    string                      `json:"run_id"`
	Strategy string                      `json:"strategy"`
	Symbol   string                      `json:"symbol"`
	Result   *optimize.WalkForwardResult `json:"result"`
}

// RunWalkForward runs walk-forward validation and persists its summary.
func (e *Engine) RunWalkForward(ctx context.Context, req WalkForwardRequest) (*WalkForwardResponse, error) {
	strat, err := e.resolveStrategy(req.Strategy)
	if err != nil {
		return nil, err
	}
	objective, err := backtest.ParseObjective(req.Objective)
	if err != nil {
		return nil, err
	}
	series := req.Series.withDefaults()
	bars, err := e.loadBars(ctx, series)
	if err != nil {
		return nil, err
	}

	result, err := optimize.WalkForward(ctx, strat, bars, optimize.WalkForwardConfig{
		Ranges:      req.Ranges,
		Objective:   objective,
		WindowCount: req.WindowCount,
		TrainRatio:  req.TrainRatio,
		Anchored:    req.Anchored,
		MinTrades:   e.cfg.Optimizer.MinTrades,
		Backtest:    e.backtestConfig(),
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("walk-forward complete",
		"strategy", strat.Name(), "symbol", series.Symbol,
		"windows", len(result.Windows), "overfit_ratio", result.OverfitRatio,
		"risk", result.RiskLevel)

	id := e.record(ctx, domain.RunWalkForward, strat.Name(), series.Symbol, req.Ranges, result)
	return &WalkForwardResponse{RunID: id, Strategy: strat.Name(), Symbol: series.Symbol, Result: result}, nil
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// PortfolioLeg is one strategy/symbol pair entering a portfolio optimization.
type PortfolioLeg struct {
	Strategy string          `json:"strategy"`
	Series   Series          `json:"series"`
	Params   strategy.Params `json:"params,omitempty"`
}

// PortfolioRequest optimizes weights across several backtested legs.
type PortfolioRequest struct {
	Legs           []PortfolioLeg `json:"legs"`
	Method         string         `json:"method,omitempty"`
	MinWeight      float64        `json:"min_weight,omitempty"`
	MaxWeight      float64        `json:"max_weight,omitempty"`
	FrontierPoints int            `json:"frontier_points,omitempty"`
	Seed           int64          `json:"seed,omitempty"`
}

// PortfolioResponse is the weight allocation outcome.
type PortfolioResponse struct {
	RunID  string                    `json:"run_id"`
	Result *optimize.PortfolioResult `json:"result"`
}

// RunPortfolio backtests every leg, derives return series from the equity
// curves, and optimizes the weight allocation.
func (e *Engine) RunPortfolio(ctx context.Context, req PortfolioRequest) (*PortfolioResponse, error) {
	if len(req.Legs) < 2 {
		return nil, fmt.Errorf("portfolio optimization requires at least 2 legs, got %d", len(req.Legs))
	}

	assets := make([]optimize.Asset, 0, len(req.Legs))
	for _, leg := range req.Legs {
		bt, err := e.RunBacktest(ctx, BacktestRequest{Strategy: leg.Strategy, Series: leg.Series, Params: leg.Params})
		if err != nil {
			return nil, fmt.Errorf("leg %s/%s: %w", leg.Strategy, leg.Series.Symbol, err)
		}
		assets = append(assets, optimize.Asset{
			ID:          leg.Strategy + "/" + bt.Symbol,
			EquityCurve: bt.Result.EquityCurve,
		})
	}

	result, err := optimize.OptimizePortfolio(assets, optimize.PortfolioConfig{
		Method:         optimize.AllocationMethod(req.Method),
		RiskFreeRate:   e.cfg.Backtest.RiskFreeRate,
		MinWeight:      req.MinWeight,
		MaxWeight:      req.MaxWeight,
		PeriodsPerYear: e.cfg.Backtest.PeriodsPerYear,
		RandomDraws:    e.cfg.Optimizer.RandomDraws,
		FrontierPoints: req.FrontierPoints,
		Seed:           req.Seed,
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("portfolio optimization complete",
		"method", result.Method, "assets", len(result.Assets),
		"sharpe", result.Combined.SharpeRatio)

	id := e.record(ctx, domain.RunPortfolio, "", "", req, result)
	return &PortfolioResponse{RunID: id, Result: result}, nil
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
