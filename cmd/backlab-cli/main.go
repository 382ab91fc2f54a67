package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"backlab/internal/engine"
	"backlab/internal/strategy"
	"backlab/pkg/backlab"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: backlab-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version       Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  strategies    List registered strategies\n")
		fmt.Fprintf(os.Stderr, "  symbols       List stored symbols\n")
		fmt.Fprintf(os.Stderr, "  runs          List persisted runs\n")
		fmt.Fprintf(os.Stderr, "  backtest      Run a single backtest\n")
		fmt.Fprintf(os.Stderr, "  grid-search   Optimize strategy parameters\n")
		fmt.Fprintf(os.Stderr, "  monte-carlo   Resample a backtest's trades\n")
		fmt.Fprintf(os.Stderr, "  walk-forward  Validate across train/test windows\n")
		fmt.Fprintf(os.Stderr, "  portfolio     Optimize weights across strategies\n")
		fmt.Fprintf(os.Stderr, "\nServer address comes from -server or BACKLAB_SERVER (default http://127.0.0.1:8420).\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "version":
		fmt.Printf("backlab-cli %s\n", version)

	case "strategies":
		err = runStrategies(ctx, args)
	case "symbols":
		err = runSymbols(ctx, args)
	case "runs":
		err = runRuns(ctx, args)
	case "backtest":
		err = runBacktest(ctx, args)
	case "grid-search":
		err = runGridSearch(ctx, args)
	case "monte-carlo":
		err = runMonteCarlo(ctx, args)
	case "walk-forward":
		err = runWalkForward(ctx, args)
	case "portfolio":
		err = runPortfolio(ctx, args)

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	server := fs.String("server", defaultServer(), "backlab-server base URL")
	return fs, server
}

func defaultServer() string {
	if s := os.Getenv("BACKLAB_SERVER"); s != "" {
		return s
	}
	return "http://127.0.0.1:8420"
}

// seriesFlags registers the shared symbol/market/date flags.
func seriesFlags(fs *flag.FlagSet) (symbol, market, start, end *string) {
	symbol = fs.String("symbol", "", "symbol to test (required)")
	market = fs.String("market", "us", "market the symbol trades on")
	start = fs.String("start", "", "start date YYYY-MM-DD (default 5 years back)")
	end = fs.String("end", "", "end date YYYY-MM-DD (default today)")
	return
}

func buildSeries(symbol, market, start, end string) (engine.Series, error) {
	if symbol == "" {
		return engine.Series{}, fmt.Errorf("-symbol is required")
	}
	s := engine.Series{Symbol: strings.ToUpper(symbol), Market: market}
	var err error
	if start != "" {
		if s.Start, err = time.Parse("2006-01-02", start); err != nil {
			return engine.Series{}, fmt.Errorf("parsing -start: %w", err)
		}
	}
	if end != "" {
		if s.End, err = time.Parse("2006-01-02", end); err != nil {
			return engine.Series{}, fmt.Errorf("parsing -end: %w", err)
		}
	}
	return s, nil
}

// parseParams parses "name=value,name=value" into strategy params.
func parseParams(s string) (strategy.Params, error) {
	if s == "" {
		return nil, nil
	}
	params := strategy.Params{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", pair)
		}
		var v float64
		if _, err := fmt.Sscanf(value, "%g", &v); err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", pair, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	return params, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runStrategies(ctx context.Context, args []string) error {
	fs, server := newFlagSet("strategies")
	fs.Parse(args)

	infos, err := backlab.NewClient(*server).Strategies(ctx)
	if err != nil {
		return err
	}
	return printJSON(infos)
}

func runSymbols(ctx context.Context, args []string) error {
	fs, server := newFlagSet("symbols")
	market := fs.String("market", "us", "market to list")
	fs.Parse(args)

	symbols, err := backlab.NewClient(*server).Symbols(ctx, *market)
	if err != nil {
		return err
	}
	for _, s := range symbols {
		fmt.Println(s)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs, server := newFlagSet("runs")
	kind := fs.String("kind", "", "filter by run kind")
	limit := fs.Int("limit", 20, "maximum records")
	fs.Parse(args)

	runs, err := backlab.NewClient(*server).Runs(ctx, *kind, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%-32s %-13s %-14s %-8s %s\n",
			r.ID, r.Kind, r.Strategy, r.Symbol, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runBacktest(ctx context.Context, args []string) error {
	fs, server := newFlagSet("backtest")
	strategyName := fs.String("strategy", "", "strategy name (required)")
	symbol, market, start, end := seriesFlags(fs)
	paramsFlag := fs.String("params", "", "explicit parameters, e.g. short_period=10,long_period=50")
	fs.Parse(args)

	if *strategyName == "" {
		return fmt.Errorf("-strategy is required")
	}
	series, err := buildSeries(*symbol, *market, *start, *end)
	if err != nil {
		return err
	}
	params, err := parseParams(*paramsFlag)
	if err != nil {
		return err
	}

	resp, err := backlab.NewClient(*server).Backtest(ctx, engine.BacktestRequest{
		Strategy: *strategyName,
		Series:   series,
		Params:   params,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", resp.RunID)
	return printJSON(resp.Result.Metrics)
}

func runGridSearch(ctx context.Context, args []string) error {
	fs, server := newFlagSet("grid-search")
	strategyName := fs.String("strategy", "", "strategy name (required)")
	symbol, market, start, end := seriesFlags(fs)
	objective := fs.String("objective", "", "ranking objective: win_rate, total_return, profit_factor, sharpe")
	publish := fs.Bool("publish", false, "store the best parameters on the server")
	top := fs.Int("top", 10, "candidates to print")
	fs.Parse(args)

	if *strategyName == "" {
		return fmt.Errorf("-strategy is required")
	}
	series, err := buildSeries(*symbol, *market, *start, *end)
	if err != nil {
		return err
	}

	resp, err := backlab.NewClient(*server).GridSearch(ctx, engine.GridSearchRequest{
		Strategy:  *strategyName,
		Series:    series,
		Objective: *objective,
		Publish:   *publish,
	})
	if err != nil {
		return err
	}

	r := resp.Result
	fmt.Printf("run: %s  evaluated %d/%d combinations (%d skipped)\n",
		resp.RunID, r.ExecutedCombinations, r.TotalCombinations, r.SkippedCombinations)
	n := *top
	if n > len(r.Results) {
		n = len(r.Results)
	}
	for _, c := range r.Results[:n] {
		fmt.Printf("#%-3d score=%-10.4f trades=%-4d %v\n",
			c.Rank, c.Score, c.Metrics.TotalTrades, c.Params)
	}
	return nil
}

func runMonteCarlo(ctx context.Context, args []string) error {
	fs, server := newFlagSet("monte-carlo")
	strategyName := fs.String("strategy", "", "strategy name (required)")
	symbol, market, start, end := seriesFlags(fs)
	paramsFlag := fs.String("params", "", "explicit parameters")
	method := fs.String("method", "shuffle", "resampling method: shuffle or bootstrap")
	runs := fs.Int("runs", 0, "simulation runs (default from server config)")
	seed := fs.Int64("seed", 0, "random seed, 0 for nondeterministic")
	fs.Parse(args)

	if *strategyName == "" {
		return fmt.Errorf("-strategy is required")
	}
	series, err := buildSeries(*symbol, *market, *start, *end)
	if err != nil {
		return err
	}
	params, err := parseParams(*paramsFlag)
	if err != nil {
		return err
	}

	resp, err := backlab.NewClient(*server).MonteCarlo(ctx, engine.MonteCarloRequest{
		Strategy: *strategyName,
		Series:   series,
		Params:   params,
		Method:   *method,
		Runs:     *runs,
		Seed:     *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run: %s  baseline return %.2f%% over %d trades\n",
		resp.RunID, resp.Baseline.TotalReturnPct, resp.Baseline.TotalTrades)
	return printJSON(resp.Result)
}

func runWalkForward(ctx context.Context, args []string) error {
	fs, server := newFlagSet("walk-forward")
	strategyName := fs.String("strategy", "", "strategy name (required)")
	symbol, market, start, end := seriesFlags(fs)
	objective := fs.String("objective", "", "ranking objective")
	windows := fs.Int("windows", 0, "window count (default 5)")
	trainRatio := fs.Float64("train-ratio", 0, "train fraction of each window (default 0.7)")
	anchored := fs.Bool("anchored", false, "grow the train set instead of rolling")
	fs.Parse(args)

	if *strategyName == "" {
		return fmt.Errorf("-strategy is required")
	}
	series, err := buildSeries(*symbol, *market, *start, *end)
	if err != nil {
		return err
	}

	resp, err := backlab.NewClient(*server).WalkForward(ctx, engine.WalkForwardRequest{
		Strategy:    *strategyName,
		Series:      series,
		Objective:   *objective,
		WindowCount: *windows,
		TrainRatio:  *trainRatio,
		Anchored:    *anchored,
	})
	if err != nil {
		return err
	}

	r := resp.Result
	fmt.Printf("run: %s  windows=%d overfit=%.2f robustness=%.1f risk=%s\n",
		resp.RunID, len(r.Windows), r.OverfitRatio, r.RobustnessScore, r.RiskLevel)
	fmt.Println(r.Recommendation)
	return printJSON(r.Aggregates)
}

func runPortfolio(ctx context.Context, args []string) error {
	fs, server := newFlagSet("portfolio")
	legsFlag := fs.String("legs", "", "comma-separated strategy:symbol legs, e.g. sma_cross:AAPL,rsi_reversal:MSFT (required)")
	market := fs.String("market", "us", "market for every leg")
	method := fs.String("method", "max_sharpe", "allocation method: equal, risk_parity, max_sharpe, min_variance, max_return")
	minWeight := fs.Float64("min-weight", 0, "minimum weight per leg")
	maxWeight := fs.Float64("max-weight", 0, "maximum weight per leg")
	seed := fs.Int64("seed", 0, "random seed for weight search")
	fs.Parse(args)

	if *legsFlag == "" {
		return fmt.Errorf("-legs is required")
	}
	var legs []engine.PortfolioLeg
	for _, spec := range strings.Split(*legsFlag, ",") {
		strategyName, symbol, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("invalid leg %q, want strategy:symbol", spec)
		}
		legs = append(legs, engine.PortfolioLeg{
			Strategy: strategyName,
			Series:   engine.Series{Symbol: strings.ToUpper(symbol), Market: *market},
		})
	}

	resp, err := backlab.NewClient(*server).Portfolio(ctx, engine.PortfolioRequest{
		Legs:      legs,
		Method:    *method,
		MinWeight: *minWeight,
		MaxWeight: *maxWeight,
		Seed:      *seed,
	})
	if err != nil {
		return err
	}

	r := resp.Result
	fmt.Printf("run: %s  method=%s\n", resp.RunID, r.Method)
	for i, id := range r.Assets {
		fmt.Printf("  %-30s %.1f%%\n", id, r.Weights[i]*100)
	}
	return printJSON(r.Combined)
}
