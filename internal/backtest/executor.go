// Package backtest converts strategy signals into realized trades, an equity
// curve, and performance metrics. Everything here is pure and deterministic;
// the optimizers in internal/optimize are built on top of Execute.
package backtest

import (
	"time"

	"backlab/internal/domain"
)

const dateLayout = "2006-01-02"

// Config carries the execution parameters shared by the executor and the
// metrics calculator.
type Config struct {
	// InitialCapital is the starting account value. Defaults to 100000.
	InitialCapital float64
	// PeriodsPerYear annualizes Sharpe and volatility. Defaults to 252
	// (daily bars); set to the actual sampling frequency for other series.
	PeriodsPerYear float64
	// RiskFreeRate is the annual risk-free rate subtracted from returns
	// when computing Sharpe, e.g. 0.02 for 2%.
	RiskFreeRate float64
}

func (c Config) withDefaults() Config {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = 252
	}
	return c
}

// Result is the output of a single backtest run.
type Result struct {
	Trades      []domain.Trade       `json:"trades"`
	EquityCurve []domain.EquityPoint `json:"equity_curve"`
	Metrics     Metrics              `json:"metrics"`
}

// Execute replays signals against the bar series and returns the realized
// trades, the per-bar equity curve, and the computed metrics.
//
// The model is long-only with at most one open position: a buy while flat
// opens at that bar's close, a sell while holding closes at that bar's close.
// A buy while holding and a sell while flat are ignored. A position still
// open after the last bar is force-closed at the final close price. Capital
// compounds after each close.
func Execute(bars []domain.Bar, signals []domain.Signal, cfg Config) Result {
	cfg = cfg.withDefaults()

	byDate := make(map[string]domain.Signal, len(signals))
	for _, s := range signals {
		byDate[s.Timestamp.Format(dateLayout)] = s
	}

	capital := cfg.InitialCapital
	peak := capital
	var (
		trades    []domain.Trade
		inPos     bool
		entryTime time.Time
		entryPx   float64
	)
	curve := make([]domain.EquityPoint, 0, len(bars))

	for i, bar := range bars {
		if sig, ok := byDate[bar.Timestamp.Format(dateLayout)]; ok {
			switch {
			case sig.Kind == domain.SignalBuy && !inPos:
				inPos = true
				entryTime = bar.Timestamp
				entryPx = bar.Close
			case sig.Kind == domain.SignalSell && inPos:
				t := closeTrade(entryTime, entryPx, bar.Timestamp, bar.Close, capital)
				capital += t.ProfitAmount
				trades = append(trades, t)
				inPos = false
			}
		}

		// Force close-out at the final bar so no position survives the run.
		if inPos && i == len(bars)-1 {
			t := closeTrade(entryTime, entryPx, bar.Timestamp, bar.Close, capital)
			capital += t.ProfitAmount
			trades = append(trades, t)
			inPos = false
		}

		equity := capital
		if inPos && entryPx > 0 {
			equity = capital * (1 + (bar.Close-entryPx)/entryPx)
		}
		if equity > peak {
			peak = equity
		}
		var dd float64
		if peak > 0 {
			dd = (peak - equity) / peak * 100
		}
		curve = append(curve, domain.EquityPoint{
			Timestamp:   bar.Timestamp,
			Equity:      equity,
			DrawdownPct: dd,
		})
	}

	return Result{
		Trades:      trades,
		EquityCurve: curve,
		Metrics:     ComputeMetrics(trades, curve, cfg),
	}
}

func closeTrade(entryTime time.Time, entryPx float64, exitTime time.Time, exitPx, capital float64) domain.Trade {
	var profitPct float64
	if entryPx > 0 {
		profitPct = (exitPx - entryPx) / entryPx * 100
	}
	return domain.Trade{
		EntryTime:    entryTime,
		EntryPrice:   entryPx,
		ExitTime:     exitTime,
		ExitPrice:    exitPx,
		ProfitPct:    profitPct,
		ProfitAmount: capital * profitPct / 100,
		HoldingDays:  int(exitTime.Sub(entryTime).Hours() / 24),
	}
}
