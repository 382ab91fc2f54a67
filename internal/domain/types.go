// Package domain defines the core data types shared across the backlab
// engine: historical bars, strategy signals, executed trades, equity curves,
// and persisted run records.
package domain

import "time"

// Market identifies which exchange calendar a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// SignalKind classifies a strategy signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Bar is a single OHLCV bar. Bar slices are always ordered by ascending
// timestamp with unique timestamps.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Signal is a buy/sell/hold event emitted by a strategy for a specific bar.
// Indicators optionally carries the indicator values that produced the
// signal, for downstream inspection.
type Signal struct {
	Timestamp  time.Time          `json:"timestamp"`
	Kind       SignalKind         `json:"kind"`
	Price      float64            `json:"price"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Trade is the immutable record of a closed round trip. Created by the
// executor when an open position is sold, or force-closed at the final bar.
type Trade struct {
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	ExitTime     time.Time `json:"exit_time"`
	ExitPrice    float64   `json:"exit_price"`
	ProfitPct    float64   `json:"profit_pct"`
	ProfitAmount float64   `json:"profit_amount"`
	HoldingDays  int       `json:"holding_days"`
}

// EquityPoint is one mark-to-market sample of account value, one per input
// bar. DrawdownPct is the percentage decline from the running peak.
type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Equity      float64   `json:"equity"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// RunKind identifies which engine operation produced a RunRecord.
type RunKind string

const (
	RunBacktest    RunKind = "backtest"
	RunGridSearch  RunKind = "grid_search"
	RunMonteCarlo  RunKind = "monte_carlo"
	RunWalkForward RunKind = "walk_forward"
	RunPortfolio   RunKind = "portfolio"
)

// RunRecord is the persisted summary of a single engine run. Params and
// Result hold JSON-encoded request parameters and result summary.
type RunRecord struct {
	ID        string    `json:"id"`
	Kind      RunKind   `json:"kind"`
	Strategy  string    `json:"strategy,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Params    string    `json:"params"`
	Result    string    `json:"result"`
}
