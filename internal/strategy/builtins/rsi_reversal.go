package builtins

import (
	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*RSIReversal)(nil)

// RSIReversal implements a momentum mean-reversion strategy: buy when the RSI
// recovers up through the oversold level, sell when it falls back down
// through the overbought level.
type RSIReversal struct{}

// NewRSIReversal creates a new RSIReversal strategy.
func NewRSIReversal() *RSIReversal {
	return &RSIReversal{}
}

// Name returns "rsi-reversal".
func (s *RSIReversal) Name() string {
	return "rsi-reversal"
}

// ParameterRanges declares the RSI period and the oversold/overbought levels.
func (s *RSIReversal) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{
		{Name: "period", Default: 14, Min: 7, Max: 28, Step: 7},
		{Name: "oversold", Default: 30, Min: 20, Max: 40, Step: 5},
		{Name: "overbought", Default: 70, Min: 60, Max: 80, Step: 5},
	}
}

// GenerateSignals emits a buy when RSI crosses up through the oversold level
// and a sell when it crosses down through the overbought level.
func (s *RSIReversal) GenerateSignals(bars []domain.Bar, params strategy.Params) []domain.Signal {
	period := int(params.Get("period", 14))
	oversold := params.Get("oversold", 30)
	overbought := params.Get("overbought", 70)
	if period <= 0 || oversold >= overbought || len(bars) <= period+1 {
		return nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	values := rsi(closes, period)

	var signals []domain.Signal
	for i := period + 1; i < len(bars); i++ {
		prev, cur := values[i-1], values[i]

		var kind domain.SignalKind
		switch {
		case prev < oversold && cur >= oversold:
			kind = domain.SignalBuy
		case prev > overbought && cur <= overbought:
			kind = domain.SignalSell
		default:
			continue
		}

		signals = append(signals, domain.Signal{
			Timestamp:  bars[i].Timestamp,
			Kind:       kind,
			Price:      bars[i].Close,
			Indicators: map[string]float64{"rsi": cur},
		})
	}
	return signals
}
