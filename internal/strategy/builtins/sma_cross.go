package builtins

import (
	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct{}

// NewSMACross creates a new SMACross strategy.
func NewSMACross() *SMACross {
	return &SMACross{}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// ParameterRanges declares the short and long moving average periods.
func (s *SMACross) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{
		{Name: "short_period", Default: 10, Min: 5, Max: 30, Step: 5},
		{Name: "long_period", Default: 50, Min: 20, Max: 100, Step: 10},
	}
}

// GenerateSignals emits a buy on each upward short/long crossover and a sell
// on each downward crossover.
func (s *SMACross) GenerateSignals(bars []domain.Bar, params strategy.Params) []domain.Signal {
	short := int(params.Get("short_period", 10))
	long := int(params.Get("long_period", 50))
	if short <= 0 || long <= 0 || short >= long || len(bars) <= long {
		return nil
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	var signals []domain.Signal
	for i := long; i < len(bars); i++ {
		prevShort := sma(closes, i-1, short)
		prevLong := sma(closes, i-1, long)
		curShort := sma(closes, i, short)
		curLong := sma(closes, i, long)

		var kind domain.SignalKind
		switch {
		case prevShort <= prevLong && curShort > curLong:
			kind = domain.SignalBuy
		case prevShort >= prevLong && curShort < curLong:
			kind = domain.SignalSell
		default:
			continue
		}

		signals = append(signals, domain.Signal{
			Timestamp: bars[i].Timestamp,
			Kind:      kind,
			Price:     bars[i].Close,
			Indicators: map[string]float64{
				"sma_short": curShort,
				"sma_long":  curLong,
			},
		})
	}
	return signals
}
