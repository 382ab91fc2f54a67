package builtins

import (
	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*DonchianBreakout)(nil)

// DonchianBreakout implements a channel breakout strategy: buy when the close
// exceeds the highest high of the preceding entry window, sell when it drops
// below the lowest low of the preceding exit window.
type DonchianBreakout struct{}

// NewDonchianBreakout creates a new DonchianBreakout strategy.
func NewDonchianBreakout() *DonchianBreakout {
	return &DonchianBreakout{}
}

// Name returns "donchian-breakout".
func (s *DonchianBreakout) Name() string {
	return "donchian-breakout"
}

// ParameterRanges declares the entry and exit channel windows.
func (s *DonchianBreakout) ParameterRanges() []strategy.ParameterRange {
	return []strategy.ParameterRange{
		{Name: "entry_period", Default: 20, Min: 10, Max: 50, Step: 10},
		{Name: "exit_period", Default: 10, Min: 5, Max: 25, Step: 5},
	}
}

// GenerateSignals emits a buy on a close above the prior entry-window high
// and a sell on a close below the prior exit-window low.
func (s *DonchianBreakout) GenerateSignals(bars []domain.Bar, params strategy.Params) []domain.Signal {
	entry := int(params.Get("entry_period", 20))
	exit := int(params.Get("exit_period", 10))
	if entry <= 0 || exit <= 0 || len(bars) <= entry {
		return nil
	}

	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
	}

	start := entry
	if exit > start {
		start = exit
	}

	var signals []domain.Signal
	for i := start; i < len(bars); i++ {
		upper := highest(highs, i-1, entry)
		lower := lowest(lows, i-1, exit)

		var kind domain.SignalKind
		switch {
		case bars[i].Close > upper:
			kind = domain.SignalBuy
		case bars[i].Close < lower:
			kind = domain.SignalSell
		default:
			continue
		}

		signals = append(signals, domain.Signal{
			Timestamp: bars[i].Timestamp,
			Kind:      kind,
			Price:     bars[i].Close,
			Indicators: map[string]float64{
				"channel_high": upper,
				"channel_low":  lower,
			},
		})
	}
	return signals
}
