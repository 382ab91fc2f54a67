package builtins

import (
	"testing"
	"time"

	"backlab/internal/domain"
	"backlab/internal/strategy"
)

// barsFromCloses builds a daily bar series with the given closes; highs and
// lows hug the close so channel tests behave predictably.
func barsFromCloses(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

func kinds(signals []domain.Signal) []domain.SignalKind {
	out := make([]domain.SignalKind, len(signals))
	for i, s := range signals {
		out[i] = s.Kind
	}
	return out
}

func TestSMACrossSignals(t *testing.T) {
	// Flat, then rising (upward crossover), then falling (downward crossover).
	closes := []float64{100, 100, 100, 100, 101, 103, 106, 110, 108, 104, 100, 96}
	bars := barsFromCloses(closes)

	s := NewSMACross()
	signals := s.GenerateSignals(bars, strategy.Params{"short_period": 2, "long_period": 3})

	if len(signals) < 2 {
		t.Fatalf("expected at least 2 signals, got %d (%v)", len(signals), kinds(signals))
	}
	if signals[0].Kind != domain.SignalBuy {
		t.Errorf("first signal = %q, want buy", signals[0].Kind)
	}
	var sawSell bool
	for _, sig := range signals {
		if sig.Kind == domain.SignalSell {
			sawSell = true
		}
		if sig.Indicators["sma_short"] == 0 {
			t.Error("signal should carry sma_short indicator value")
		}
	}
	if !sawSell {
		t.Error("expected a sell signal after the downturn")
	}
}

func TestSMACrossDegenerateParams(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})
	s := NewSMACross()

	if got := s.GenerateSignals(bars, strategy.Params{"short_period": 10, "long_period": 5}); got != nil {
		t.Errorf("short >= long should yield no signals, got %v", kinds(got))
	}
	if got := s.GenerateSignals(nil, strategy.Params{"short_period": 2, "long_period": 3}); got != nil {
		t.Errorf("empty bars should yield no signals, got %v", kinds(got))
	}
}

func TestRSIReversalSignals(t *testing.T) {
	// Sustained decline drives RSI to the floor, recovery crosses up through
	// the oversold level, sustained rally crosses down through overbought on
	// the first pullback.
	closes := []float64{100, 90, 80, 70, 60, 65, 70, 75, 80, 85, 90, 80}
	bars := barsFromCloses(closes)

	s := NewRSIReversal()
	signals := s.GenerateSignals(bars, strategy.Params{"period": 2, "oversold": 30, "overbought": 70})

	if len(signals) == 0 {
		t.Fatal("expected signals from RSI reversal")
	}
	if signals[0].Kind != domain.SignalBuy {
		t.Errorf("first signal = %q, want buy", signals[0].Kind)
	}
	last := signals[len(signals)-1]
	if last.Kind != domain.SignalSell {
		t.Errorf("last signal = %q, want sell after the pullback", last.Kind)
	}
}

func TestDonchianBreakoutSignals(t *testing.T) {
	// Flat channel, breakout up, then breakdown through the exit low.
	closes := []float64{100, 100, 100, 100, 100, 105, 106, 107, 95, 94}
	bars := barsFromCloses(closes)

	s := NewDonchianBreakout()
	signals := s.GenerateSignals(bars, strategy.Params{"entry_period": 3, "exit_period": 2})

	if len(signals) < 2 {
		t.Fatalf("expected breakout and breakdown signals, got %v", kinds(signals))
	}
	if signals[0].Kind != domain.SignalBuy {
		t.Errorf("first signal = %q, want buy on breakout", signals[0].Kind)
	}
	last := signals[len(signals)-1]
	if last.Kind != domain.SignalSell {
		t.Errorf("last signal = %q, want sell on breakdown", last.Kind)
	}
}

func TestParameterRangesDeclared(t *testing.T) {
	for _, s := range []strategy.Strategy{NewSMACross(), NewRSIReversal(), NewDonchianBreakout()} {
		ranges := s.ParameterRanges()
		if len(ranges) == 0 {
			t.Errorf("%s declares no parameter ranges", s.Name())
		}
		for _, r := range ranges {
			if r.Step <= 0 || r.Min > r.Max || r.Default < r.Min || r.Default > r.Max {
				t.Errorf("%s range %+v is malformed", s.Name(), r)
			}
		}
	}
}
