// Package builtins provides built-in strategy implementations that ship with
// the backlab platform: one per family (trend, momentum, breakout). The full
// production strategy catalogue lives outside this module; these exist so the
// engine and optimizers are exercisable end to end.
package builtins

// sma returns the simple moving average of the last period values ending at
// index i, or 0 if there is not enough history.
func sma(values []float64, i, period int) float64 {
	if period <= 0 || i+1 < period {
		return 0
	}
	sum := 0.0
	for j := i - period + 1; j <= i; j++ {
		sum += values[j]
	}
	return sum / float64(period)
}

// rsi computes the Wilder relative strength index series for the given
// closes. Entries before the warmup period are 0.
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// highest returns the maximum of values[i-period+1..i], or 0 without enough
// history.
func highest(values []float64, i, period int) float64 {
	if period <= 0 || i+1 < period {
		return 0
	}
	h := values[i-period+1]
	for j := i - period + 2; j <= i; j++ {
		if values[j] > h {
			h = values[j]
		}
	}
	return h
}

// lowest returns the minimum of values[i-period+1..i], or 0 without enough
// history.
func lowest(values []float64, i, period int) float64 {
	if period <= 0 || i+1 < period {
		return 0
	}
	l := values[i-period+1]
	for j := i - period + 2; j <= i; j++ {
		if values[j] < l {
			l = values[j]
		}
	}
	return l
}
