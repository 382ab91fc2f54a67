package backtest

import (
	"math"

	"backlab/internal/domain"
)

// ProfitFactorCap stands in for an infinite profit factor (zero gross loss
// with positive gross profit) so the value stays usable as a numeric
// objective. The same convention applies to the other ratio metrics.
const ProfitFactorCap = 1000

// Metrics is the aggregate performance summary of a completed backtest.
// Every field is recomputable from the trade list and equity curve.
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	AvgWinPct   float64 `json:"avg_win_pct"`
	AvgLossPct  float64 `json:"avg_loss_pct"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`

	ProfitFactor   float64 `json:"profit_factor"`
	TotalReturnPct float64 `json:"total_return_pct"`
	FinalCapital   float64 `json:"final_capital"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`

	MaxConsecutiveWins   int `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int `json:"max_consecutive_losses"`

	ExpectancyPct  float64 `json:"expectancy_pct"`
	PayoffRatio    float64 `json:"payoff_ratio"`
	RecoveryFactor float64 `json:"recovery_factor"`
	KellyPct       float64 `json:"kelly_pct"`
	CAGRPct        float64 `json:"cagr_pct"`
	CalmarRatio    float64 `json:"calmar_ratio"`
	RiskOfRuinPct  float64 `json:"risk_of_ruin_pct"`
	AvgHoldingDays float64 `json:"avg_holding_days"`
}

// ComputeMetrics derives the full metric set from a completed trade list and
// equity curve. Pure and deterministic; an empty trade list yields an
// explicit zero-valued Metrics rather than dividing anything.
func ComputeMetrics(trades []domain.Trade, curve []domain.EquityPoint, cfg Config) Metrics {
	cfg = cfg.withDefaults()

	m := Metrics{FinalCapital: cfg.InitialCapital}
	if len(curve) > 0 {
		m.FinalCapital = curve[len(curve)-1].Equity
		for _, p := range curve {
			if p.DrawdownPct > m.MaxDrawdownPct {
				m.MaxDrawdownPct = p.DrawdownPct
			}
		}
	}
	if len(trades) == 0 {
		return m
	}

	m.TotalTrades = len(trades)
	var sumWin, sumLoss, holding float64
	var curWins, curLosses int
	for _, t := range trades {
		holding += float64(t.HoldingDays)
		if t.ProfitPct > 0 {
			m.WinningTrades++
			sumWin += t.ProfitPct
			m.GrossProfit += t.ProfitAmount
			curWins++
			curLosses = 0
			if curWins > m.MaxConsecutiveWins {
				m.MaxConsecutiveWins = curWins
			}
		} else {
			m.LosingTrades++
			sumLoss += t.ProfitPct
			m.GrossLoss += -t.ProfitAmount
			curLosses++
			curWins = 0
			if curLosses > m.MaxConsecutiveLosses {
				m.MaxConsecutiveLosses = curLosses
			}
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	if m.WinningTrades > 0 {
		m.AvgWinPct = sumWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLossPct = sumLoss / float64(m.LosingTrades)
	}
	m.AvgHoldingDays = holding / float64(m.TotalTrades)

	m.ProfitFactor = cappedRatio(m.GrossProfit, m.GrossLoss)
	m.TotalReturnPct = (m.FinalCapital - cfg.InitialCapital) / cfg.InitialCapital * 100
	m.SharpeRatio = sharpe(curve, cfg)

	m.PayoffRatio = cappedRatio(m.AvgWinPct, -m.AvgLossPct)
	winFrac := m.WinRate / 100
	m.ExpectancyPct = winFrac*m.AvgWinPct + (1-winFrac)*m.AvgLossPct
	m.RecoveryFactor = cappedRatio(m.TotalReturnPct, m.MaxDrawdownPct)
	m.KellyPct = kelly(winFrac, m.PayoffRatio)
	m.CAGRPct = cagr(curve, cfg.InitialCapital, m.FinalCapital)
	m.CalmarRatio = cappedRatio(m.CAGRPct, m.MaxDrawdownPct)
	m.RiskOfRuinPct = riskOfRuin(winFrac)
	return m
}

// cappedRatio divides num by denom with the shared fallback convention:
// zero denominator with positive numerator maps to ProfitFactorCap, zero
// over zero (or a non-positive numerator over zero) maps to 0.
func cappedRatio(num, denom float64) float64 {
	if denom <= 0 {
		if num > 0 {
			return ProfitFactorCap
		}
		return 0
	}
	return num / denom
}

// sharpe computes the annualized Sharpe ratio from per-step equity returns.
func sharpe(curve []domain.EquityPoint, cfg Config) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	mean, std := meanStd(returns)
	if std == 0 {
		return 0
	}
	annReturn := mean * cfg.PeriodsPerYear
	annStd := std * math.Sqrt(cfg.PeriodsPerYear)
	return (annReturn - cfg.RiskFreeRate) / annStd
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	if len(xs) > 1 {
		std = math.Sqrt(ss / float64(len(xs)-1))
	}
	return mean, std
}

// kelly returns the optimal bet fraction in percent: W - (1-W)/R.
// Negative edges clamp to 0.
func kelly(winFrac, payoff float64) float64 {
	if payoff <= 0 {
		return 0
	}
	k := winFrac - (1-winFrac)/payoff
	if k < 0 {
		return 0
	}
	return k * 100
}

// cagr annualizes the total return over the calendar span of the curve.
func cagr(curve []domain.EquityPoint, initial, final float64) float64 {
	if len(curve) < 2 || initial <= 0 || final <= 0 {
		return 0
	}
	years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24 / 365.25
	if years <= 0 {
		return 0
	}
	return (math.Pow(final/initial, 1/years) - 1) * 100
}

// riskOfRuin estimates the chance of losing 10 betting units with the given
// win fraction: ((1-edge)/(1+edge))^10, where edge = 2W-1. A non-positive
// edge yields certainty.
func riskOfRuin(winFrac float64) float64 {
	edge := 2*winFrac - 1
	if edge <= 0 {
		return 100
	}
	return math.Pow((1-edge)/(1+edge), 10) * 100
}
