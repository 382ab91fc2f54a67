package backtest

import "fmt"

// Objective selects the scalar used to rank candidate parameterizations.
type Objective string

const (
	ObjectiveWinRate      Objective = "win_rate"
	ObjectiveTotalReturn  Objective = "total_return"
	ObjectiveProfitFactor Objective = "profit_factor"
	ObjectiveSharpe       Objective = "sharpe"
)

// ParseObjective validates a caller-supplied objective name. An empty name
// defaults to total return.
func ParseObjective(name string) (Objective, error) {
	switch Objective(name) {
	case "":
		return ObjectiveTotalReturn, nil
	case ObjectiveWinRate, ObjectiveTotalReturn, ObjectiveProfitFactor, ObjectiveSharpe:
		return Objective(name), nil
	}
	return "", fmt.Errorf("unknown objective %q", name)
}

// Score extracts the objective's scalar from a metric set.
func (o Objective) Score(m Metrics) float64 {
	switch o {
	case ObjectiveWinRate:
		return m.WinRate
	case ObjectiveProfitFactor:
		return m.ProfitFactor
	case ObjectiveSharpe:
		return m.SharpeRatio
	default:
		return m.TotalReturnPct
	}
}
