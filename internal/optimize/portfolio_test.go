package optimize

import (
	"math"
	"testing"
	"time"

	"backlab/internal/domain"
)

func equityCurve(values []float64) []domain.EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	curve := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		curve[i] = domain.EquityPoint{Timestamp: start.AddDate(0, 0, i), Equity: v}
	}
	return curve
}

// repeat cycles the given pattern to n observations.
func repeat(pattern []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

func steadyAsset(id string, n int) Asset {
	return Asset{ID: id, Returns: repeat([]float64{0.01, 0.005}, n)}
}

func choppyAsset(id string, n int) Asset {
	return Asset{ID: id, Returns: repeat([]float64{0.02, -0.02}, n)}
}

func checkWeights(t *testing.T, weights []float64, lo, hi float64) {
	t.Helper()
	var sum float64
	for i, w := range weights {
		sum += w
		if w < lo-1e-6 || w > hi+1e-6 {
			t.Errorf("weight %d = %v, outside [%v, %v]", i, w, lo, hi)
		}
	}
	if !almost(sum, 1, 1e-6) {
		t.Errorf("weights sum = %v, want 1", sum)
	}
}

func TestOptimizePortfolioRequiresTwoAssets(t *testing.T) {
	if _, err := OptimizePortfolio([]Asset{steadyAsset("A", 50)}, PortfolioConfig{}); err == nil {
		t.Error("single asset should fail")
	}
}

func TestOptimizePortfolioEqual(t *testing.T) {
	assets := []Asset{steadyAsset("A", 50), choppyAsset("B", 50), steadyAsset("C", 50)}

	res, err := OptimizePortfolio(assets, PortfolioConfig{Method: AllocEqual, Seed: 1})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	checkWeights(t, res.Weights, 0, 1)
	for i, w := range res.Weights {
		if !almost(w, 1.0/3, 1e-9) {
			t.Errorf("weight %d = %v, want 1/3", i, w)
		}
	}
}

func TestOptimizePortfolioRiskParity(t *testing.T) {
	assets := []Asset{steadyAsset("calm", 50), choppyAsset("wild", 50)}

	res, err := OptimizePortfolio(assets, PortfolioConfig{Method: AllocRiskParity, Seed: 1})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	checkWeights(t, res.Weights, 0, 1)
	if res.Weights[0] <= res.Weights[1] {
		t.Errorf("lower-volatility asset should carry more weight, got %v", res.Weights)
	}
}

func TestOptimizePortfolioMaxSharpeGridBranch(t *testing.T) {
	// Two assets stay on the exhaustive simplex-grid branch.
	assets := []Asset{steadyAsset("good", 60), choppyAsset("bad", 60)}

	res, err := OptimizePortfolio(assets, PortfolioConfig{Method: AllocMaxSharpe, Seed: 1})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	checkWeights(t, res.Weights, 0, 1)
	if res.Weights[0] <= res.Weights[1] {
		t.Errorf("higher-sharpe asset should dominate, got %v", res.Weights)
	}
}

func TestOptimizePortfolioRandomBranch(t *testing.T) {
	// Five assets exceed the simplex-grid limit and use random search.
	assets := []Asset{
		steadyAsset("a", 60), choppyAsset("b", 60), steadyAsset("c", 60),
		choppyAsset("d", 60), steadyAsset("e", 60),
	}

	res, err := OptimizePortfolio(assets, PortfolioConfig{
		Method:      AllocMinVariance,
		RandomDraws: 2000,
		Seed:        9,
	})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	checkWeights(t, res.Weights, 0, 1)
}

func TestOptimizePortfolioWeightBounds(t *testing.T) {
	assets := []Asset{steadyAsset("good", 60), choppyAsset("bad", 60)}

	res, err := OptimizePortfolio(assets, PortfolioConfig{
		Method:    AllocMaxReturn,
		MinWeight: 0.2,
		MaxWeight: 0.8,
		Seed:      1,
	})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	// Max-return would pick 100% of the better asset; bounds must clamp it.
	checkWeights(t, res.Weights, 0.2, 0.8)
}

func TestOptimizePortfolioInfeasibleBounds(t *testing.T) {
	assets := []Asset{steadyAsset("a", 50), steadyAsset("b", 50)}
	if _, err := OptimizePortfolio(assets, PortfolioConfig{MinWeight: 0.6, MaxWeight: 0.7}); err == nil {
		t.Error("min weights summing above 1 should fail")
	}
	if _, err := OptimizePortfolio(assets, PortfolioConfig{MinWeight: 0.5, MaxWeight: 0.4}); err == nil {
		t.Error("min above max should fail")
	}
}

func TestCorrelationMatrix(t *testing.T) {
	a := repeat([]float64{0.01, -0.01}, 40)
	assets := []Asset{
		{ID: "x", Returns: a},
		{ID: "y", Returns: a},
	}

	res, err := OptimizePortfolio(assets, PortfolioConfig{Method: AllocEqual, Seed: 1})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	for i := range res.Correlation {
		if !almost(res.Correlation[i][i], 1, 1e-9) {
			t.Errorf("correlation diagonal [%d][%d] = %v, want 1", i, i, res.Correlation[i][i])
		}
	}
	if !almost(res.Correlation[0][1], 1, 1e-9) {
		t.Errorf("identical series correlation = %v, want 1", res.Correlation[0][1])
	}
	if !almost(res.Covariance[0][1], res.Covariance[1][0], 1e-12) {
		t.Error("covariance matrix must be symmetric")
	}
}

func TestUnequalLengthSeriesPairedByIndex(t *testing.T) {
	assets := []Asset{
		{ID: "long", Returns: repeat([]float64{0.01, -0.005}, 100)},
		{ID: "short", Returns: repeat([]float64{0.008, -0.002}, 40)},
	}

	res, err := OptimizePortfolio(assets, PortfolioConfig{Method: AllocMaxSharpe, Seed: 1})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	checkWeights(t, res.Weights, 0, 1)
	if math.IsNaN(res.Combined.MaxDrawdownPct) || res.Combined.MaxDrawdownPct < 0 {
		t.Errorf("blended drawdown = %v, want a finite non-negative value", res.Combined.MaxDrawdownPct)
	}
}

func TestEfficientFrontier(t *testing.T) {
	assets := []Asset{steadyAsset("a", 60), choppyAsset("b", 60)}

	res, err := OptimizePortfolio(assets, PortfolioConfig{
		Method:         AllocMaxSharpe,
		FrontierPoints: 5,
		RandomDraws:    1000,
		Seed:           4,
	})
	if err != nil {
		t.Fatalf("OptimizePortfolio: %v", err)
	}
	if len(res.Frontier) != 5 {
		t.Fatalf("frontier points = %d, want 5", len(res.Frontier))
	}
	for i, p := range res.Frontier {
		if p.VolatilityPct < 0 {
			t.Errorf("frontier point %d volatility = %v", i, p.VolatilityPct)
		}
		checkWeights(t, p.Weights, 0, 1)
		if i > 0 && p.TargetReturnPct <= res.Frontier[i-1].TargetReturnPct {
			t.Errorf("frontier targets should be ascending at point %d", i)
		}
	}
}

func TestPortfolioDeterministicSeed(t *testing.T) {
	assets := []Asset{
		steadyAsset("a", 60), choppyAsset("b", 60), steadyAsset("c", 60),
		choppyAsset("d", 60), steadyAsset("e", 60),
	}
	cfg := PortfolioConfig{Method: AllocMaxSharpe, RandomDraws: 1500, Seed: 11}

	a, err := OptimizePortfolio(assets, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := OptimizePortfolio(assets, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i := range a.Weights {
		if a.Weights[i] != b.Weights[i] {
			t.Errorf("weight %d differs across identical seeds", i)
		}
	}
}

func TestEnumerateSimplex(t *testing.T) {
	var count int
	enumerateSimplex(2, 0.25, func(w []float64) {
		count++
		if !almost(w[0]+w[1], 1, 1e-9) {
			t.Errorf("simplex point %v does not sum to 1", w)
		}
	})
	// 0, 0.25, 0.5, 0.75, 1 for the free weight.
	if count != 5 {
		t.Errorf("simplex points = %d, want 5", count)
	}
}

func TestReturnsFromCurve(t *testing.T) {
	curve := equityCurve([]float64{100, 110, 99})
	got := returnsFromCurve(curve)
	if len(got) != 2 || !almost(got[0], 0.10, 1e-9) || !almost(got[1], -0.10, 1e-9) {
		t.Errorf("returnsFromCurve = %v", got)
	}
}
