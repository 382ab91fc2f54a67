package optimize

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"backlab/internal/domain"
)

// AllocationMethod selects how portfolio weights are chosen.
type AllocationMethod string

const (
	AllocEqual       AllocationMethod = "equal"
	AllocRiskParity  AllocationMethod = "risk_parity"
	AllocMaxSharpe   AllocationMethod = "max_sharpe"
	AllocMinVariance AllocationMethod = "min_variance"
	AllocMaxReturn   AllocationMethod = "max_return"
)

// simplexGridLimit is the asset count up to which the weight simplex is
// enumerated exhaustively; larger portfolios fall back to random search.
// The threshold is a deliberate accuracy/cost policy, so tests can target
// each branch.
const simplexGridLimit = 4

const simplexGridStep = 0.05

// Asset is one already-backtested strategy/instrument pair entering the
// portfolio. Returns may be supplied directly or derived from EquityCurve.
type Asset struct {
	ID          string               `json:"id"`
	Returns     []float64            `json:"returns,omitempty"`
	EquityCurve []domain.EquityPoint `json:"equity_curve,omitempty"`
}

// PortfolioConfig configures a weight optimization run.
type PortfolioConfig struct {
	Method AllocationMethod
	// RiskFreeRate is the annual rate used for Sharpe.
	RiskFreeRate float64
	// MinWeight and MaxWeight bound each final weight. Default 0 and 1.
	MinWeight float64
	MaxWeight float64
	// PeriodsPerYear annualizes returns and volatility. Defaults to 252.
	PeriodsPerYear float64
	// RandomDraws is the sample count for random weight search.
	// Defaults to 5000.
	RandomDraws int
	// FrontierPoints is the number of efficient-frontier samples; zero
	// skips the frontier.
	FrontierPoints int
	// Seed fixes the random source. Zero seeds from the clock.
	Seed int64
}

func (c PortfolioConfig) withDefaults() PortfolioConfig {
	if c.Method == "" {
		c.Method = AllocMaxSharpe
	}
	if c.MaxWeight <= 0 {
		c.MaxWeight = 1
	}
	if c.PeriodsPerYear <= 0 {
		c.PeriodsPerYear = 252
	}
	if c.RandomDraws <= 0 {
		c.RandomDraws = 5000
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// PortfolioMetrics is the combined performance of a weighted portfolio.
type PortfolioMetrics struct {
	ExpectedReturnPct    float64 `json:"expected_return_pct"`
	VolatilityPct        float64 `json:"volatility_pct"`
	SharpeRatio          float64 `json:"sharpe_ratio"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"`
	DiversificationRatio float64 `json:"diversification_ratio"`
}

// FrontierPoint is one sampled portfolio on the efficient frontier.
type FrontierPoint struct {
	TargetReturnPct float64   `json:"target_return_pct"`
	ReturnPct       float64   `json:"return_pct"`
	VolatilityPct   float64   `json:"volatility_pct"`
	Weights         []float64 `json:"weights"`
}

// PortfolioResult is the outcome of a portfolio optimization.
type PortfolioResult struct {
	Method      AllocationMethod `json:"method"`
	Assets      []string         `json:"assets"`
	Weights     []float64        `json:"weights"`
	Combined    PortfolioMetrics `json:"combined"`
	Covariance  [][]float64      `json:"covariance"`
	Correlation [][]float64      `json:"correlation"`
	Frontier    []FrontierPoint  `json:"frontier,omitempty"`
}

// OptimizePortfolio computes asset weights under the configured allocation
// method from the assets' return covariance. Requires at least two assets.
func OptimizePortfolio(assets []Asset, cfg PortfolioConfig) (*PortfolioResult, error) {
	cfg = cfg.withDefaults()
	if len(assets) < 2 {
		return nil, fmt.Errorf("portfolio optimization requires at least 2 assets, got %d", len(assets))
	}
	if cfg.MinWeight < 0 || cfg.MaxWeight > 1 || cfg.MinWeight >= cfg.MaxWeight {
		return nil, fmt.Errorf("invalid weight bounds [%v, %v]", cfg.MinWeight, cfg.MaxWeight)
	}
	n := len(assets)
	if cfg.MinWeight*float64(n) > 1 || cfg.MaxWeight*float64(n) < 1 {
		return nil, fmt.Errorf("weight bounds [%v, %v] are infeasible for %d assets", cfg.MinWeight, cfg.MaxWeight, n)
	}

	returns := make([][]float64, n)
	ids := make([]string, n)
	for i, a := range assets {
		ids[i] = a.ID
		r := a.Returns
		if len(r) == 0 {
			r = returnsFromCurve(a.EquityCurve)
		}
		if len(r) < 2 {
			return nil, fmt.Errorf("asset %q: need at least 2 return observations", a.ID)
		}
		returns[i] = r
	}

	cov := covarianceMatrix(returns)
	corr := correlationMatrix(cov)
	means := make([]float64, n)
	vols := make([]float64, n)
	for i := range returns {
		means[i] = mean(returns[i])
		vols[i] = math.Sqrt(cov[i][i])
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var weights []float64
	switch cfg.Method {
	case AllocEqual:
		weights = equalWeights(n)
	case AllocRiskParity:
		weights = riskParityWeights(vols)
	case AllocMaxSharpe, AllocMinVariance, AllocMaxReturn:
		weights = searchWeights(means, cov, cfg, rng, allocObjective(cfg.Method, means, cov, cfg))
	default:
		return nil, fmt.Errorf("unknown allocation method %q", cfg.Method)
	}
	weights = clampWeights(weights, cfg.MinWeight, cfg.MaxWeight)

	res := &PortfolioResult{
		Method:      cfg.Method,
		Assets:      ids,
		Weights:     weights,
		Covariance:  cov,
		Correlation: corr,
		Combined:    combinedMetrics(weights, means, cov, vols, returns, cfg),
	}
	if cfg.FrontierPoints > 0 {
		res.Frontier = efficientFrontier(means, cov, cfg, rng)
	}
	return res, nil
}

// returnsFromCurve derives step returns from an equity curve.
func returnsFromCurve(curve []domain.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

// ---------------------------------------------------------------------------
// Covariance and correlation
// ---------------------------------------------------------------------------

// covarianceMatrix builds the pairwise sample covariance over possibly
// unequal-length series, pairing observations by index up to the shorter
// length.
func covarianceMatrix(returns [][]float64) [][]float64 {
	n := len(returns)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := pairedCovariance(returns[i], returns[j])
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov
}

func pairedCovariance(a, b []float64) float64 {
	m := len(a)
	if len(b) < m {
		m = len(b)
	}
	if m < 2 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < m; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(m)
	meanB /= float64(m)
	var sum float64
	for i := 0; i < m; i++ {
		sum += (a[i] - meanA) * (b[i] - meanB)
	}
	return sum / float64(m-1)
}

func correlationMatrix(cov [][]float64) [][]float64 {
	n := len(cov)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			denom := math.Sqrt(cov[i][i] * cov[j][j])
			if denom == 0 {
				if i == j {
					corr[i][j] = 1
				}
				continue
			}
			corr[i][j] = cov[i][j] / denom
		}
	}
	return corr
}

// ---------------------------------------------------------------------------
// Weight selection
// ---------------------------------------------------------------------------

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// riskParityWeights sets each weight proportional to inverse volatility.
// Zero-volatility assets contribute nothing; if every asset has zero
// volatility the split is equal.
func riskParityWeights(vols []float64) []float64 {
	w := make([]float64, len(vols))
	var total float64
	for i, v := range vols {
		if v > 0 {
			w[i] = 1 / v
			total += w[i]
		}
	}
	if total == 0 {
		return equalWeights(len(vols))
	}
	for i := range w {
		w[i] /= total
	}
	return w
}

// allocObjective maps an allocation method to the scalar maximized over the
// weight simplex.
func allocObjective(method AllocationMethod, means []float64, cov [][]float64, cfg PortfolioConfig) func(w []float64) float64 {
	switch method {
	case AllocMinVariance:
		return func(w []float64) float64 {
			return -portfolioVolatility(w, cov, cfg.PeriodsPerYear)
		}
	case AllocMaxReturn:
		return func(w []float64) float64 {
			return portfolioReturn(w, means, cfg.PeriodsPerYear)
		}
	default: // max_sharpe
		return func(w []float64) float64 {
			vol := portfolioVolatility(w, cov, cfg.PeriodsPerYear)
			if vol == 0 {
				return math.Inf(-1)
			}
			return (portfolioReturn(w, means, cfg.PeriodsPerYear) - cfg.RiskFreeRate) / vol
		}
	}
}

// searchWeights maximizes the objective over the weight simplex: exhaustive
// step-wise enumeration for small portfolios, random Dirichlet-like draws
// otherwise.
func searchWeights(means []float64, cov [][]float64, cfg PortfolioConfig, rng *rand.Rand, objective func([]float64) float64) []float64 {
	n := len(means)
	best := equalWeights(n)
	bestScore := objective(best)

	consider := func(w []float64) {
		if score := objective(w); score > bestScore {
			bestScore = score
			best = append([]float64(nil), w...)
		}
	}

	if n <= simplexGridLimit {
		enumerateSimplex(n, simplexGridStep, consider)
		return best
	}
	w := make([]float64, n)
	for d := 0; d < cfg.RandomDraws; d++ {
		randomSimplexPoint(rng, w)
		consider(w)
	}
	return best
}

// enumerateSimplex visits every weight vector on the simplex with the given
// step: the first n-1 weights are stepped exhaustively and the last takes
// the remainder.
func enumerateSimplex(n int, step float64, visit func([]float64)) {
	w := make([]float64, n)
	var rec func(axis int, remaining float64)
	rec = func(axis int, remaining float64) {
		if axis == n-1 {
			w[axis] = remaining
			visit(w)
			return
		}
		for v := 0.0; v <= remaining+1e-9; v += step {
			w[axis] = v
			rec(axis+1, remaining-v)
		}
	}
	rec(0, 1)
}

// randomSimplexPoint fills w with a uniform-ish draw from the simplex using
// normalized exponential variates.
func randomSimplexPoint(rng *rand.Rand, w []float64) {
	var total float64
	for i := range w {
		w[i] = -math.Log(1 - rng.Float64())
		total += w[i]
	}
	for i := range w {
		w[i] /= total
	}
}

// clampWeights clips each weight into [lo, hi] and renormalizes to sum 1,
// iterating because renormalization can push weights back out of bounds.
func clampWeights(w []float64, lo, hi float64) []float64 {
	out := append([]float64(nil), w...)
	for iter := 0; iter < 50; iter++ {
		var sum float64
		clipped := false
		for i, v := range out {
			switch {
			case v < lo:
				out[i] = lo
				clipped = true
			case v > hi:
				out[i] = hi
				clipped = true
			}
			sum += out[i]
		}
		if sum == 0 {
			return equalWeights(len(out))
		}
		normalized := math.Abs(sum-1) < 1e-9
		if normalized && !clipped {
			return out
		}
		for i := range out {
			out[i] /= sum
		}
		if normalized && clipped {
			// One more pass to confirm the renormalized vector stays in
			// bounds.
			continue
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Combined metrics
// ---------------------------------------------------------------------------

func portfolioReturn(w, means []float64, periodsPerYear float64) float64 {
	var r float64
	for i := range w {
		r += w[i] * means[i]
	}
	return r * periodsPerYear
}

func portfolioVolatility(w []float64, cov [][]float64, periodsPerYear float64) float64 {
	var variance float64
	for i := range w {
		for j := range w {
			variance += w[i] * w[j] * cov[i][j]
		}
	}
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance * periodsPerYear)
}

func combinedMetrics(w, means []float64, cov [][]float64, vols []float64, returns [][]float64, cfg PortfolioConfig) PortfolioMetrics {
	ret := portfolioReturn(w, means, cfg.PeriodsPerYear)
	vol := portfolioVolatility(w, cov, cfg.PeriodsPerYear)

	m := PortfolioMetrics{
		ExpectedReturnPct: ret * 100,
		VolatilityPct:     vol * 100,
		MaxDrawdownPct:    blendedMaxDrawdown(w, returns),
	}
	if vol > 0 {
		m.SharpeRatio = (ret - cfg.RiskFreeRate) / vol
		var weightedVol float64
		for i := range w {
			weightedVol += w[i] * vols[i] * math.Sqrt(cfg.PeriodsPerYear)
		}
		m.DiversificationRatio = weightedVol / vol
	}
	return m
}

// blendedMaxDrawdown replays a weight-blended equity curve with asset
// returns aligned by positional index up to the shortest series. Assets
// covering different calendar ranges therefore blend mismatched dates; kept
// as a documented simplification.
func blendedMaxDrawdown(w []float64, returns [][]float64) float64 {
	steps := len(returns[0])
	for _, r := range returns[1:] {
		if len(r) < steps {
			steps = len(r)
		}
	}
	equity := 1.0
	peak := 1.0
	var maxDD float64
	for t := 0; t < steps; t++ {
		var step float64
		for i := range w {
			step += w[i] * returns[i][t]
		}
		equity *= 1 + step
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// ---------------------------------------------------------------------------
// Efficient frontier
// ---------------------------------------------------------------------------

// efficientFrontier samples portfolios minimizing volatility with a squared
// penalty for missing each target return, targets spanning the asset return
// range.
func efficientFrontier(means []float64, cov [][]float64, cfg PortfolioConfig, rng *rand.Rand) []FrontierPoint {
	lo, hi := means[0], means[0]
	for _, m := range means[1:] {
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	lo *= cfg.PeriodsPerYear
	hi *= cfg.PeriodsPerYear

	const returnPenalty = 100

	points := make([]FrontierPoint, 0, cfg.FrontierPoints)
	w := make([]float64, len(means))
	for p := 0; p < cfg.FrontierPoints; p++ {
		target := lo
		if cfg.FrontierPoints > 1 {
			target = lo + (hi-lo)*float64(p)/float64(cfg.FrontierPoints-1)
		}

		best := equalWeights(len(means))
		bestCost := math.Inf(1)
		for d := 0; d < cfg.RandomDraws; d++ {
			randomSimplexPoint(rng, w)
			ret := portfolioReturn(w, means, cfg.PeriodsPerYear)
			vol := portfolioVolatility(w, cov, cfg.PeriodsPerYear)
			cost := vol + returnPenalty*(ret-target)*(ret-target)
			if cost < bestCost {
				bestCost = cost
				best = append([]float64(nil), w...)
			}
		}
		points = append(points, FrontierPoint{
			TargetReturnPct: target * 100,
			ReturnPct:       portfolioReturn(best, means, cfg.PeriodsPerYear) * 100,
			VolatilityPct:   portfolioVolatility(best, cov, cfg.PeriodsPerYear) * 100,
			Weights:         best,
		})
	}
	return points
}
