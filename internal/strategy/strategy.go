// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"sort"

	"backlab/internal/domain"
)

// Params holds concrete parameter values for one strategy evaluation, keyed
// by parameter name.
type Params map[string]float64

// Get returns the named parameter, or def when it is absent.
func (p Params) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Clone returns a copy of the parameter set.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParameterRange declares one tunable axis of a strategy: its default value
// and the min/max/step used to seed grid search and walk-forward runs.
type ParameterRange struct {
	Name    string  `json:"name"`
	Default float64 `json:"default"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
}

// Strategy is the interface that all trading strategies must implement.
// Implementations are stateless: GenerateSignals is a pure function of the
// bars and parameters.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// ParameterRanges returns the declared tunable parameters with their
	// defaults and bounds.
	ParameterRanges() []ParameterRange

	// GenerateSignals maps a price series and parameter set to buy/sell
	// signals. At most one signal per bar is meaningful.
	GenerateSignals(bars []domain.Bar, params Params) []domain.Signal
}

// DefaultParams builds a Params from a strategy's declared defaults.
func DefaultParams(s Strategy) Params {
	params := make(Params)
	for _, r := range s.ParameterRanges() {
		params[r.Name] = r.Default
	}
	return params
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
