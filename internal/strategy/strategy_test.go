package strategy

import (
	"testing"

	"backlab/internal/domain"
)

type fakeStrategy struct{ name string }

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) ParameterRanges() []ParameterRange {
	return []ParameterRange{
		{Name: "period", Default: 14, Min: 7, Max: 28, Step: 7},
	}
}

func (f *fakeStrategy) GenerateSignals(_ []domain.Bar, _ Params) []domain.Signal {
	return nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeStrategy{name: "beta"})
	r.Register(&fakeStrategy{name: "alpha"})

	if _, ok := r.Get("alpha"); !ok {
		t.Error("Get(alpha) should find registered strategy")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should not find a strategy")
	}

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List() = %v, want [alpha beta]", names)
	}
}

func TestDefaultParams(t *testing.T) {
	params := DefaultParams(&fakeStrategy{name: "x"})
	if params["period"] != 14 {
		t.Errorf("DefaultParams period = %v, want 14", params["period"])
	}
}

func TestParamsGetAndClone(t *testing.T) {
	p := Params{"a": 1.5}
	if p.Get("a", 0) != 1.5 {
		t.Errorf("Get(a) = %v, want 1.5", p.Get("a", 0))
	}
	if p.Get("missing", 42) != 42 {
		t.Errorf("Get(missing) = %v, want default 42", p.Get("missing", 42))
	}

	clone := p.Clone()
	clone["a"] = 9
	if p["a"] != 1.5 {
		t.Error("Clone should not share storage with the original")
	}
}
