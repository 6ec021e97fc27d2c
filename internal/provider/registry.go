package provider

import (
	"fmt"
	"sort"
	"time"
)

// Config describes one configured provider.
type Config struct {
	Name           string          `yaml:"name"`
	Kind           Kind            `yaml:"kind"`
	Dir            string          `yaml:"dir,omitempty"`
	CostMultiplier float64         `yaml:"cost_multiplier,omitempty"`
	Latency        time.Duration   `yaml:"latency,omitempty"`
	Timeout        time.Duration   `yaml:"timeout,omitempty"`
	FailFirst      map[string]int  `yaml:"fail_first,omitempty"`
	FailPermanent  map[string]bool `yaml:"fail_permanent,omitempty"`
	FailureCost    float64         `yaml:"failure_cost,omitempty"`
}

// New builds the provider variant named by cfg.Kind.
func New(cfg Config) (Provider, error) {
	switch cfg.Kind {
	case KindSimulated, "":
		return NewSimulated(SimulatedConfig{
			Name:           cfg.Name,
			CostMultiplier: cfg.CostMultiplier,
			Latency:        cfg.Latency,
			CallTimeout:    cfg.Timeout,
			FailFirst:      cfg.FailFirst,
			FailPermanent:  cfg.FailPermanent,
			FailureCost:    cfg.FailureCost,
		}), nil
	case KindReplay:
		return NewReplay(cfg.Name, cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// Registry resolves providers by name. It is built once and read-only.
type Registry struct {
	byName map[string]Provider
}

// NewRegistry indexes providers by Name. Duplicate names are an error.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{byName: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if _, dup := r.byName[p.Name()]; dup {
			return nil, fmt.Errorf("provider %s: defined twice", p.Name())
		}
		r.byName[p.Name()] = p
	}
	return r, nil
}

// BuildRegistry constructs every configured provider. When cfgs is empty
// the registry holds a single default simulated provider.
func BuildRegistry(cfgs []Config) (*Registry, error) {
	if len(cfgs) == 0 {
		return NewRegistry(NewSimulated(SimulatedConfig{}))
	}
	providers := make([]Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		providers = append(providers, p)
	}
	return NewRegistry(providers...)
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (have %v)", name, r.Names())
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
