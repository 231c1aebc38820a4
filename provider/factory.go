package provider

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// New builds the adapter registered under name.
//
// Supported names: worker, kling, runway, luma, minimax (hailuo), veo.
func New(name string, cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "worker":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: base_url is required", name)
		}
		return NewWorker(cfg, logger), nil
	case "kling":
		return NewKling(cfg, logger), nil
	case "runway":
		return NewRunway(cfg, logger), nil
	case "luma":
		return NewLuma(cfg, logger), nil
	case "minimax", "hailuo":
		return NewMiniMax(cfg, logger), nil
	case "veo":
		return NewVeo(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// Registry holds the configured adapters keyed by name.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry builds every configured provider. defaultName is used when a
// lookup asks for the empty name.
func NewRegistry(cfgs map[string]Config, defaultName string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(cfgs)), defaultName: defaultName}
	for name, cfg := range cfgs {
		p, err := New(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		r.providers[name] = p
	}
	if defaultName != "" {
		if _, ok := r.providers[defaultName]; !ok {
			return nil, fmt.Errorf("default provider %q is not configured", defaultName)
		}
	}
	return r, nil
}

// Register adds or replaces p under name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	r.providers[name] = p
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// Get returns the provider for name, or the default for "".
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}
	return p, nil
}

// Names lists the configured providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
