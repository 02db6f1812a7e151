package models

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an estimator predicting target.
type Factory func(target string) Estimator

// Built-in estimator names.
const (
	NaiveLastName    = "naive-last"
	NaiveMeanName    = "naive-mean"
	NaivePoissonName = "naive-poisson"
	ExpSmoothingName = "exp-smoothing"
	SeasonalName     = "seasonal"
)

// Registry maps names to in-process estimator factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry holding the built-in estimators.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.factories[NaiveLastName] = func(target string) Estimator { return NaiveLast{Target: target} }
	r.factories[NaiveMeanName] = func(target string) Estimator { return NaiveMean{Target: target} }
	r.factories[NaivePoissonName] = func(target string) Estimator { return NaivePoisson{Target: target} }
	r.factories[ExpSmoothingName] = func(target string) Estimator { return ExpSmoothing{Target: target} }
	r.factories[SeasonalName] = func(target string) Estimator { return Seasonal{Target: target} }
	return r
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Estimator builds the named estimator for target.
func (r *Registry) Estimator(name, target string) (Estimator, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownModel, name, r.Names())
	}
	return factory(targetOrDefault(target)), nil
}

// Adapter returns an in-process adapter for the named estimator.
func (r *Registry) Adapter(name, target string) (Adapter, error) {
	est, err := r.Estimator(name, target)
	if err != nil {
		return nil, err
	}
	return NewInProcess(name, target, est), nil
}

// Names lists registered estimators in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
