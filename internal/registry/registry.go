// Package registry maps configuration type names to the factories that build
// training collaborators. The app registers its built-ins at startup; tests
// register fakes. Duplicate registration is a programmer error and panics.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/nmtkit/internal/dataset"
	"github.com/vk/nmtkit/internal/optimizer"
	"github.com/vk/nmtkit/internal/scheduler"
	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/tensor"
	"github.com/vk/nmtkit/internal/trainer"
)

// Factory signatures for each collaborator kind. Every factory decodes its
// own HCL argument body; optimizers additionally receive the model's
// parameters.
type (
	ModelFactory     func(body hcl.Body) (seq2seq.Model, error)
	DatasetFactory   func(body hcl.Body) (dataset.Dataset, error)
	OptimizerFactory func(body hcl.Body, params []*tensor.Param) (optimizer.Optimizer, error)
	SchedulerFactory func(body hcl.Body) (scheduler.Scheduler, error)
	StrategyFactory  func(body hcl.Body) (trainer.Strategy, error)
)

// Registry holds the factories for a single application instance.
type Registry struct {
	models     map[string]ModelFactory
	datasets   map[string]DatasetFactory
	optimizers map[string]OptimizerFactory
	schedulers map[string]SchedulerFactory
	strategies map[string]StrategyFactory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		models:     make(map[string]ModelFactory),
		datasets:   make(map[string]DatasetFactory),
		optimizers: make(map[string]OptimizerFactory),
		schedulers: make(map[string]SchedulerFactory),
		strategies: make(map[string]StrategyFactory),
	}
}

// RegisterModel registers a model factory under a type name.
func (r *Registry) RegisterModel(name string, f ModelFactory) {
	if _, exists := r.models[name]; exists {
		panic(fmt.Sprintf("model factory %q already registered", name))
	}
	slog.Debug("Registering model factory.", "name", name)
	r.models[name] = f
}

// RegisterDataset registers a dataset factory under a type name.
func (r *Registry) RegisterDataset(name string, f DatasetFactory) {
	if _, exists := r.datasets[name]; exists {
		panic(fmt.Sprintf("dataset factory %q already registered", name))
	}
	slog.Debug("Registering dataset factory.", "name", name)
	r.datasets[name] = f
}

// RegisterOptimizer registers an optimizer factory under a type name.
func (r *Registry) RegisterOptimizer(name string, f OptimizerFactory) {
	if _, exists := r.optimizers[name]; exists {
		panic(fmt.Sprintf("optimizer factory %q already registered", name))
	}
	slog.Debug("Registering optimizer factory.", "name", name)
	r.optimizers[name] = f
}

// RegisterScheduler registers a scheduler factory under a type name.
func (r *Registry) RegisterScheduler(name string, f SchedulerFactory) {
	if _, exists := r.schedulers[name]; exists {
		panic(fmt.Sprintf("scheduler factory %q already registered", name))
	}
	slog.Debug("Registering scheduler factory.", "name", name)
	r.schedulers[name] = f
}

// RegisterStrategy registers a strategy factory under a type name.
func (r *Registry) RegisterStrategy(name string, f StrategyFactory) {
	if _, exists := r.strategies[name]; exists {
		panic(fmt.Sprintf("strategy factory %q already registered", name))
	}
	slog.Debug("Registering strategy factory.", "name", name)
	r.strategies[name] = f
}

// Model looks up a model factory.
func (r *Registry) Model(name string) (ModelFactory, error) {
	f, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model type %q", name)
	}
	return f, nil
}

// Dataset looks up a dataset factory.
func (r *Registry) Dataset(name string) (DatasetFactory, error) {
	f, ok := r.datasets[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset type %q", name)
	}
	return f, nil
}

// Optimizer looks up an optimizer factory.
func (r *Registry) Optimizer(name string) (OptimizerFactory, error) {
	f, ok := r.optimizers[name]
	if !ok {
		return nil, fmt.Errorf("unknown optimizer type %q", name)
	}
	return f, nil
}

// Scheduler looks up a scheduler factory.
func (r *Registry) Scheduler(name string) (SchedulerFactory, error) {
	f, ok := r.schedulers[name]
	if !ok {
		return nil, fmt.Errorf("unknown scheduler type %q", name)
	}
	return f, nil
}

// Strategy looks up a strategy factory.
func (r *Registry) Strategy(name string) (StrategyFactory, error) {
	f, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", name)
	}
	return f, nil
}
