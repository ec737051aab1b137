package coordinator

import (
	"fmt"

	"github.com/vk/nmtkit/internal/optimizer"
	"github.com/vk/nmtkit/internal/tensor"
)

// DistributedOptimizer wraps an optimizer so that every Step first averages
// gradients across all participants. Everything else delegates to the
// wrapped optimizer.
type DistributedOptimizer struct {
	inner optimizer.Optimizer
	coord Coordinator
}

// WrapOptimizer builds the gradient-averaging wrapper around inner.
func WrapOptimizer(inner optimizer.Optimizer, coord Coordinator) *DistributedOptimizer {
	return &DistributedOptimizer{inner: inner, coord: coord}
}

// ZeroGrad implements optimizer.Optimizer.
func (d *DistributedOptimizer) ZeroGrad() { d.inner.ZeroGrad() }

// Step implements optimizer.Optimizer.
func (d *DistributedOptimizer) Step() error {
	var params []*tensor.Param
	for _, g := range d.inner.ParamGroups() {
		params = append(params, g.Params...)
	}
	if err := d.coord.AllReduceGrads(params); err != nil {
		return fmt.Errorf("gradient allreduce failed: %w", err)
	}
	return d.inner.Step()
}

// ParamGroups implements optimizer.Optimizer.
func (d *DistributedOptimizer) ParamGroups() []*optimizer.ParamGroup { return d.inner.ParamGroups() }

// StateDict implements optimizer.Optimizer.
func (d *DistributedOptimizer) StateDict() optimizer.State { return d.inner.StateDict() }

// LoadStateDict implements optimizer.Optimizer.
func (d *DistributedOptimizer) LoadStateDict(state optimizer.State) error {
	return d.inner.LoadStateDict(state)
}
