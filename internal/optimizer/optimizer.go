// Package optimizer defines the parameter-update contract the trainer drives
// and a reference SGD-with-momentum implementation.
package optimizer

import "github.com/vk/nmtkit/internal/tensor"

// ParamGroup is a set of parameters sharing one learning rate. Schedulers
// adjust training by writing LR; the trainer reads group zero's LR as the
// run's learning rate.
type ParamGroup struct {
	LR     float64
	Params []*tensor.Param
}

// State is a serializable snapshot of an optimizer: the learning rate and
// any per-parameter slot buffers (momentum, variance, ...), keyed by
// parameter name.
type State struct {
	LR    float64
	Slots map[string][]float64
}

// Optimizer is the capability surface a gradient-based optimizer must expose.
type Optimizer interface {
	// ZeroGrad clears all parameter gradients before a backward pass.
	ZeroGrad()

	// Step applies one parameter update from the accumulated gradients.
	Step() error

	// ParamGroups returns the parameter groups; at least one group exists.
	ParamGroups() []*ParamGroup

	// StateDict and LoadStateDict snapshot and restore optimizer state for
	// checkpointing.
	StateDict() State
	LoadStateDict(state State) error
}
