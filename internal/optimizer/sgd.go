package optimizer

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/nmtkit/internal/tensor"
)

// SGD is plain stochastic gradient descent with classical momentum. One
// parameter group holds every parameter.
type SGD struct {
	group    *ParamGroup
	momentum float64
	velocity map[string][]float64
}

// SGDInput is the HCL argument block for the sgd optimizer.
type SGDInput struct {
	LR       float64 `hcl:"lr"`
	Momentum float64 `hcl:"momentum,optional"`
}

// NewSGD builds an SGD optimizer over the given parameters.
func NewSGD(params []*tensor.Param, lr, momentum float64) *SGD {
	if lr <= 0 {
		panic(fmt.Sprintf("optimizer: learning rate must be positive, got %g", lr))
	}
	return &SGD{
		group:    &ParamGroup{LR: lr, Params: params},
		momentum: momentum,
		velocity: make(map[string][]float64),
	}
}

// SGDFactory decodes an HCL body into an SGD optimizer over params.
func SGDFactory(body hcl.Body, params []*tensor.Param) (Optimizer, error) {
	var in SGDInput
	if diags := gohcl.DecodeBody(body, nil, &in); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode sgd arguments: %w", diags)
	}
	return NewSGD(params, in.LR, in.Momentum), nil
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad() {
	for _, p := range s.group.Params {
		p.ZeroGrad()
	}
}

// Step implements Optimizer. Parameters without a gradient are skipped.
func (s *SGD) Step() error {
	for _, p := range s.group.Params {
		if p.Grad == nil {
			continue
		}
		vel, ok := s.velocity[p.Name]
		if !ok {
			vel = make([]float64, len(p.Data))
			s.velocity[p.Name] = vel
		}
		if len(vel) != len(p.Data) {
			return fmt.Errorf("velocity buffer for %q has size %d, want %d", p.Name, len(vel), len(p.Data))
		}
		for i := range p.Data {
			vel[i] = s.momentum*vel[i] + p.Grad[i]
			p.Data[i] -= s.group.LR * vel[i]
		}
	}
	return nil
}

// ParamGroups implements Optimizer.
func (s *SGD) ParamGroups() []*ParamGroup {
	return []*ParamGroup{s.group}
}

// StateDict implements Optimizer.
func (s *SGD) StateDict() State {
	slots := make(map[string][]float64, len(s.velocity))
	for name, vel := range s.velocity {
		buf := make([]float64, len(vel))
		copy(buf, vel)
		slots[name] = buf
	}
	return State{LR: s.group.LR, Slots: slots}
}

// LoadStateDict implements Optimizer.
func (s *SGD) LoadStateDict(state State) error {
	s.group.LR = state.LR
	s.velocity = make(map[string][]float64, len(state.Slots))
	for name, vel := range state.Slots {
		buf := make([]float64, len(vel))
		copy(buf, vel)
		s.velocity[name] = buf
	}
	return nil
}
