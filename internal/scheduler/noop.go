package scheduler

import "github.com/hashicorp/hcl/v2"

// Noop is the default scheduler: it never adjusts anything and never asks to
// stop, leaving run length entirely to the training strategy.
type Noop struct {
	control Control
}

// NewNoop returns a scheduler that does nothing.
func NewNoop() *Noop {
	return &Noop{}
}

// NoopFactory ignores its HCL body and returns a Noop scheduler.
func NoopFactory(hcl.Body) (Scheduler, error) {
	return NewNoop(), nil
}

// Bind implements Scheduler.
func (n *Noop) Bind(c Control) { n.control = c }

// BeforeEpoch implements Scheduler.
func (n *Noop) BeforeEpoch() {}

// AfterEpoch implements Scheduler.
func (n *Noop) AfterEpoch() {}

// AfterValid implements Scheduler.
func (n *Noop) AfterValid(bool, map[string]float64) {}

// IsFinished implements Scheduler.
func (n *Noop) IsFinished() bool { return false }
