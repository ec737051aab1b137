package scheduler

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// Anneal halves the learning rate after a run of non-improving validations
// and stops the run after a capped number of such reductions.
type Anneal struct {
	control    Control
	patience   int
	factor     float64
	maxAnneals int

	badValids int
	anneals   int
}

// AnnealInput is the HCL argument block for the anneal scheduler.
type AnnealInput struct {
	Patience   int     `hcl:"patience"`
	MaxAnneals int     `hcl:"max_anneals"`
	Factor     float64 `hcl:"factor,optional"`
}

// NewAnneal builds an annealing scheduler. A zero factor defaults to 0.5.
func NewAnneal(patience, maxAnneals int, factor float64) *Anneal {
	if patience <= 0 || maxAnneals <= 0 {
		panic(fmt.Sprintf("scheduler: anneal patience and max_anneals must be positive, got %d and %d", patience, maxAnneals))
	}
	if factor == 0 {
		factor = 0.5
	}
	if factor <= 0 || factor >= 1 {
		panic(fmt.Sprintf("scheduler: anneal factor must be in (0, 1), got %g", factor))
	}
	return &Anneal{patience: patience, factor: factor, maxAnneals: maxAnneals}
}

// AnnealFactory decodes an HCL body into an Anneal scheduler.
func AnnealFactory(body hcl.Body) (Scheduler, error) {
	var in AnnealInput
	if diags := gohcl.DecodeBody(body, nil, &in); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode anneal arguments: %w", diags)
	}
	return NewAnneal(in.Patience, in.MaxAnneals, in.Factor), nil
}

// Bind implements Scheduler.
func (a *Anneal) Bind(c Control) { a.control = c }

// BeforeEpoch implements Scheduler.
func (a *Anneal) BeforeEpoch() {}

// AfterEpoch implements Scheduler.
func (a *Anneal) AfterEpoch() {}

// AfterValid implements Scheduler.
func (a *Anneal) AfterValid(improved bool, _ map[string]float64) {
	if improved {
		a.badValids = 0
		return
	}
	a.badValids++
	if a.badValids < a.patience {
		return
	}
	a.badValids = 0
	a.anneals++
	if a.control != nil {
		lr := a.control.LearningRate() * a.factor
		a.control.SetLearningRate(lr)
		a.control.Log("anneal", fmt.Sprintf("no improvement for %d validations, learning rate now %.6f (%d/%d anneals)",
			a.patience, lr, a.anneals, a.maxAnneals))
	}
}

// IsFinished implements Scheduler.
func (a *Anneal) IsFinished() bool {
	return a.anneals >= a.maxAnneals
}
