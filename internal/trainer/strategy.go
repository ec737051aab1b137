package trainer

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// Strategy is a complete epoch/step driving loop. The Kit supplies the
// building blocks (BeginEpoch, Train, Valid, BeginStep, EndEpoch,
// IsFinished); a Strategy decides how to sequence them.
type Strategy interface {
	Run(ctx context.Context, kit *Kit) error
}

// Standard is the usual strategy: run full epochs over the training batches,
// validating as the Kit dictates, until the scheduler finishes the run or
// the optional epoch cap is reached.
type Standard struct {
	// MaxEpochs caps the run; zero means no cap, leaving termination to the
	// scheduler.
	MaxEpochs int
}

// StandardInput is the HCL argument block for the standard strategy.
type StandardInput struct {
	MaxEpochs int `hcl:"max_epochs,optional"`
}

// StandardFactory decodes an HCL body into a Standard strategy.
func StandardFactory(body hcl.Body) (Strategy, error) {
	var in StandardInput
	if diags := gohcl.DecodeBody(body, nil, &in); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode standard strategy arguments: %w", diags)
	}
	return &Standard{MaxEpochs: in.MaxEpochs}, nil
}

// Run implements Strategy. The finished check happens once per epoch so that
// every participant reaches the termination collective the same number of
// times.
func (s *Standard) Run(ctx context.Context, kit *Kit) error {
	for epoch := kit.Epoch(); ; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		kit.BeginEpoch(epoch)
		for step, batch := range kit.Dataset().TrainBatches() {
			kit.BeginStep(step)
			if _, err := kit.Train(batch); err != nil {
				return fmt.Errorf("training step %d of epoch %d failed: %w", step, epoch, err)
			}
			if err := kit.Valid(); err != nil {
				return fmt.Errorf("validation at step %d of epoch %d failed: %w", step, epoch, err)
			}
		}
		kit.EndEpoch()

		finished, err := kit.IsFinished()
		if err != nil {
			return err
		}
		if finished {
			kit.Log("nmtkit", "Training finished by scheduler")
			return nil
		}
		if s.MaxEpochs > 0 && epoch+1 >= s.MaxEpochs {
			kit.Log("nmtkit", fmt.Sprintf("Reached the configured cap of %d epochs", s.MaxEpochs))
			return nil
		}
	}
}
