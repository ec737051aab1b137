// Package seq2seq defines the contract between the trainer and a
// sequence-to-sequence model, plus a small reference model used by the CLI
// and the test suite. The trainer never looks inside a model; it only drives
// forward/backward passes and moves state dicts around.
package seq2seq

import "github.com/vk/nmtkit/internal/tensor"

// ValueMap is the output of one forward pass: named scalar outputs (always
// including "loss") and, when sampling was requested, the sampled output
// tokens as a batch-major matrix.
type ValueMap struct {
	Scalars       map[string]float64
	SampledTokens *tensor.Matrix
}

// Loss returns the reserved "loss" scalar.
func (v *ValueMap) Loss() float64 {
	return v.Scalars["loss"]
}

// Model is the capability surface a trainable model must expose. Source and
// target batches arrive batch-major (one row per example), already transposed
// by the trainer.
type Model interface {
	// Forward runs the model on one batch. With sampling enabled the model
	// may additionally emit sampled output tokens for BLEU estimation.
	Forward(src, tgt *tensor.Matrix, sampling bool) (*ValueMap, error)

	// Backward accumulates gradients of the most recent Forward loss into
	// the model's parameters.
	Backward() error

	// Params returns the named parameters, in a stable order.
	Params() []*tensor.Param

	// StateDict and LoadStateDict snapshot and restore all parameter data.
	StateDict() map[string][]float64
	LoadStateDict(state map[string][]float64) error

	// SetTraining toggles between training and evaluation mode.
	SetTraining(training bool)

	// Place moves the model to the named device. The reference models treat
	// this as bookkeeping; an accelerator-backed model would migrate buffers.
	Place(device string)
}
