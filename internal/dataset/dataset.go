// Package dataset defines the bilingual data contract the trainer consumes
// and an in-memory parallel corpus implementation of it.
package dataset

import "github.com/vk/nmtkit/internal/tensor"

// Batch is one training or validation batch. Both matrices are time-major:
// rows are timesteps, columns are examples. The trainer transposes them to
// batch-major before calling the model.
type Batch struct {
	Src *tensor.Matrix
	Tgt *tensor.Matrix
}

// Example is one raw validation example, exposed for reproducibility
// reporting. Tgt holds the target tokens as written in the corpus file.
type Example struct {
	Tgt []string
}

// Dataset is the capability surface the trainer needs from a bilingual
// dataset.
type Dataset interface {
	// NTrainBatch reports the number of training batches visible to this
	// participant, after any device scoping.
	NTrainBatch() int

	// BatchSize reports the configured examples-per-batch.
	BatchSize() int

	// TrainBatches returns this participant's training batches for one epoch.
	TrainBatches() []Batch

	// ValidSet returns the full validation set. Validation is never sharded;
	// only the root participant evaluates.
	ValidSet() []Batch

	// RawValidData returns the raw validation examples for hash reporting.
	RawValidData() []Example

	// SetDeviceScope restricts the training data to the shard owned by the
	// participant with the given rank out of world participants.
	SetDeviceScope(rank, world int)
}
