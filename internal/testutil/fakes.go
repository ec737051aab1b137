package testutil

import (
	"github.com/vk/nmtkit/internal/dataset"
	"github.com/vk/nmtkit/internal/scheduler"
	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/tensor"
)

// FakeModel is a scriptable model for trainer tests. Forward returns the
// scripted losses in order, sticking on the last one; Backward invokes
// OnBackward so a test can plant gradients.
type FakeModel struct {
	Parameters []*tensor.Param
	Losses     []float64
	Sampled    *tensor.Matrix
	OnBackward func(m *FakeModel)
	ForwardErr error

	ForwardCalls  int
	BackwardCalls int
	Training      bool
	Device        string
	LoadedStates  int
}

// NewFakeModel creates a fake model over the given parameters.
func NewFakeModel(params ...*tensor.Param) *FakeModel {
	return &FakeModel{Parameters: params, Training: true}
}

// Forward implements seq2seq.Model.
func (m *FakeModel) Forward(src, tgt *tensor.Matrix, sampling bool) (*seq2seq.ValueMap, error) {
	if m.ForwardErr != nil {
		return nil, m.ForwardErr
	}
	loss := 1.0
	if len(m.Losses) > 0 {
		i := m.ForwardCalls
		if i >= len(m.Losses) {
			i = len(m.Losses) - 1
		}
		loss = m.Losses[i]
	}
	m.ForwardCalls++

	valMap := &seq2seq.ValueMap{Scalars: map[string]float64{"loss": loss}}
	if sampling {
		valMap.SampledTokens = m.Sampled
	}
	return valMap, nil
}

// Backward implements seq2seq.Model.
func (m *FakeModel) Backward() error {
	m.BackwardCalls++
	if m.OnBackward != nil {
		m.OnBackward(m)
	}
	return nil
}

// Params implements seq2seq.Model.
func (m *FakeModel) Params() []*tensor.Param { return m.Parameters }

// StateDict implements seq2seq.Model.
func (m *FakeModel) StateDict() map[string][]float64 {
	state := make(map[string][]float64, len(m.Parameters))
	for _, p := range m.Parameters {
		state[p.Name] = append([]float64(nil), p.Data...)
	}
	return state
}

// LoadStateDict implements seq2seq.Model.
func (m *FakeModel) LoadStateDict(state map[string][]float64) error {
	m.LoadedStates++
	for _, p := range m.Parameters {
		if data, ok := state[p.Name]; ok {
			copy(p.Data, data)
		}
	}
	return nil
}

// SetTraining implements seq2seq.Model.
func (m *FakeModel) SetTraining(training bool) { m.Training = training }

// Place implements seq2seq.Model.
func (m *FakeModel) Place(device string) { m.Device = device }

// FakeDataset is an in-memory dataset for trainer tests. NBatches, when
// positive, overrides the reported batch count so validation-frequency tests
// need not materialize batches.
type FakeDataset struct {
	Train    []dataset.Batch
	Valid    []dataset.Batch
	Raw      []dataset.Example
	NBatches int
	PerBatch int

	Rank  int
	World int
}

// NTrainBatch implements dataset.Dataset.
func (d *FakeDataset) NTrainBatch() int {
	if d.NBatches > 0 {
		return d.NBatches
	}
	return len(d.Train)
}

// BatchSize implements dataset.Dataset.
func (d *FakeDataset) BatchSize() int {
	if d.PerBatch > 0 {
		return d.PerBatch
	}
	return 1
}

// TrainBatches implements dataset.Dataset.
func (d *FakeDataset) TrainBatches() []dataset.Batch { return d.Train }

// ValidSet implements dataset.Dataset.
func (d *FakeDataset) ValidSet() []dataset.Batch { return d.Valid }

// RawValidData implements dataset.Dataset.
func (d *FakeDataset) RawValidData() []dataset.Example { return d.Raw }

// SetDeviceScope implements dataset.Dataset.
func (d *FakeDataset) SetDeviceScope(rank, world int) {
	d.Rank = rank
	d.World = world
}

// FakeScheduler records every callback it receives. Finished is returned
// verbatim from IsFinished.
type FakeScheduler struct {
	Control  scheduler.Control
	Finished bool

	BeforeEpochs int
	AfterEpochs  int
	ValidCalls   []bool
	LastScores   map[string]float64
}

// Bind implements scheduler.Scheduler.
func (s *FakeScheduler) Bind(c scheduler.Control) { s.Control = c }

// BeforeEpoch implements scheduler.Scheduler.
func (s *FakeScheduler) BeforeEpoch() { s.BeforeEpochs++ }

// AfterEpoch implements scheduler.Scheduler.
func (s *FakeScheduler) AfterEpoch() { s.AfterEpochs++ }

// AfterValid implements scheduler.Scheduler.
func (s *FakeScheduler) AfterValid(improved bool, scores map[string]float64) {
	s.ValidCalls = append(s.ValidCalls, improved)
	s.LastScores = scores
}

// IsFinished implements scheduler.Scheduler.
func (s *FakeScheduler) IsFinished() bool { return s.Finished }

// RecordingCoordinator behaves like the single-process coordinator while
// reporting a configurable rank and size and recording every collective call.
// It lets multi-device trainer paths run inside one process.
type RecordingCoordinator struct {
	RankV int
	SizeV int

	FloatBroadcasts []float64
	IntBroadcasts   []int64
	StateBroadcasts int
	GradReductions  int
	Closed          bool
}

// Rank implements coordinator.Coordinator.
func (c *RecordingCoordinator) Rank() int { return c.RankV }

// Size implements coordinator.Coordinator.
func (c *RecordingCoordinator) Size() int { return c.SizeV }

// IsRoot implements coordinator.Coordinator.
func (c *RecordingCoordinator) IsRoot() bool { return c.RankV == 0 }

// BroadcastFloat64 implements coordinator.Coordinator.
func (c *RecordingCoordinator) BroadcastFloat64(v float64) (float64, error) {
	c.FloatBroadcasts = append(c.FloatBroadcasts, v)
	return v, nil
}

// BroadcastInt implements coordinator.Coordinator.
func (c *RecordingCoordinator) BroadcastInt(v int64) (int64, error) {
	c.IntBroadcasts = append(c.IntBroadcasts, v)
	return v, nil
}

// BroadcastState implements coordinator.Coordinator.
func (c *RecordingCoordinator) BroadcastState(state map[string][]float64) (map[string][]float64, error) {
	c.StateBroadcasts++
	return state, nil
}

// AllReduceGrads implements coordinator.Coordinator.
func (c *RecordingCoordinator) AllReduceGrads([]*tensor.Param) error {
	c.GradReductions++
	return nil
}

// Close implements coordinator.Coordinator.
func (c *RecordingCoordinator) Close() error {
	c.Closed = true
	return nil
}

// TimeMajorBatch builds a time-major batch from batch-major token rows.
func TimeMajorBatch(src, tgt [][]int64) dataset.Batch {
	return dataset.Batch{
		Src: tensor.FromRows(src).Transpose(),
		Tgt: tensor.FromRows(tgt).Transpose(),
	}
}
