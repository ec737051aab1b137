// Package scheduler defines how a training run decides to adjust itself and
// to stop. Schedulers observe validation outcomes and may steer the trainer
// through the narrow Control surface it exposes to them.
package scheduler

// Control is the part of a trainer a scheduler is allowed to see. It replaces
// a raw back-pointer: schedulers can steer the learning rate and read run
// state, nothing else.
type Control interface {
	// LearningRate and SetLearningRate read and write the trainer's current
	// learning rate across all parameter groups.
	LearningRate() float64
	SetLearningRate(lr float64)

	// Epoch and Step report the zero-based position within the run.
	Epoch() int
	Step() int

	// BestCriteria reports the best-seen criteria value (lower is better).
	BestCriteria() float64

	// Log appends a line to the trainer's persisted log.
	Log(tag, msg string)
}

// Scheduler is the collaborator contract for training schedules.
type Scheduler interface {
	// Bind attaches the scheduler to a trainer before the first epoch.
	Bind(c Control)

	// BeforeEpoch and AfterEpoch bracket every epoch.
	BeforeEpoch()
	AfterEpoch()

	// AfterValid observes one validation outcome.
	AfterValid(improved bool, scores map[string]float64)

	// IsFinished reports whether training should stop. It is a pure query:
	// calling it must not change scheduler state.
	IsFinished() bool
}
