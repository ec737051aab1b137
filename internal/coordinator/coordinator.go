// Package coordinator models the collective-communication layer of a
// multi-device training run as an explicit capability object. Every
// participant process holds one Coordinator; single-process runs hold the
// no-op implementation and never touch the network.
//
// Collective calls are blocking rendezvous operations with no timeouts:
// participants must issue them in the same relative order on every run, and
// a desynchronized participant manifests as a hang, not an error.
package coordinator

import "github.com/vk/nmtkit/internal/tensor"

// RootRank is the rank of the participant that makes authoritative decisions.
const RootRank = 0

// Coordinator is the collective-communication capability of one participant.
type Coordinator interface {
	// Rank and Size identify this participant within the run.
	Rank() int
	Size() int

	// IsRoot reports whether this participant is the designated root.
	IsRoot() bool

	// BroadcastFloat64 and BroadcastInt distribute the root's value to every
	// participant. The root passes its value through unchanged; the others
	// block until the root's value arrives and return it.
	BroadcastFloat64(v float64) (float64, error)
	BroadcastInt(v int64) (int64, error)

	// BroadcastState distributes the root's parameter snapshot to every
	// participant.
	BroadcastState(state map[string][]float64) (map[string][]float64, error)

	// AllReduceGrads replaces every parameter's gradient with the mean
	// gradient across all participants.
	AllReduceGrads(params []*tensor.Param) error

	// Close releases the participant's transport resources.
	Close() error
}

// Noop is the single-process coordinator: rank 0 of a world of one, with
// every collective an identity operation.
type Noop struct{}

// NewNoop returns the single-process coordinator.
func NewNoop() *Noop { return &Noop{} }

// Rank implements Coordinator.
func (*Noop) Rank() int { return RootRank }

// Size implements Coordinator.
func (*Noop) Size() int { return 1 }

// IsRoot implements Coordinator.
func (*Noop) IsRoot() bool { return true }

// BroadcastFloat64 implements Coordinator.
func (*Noop) BroadcastFloat64(v float64) (float64, error) { return v, nil }

// BroadcastInt implements Coordinator.
func (*Noop) BroadcastInt(v int64) (int64, error) { return v, nil }

// BroadcastState implements Coordinator.
func (*Noop) BroadcastState(state map[string][]float64) (map[string][]float64, error) {
	return state, nil
}

// AllReduceGrads implements Coordinator.
func (*Noop) AllReduceGrads([]*tensor.Param) error { return nil }

// Close implements Coordinator.
func (*Noop) Close() error { return nil }
