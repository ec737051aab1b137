package coordinator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/coordinator"
	"github.com/vk/nmtkit/internal/optimizer"
	"github.com/vk/nmtkit/internal/tensor"
	"github.com/vk/nmtkit/internal/testutil"
)

func TestNoop_IsARootOfOne(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	noop := coordinator.NewNoop()

	// --- Assert ---
	require.Equal(t, coordinator.RootRank, noop.Rank())
	require.Equal(t, 1, noop.Size())
	require.True(t, noop.IsRoot())

	f, err := noop.BroadcastFloat64(0.5)
	require.NoError(t, err)
	require.Equal(t, 0.5, f)

	n, err := noop.BroadcastInt(7)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	state := map[string][]float64{"w": {1}}
	got, err := noop.BroadcastState(state)
	require.NoError(t, err)
	require.Equal(t, state, got)

	require.NoError(t, noop.AllReduceGrads(nil))
	require.NoError(t, noop.Close())
}

func TestDistributedOptimizer_ReducesBeforeStepping(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := tensor.NewParam("w", 1)
	p.Data[0] = 1
	copy(p.EnsureGrad(), []float64{0.5})
	coord := &testutil.RecordingCoordinator{RankV: 0, SizeV: 2}
	dist := coordinator.WrapOptimizer(optimizer.NewSGD([]*tensor.Param{p}, 1, 0), coord)

	// --- Act ---
	require.NoError(t, dist.Step())

	// --- Assert --- the collective ran and the inner update applied.
	require.Equal(t, 1, coord.GradReductions)
	require.InDelta(t, 0.5, p.Data[0], 1e-12)
}

func TestDistributedOptimizer_DelegatesState(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := tensor.NewParam("w", 1)
	inner := optimizer.NewSGD([]*tensor.Param{p}, 0.25, 0)
	dist := coordinator.WrapOptimizer(inner, coordinator.NewNoop())

	// --- Act & Assert ---
	require.InDelta(t, 0.25, dist.ParamGroups()[0].LR, 1e-12)
	require.InDelta(t, 0.25, dist.StateDict().LR, 1e-12)
	require.NoError(t, dist.LoadStateDict(optimizer.State{LR: 0.5}))
	require.InDelta(t, 0.5, inner.ParamGroups()[0].LR, 1e-12)
}
