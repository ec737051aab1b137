package tensor_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/tensor"
)

func TestTranspose_SwapsRowsAndColumns(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	m := tensor.FromRows([][]int64{
		{1, 2, 3},
		{4, 5, 6},
	})

	// --- Act ---
	tr := m.Transpose()

	// --- Assert ---
	require.Equal(t, 3, tr.Rows)
	require.Equal(t, 2, tr.Cols)
	require.Equal(t, int64(1), tr.At(0, 0))
	require.Equal(t, int64(4), tr.At(0, 1))
	require.Equal(t, int64(6), tr.At(2, 1))
}

func TestTranspose_TwiceIsIdentity(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	m := tensor.FromRows([][]int64{
		{7, 0, 2},
		{1, 9, 5},
	})

	// --- Act ---
	back := m.Transpose().Transpose()

	// --- Assert ---
	require.Empty(t, cmp.Diff(m, back))
}

func TestMaskedLen_CountsPositiveEntries(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Padded rows use zero; token ids are positive.
	m := tensor.FromRows([][]int64{
		{1, 5, 2, 0, 0},
		{0, 0, 0, 0, 0},
	})

	// --- Act & Assert ---
	require.Equal(t, 3, m.MaskedLen(0))
	require.Equal(t, 0, m.MaskedLen(1))
}

func TestFromRows_RaggedInputPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		tensor.FromRows([][]int64{{1, 2}, {3}})
	})
}

func TestRow_IsAViewIntoTheMatrix(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	m := tensor.FromRows([][]int64{{1, 2}, {3, 4}})

	// --- Act ---
	m.Row(1)[0] = 9

	// --- Assert ---
	require.Equal(t, int64(9), m.At(1, 0))
}

func TestParam_GradNormAndScale(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := tensor.NewParam("w", 2)
	copy(p.EnsureGrad(), []float64{3, 4})

	// --- Act & Assert ---
	require.InDelta(t, 5.0, p.GradNorm(), 1e-12)

	p.ScaleGrad(0.5)
	require.InDelta(t, 1.5, p.Grad[0], 1e-12)
	require.InDelta(t, 2.0, p.Grad[1], 1e-12)
}

func TestParam_GradLifecycle(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p := tensor.NewParam("w", 3)

	// --- Assert --- no gradient before the first backward pass.
	require.Nil(t, p.Grad)
	require.Zero(t, p.GradNorm())
	require.NotPanics(t, func() { p.ZeroGrad() })

	// --- Act ---
	grad := p.EnsureGrad()
	grad[1] = 2
	p.ZeroGrad()

	// --- Assert ---
	require.Equal(t, []float64{0, 0, 0}, p.Grad)
	require.Equal(t, &p.Grad[0], &grad[0], "EnsureGrad must reuse the existing buffer")
}
