package trainer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/tensor"
)

func TestEstimateBLEU_CutsHypothesisAtEndToken(t *testing.T) {
	t.Parallel()

	// --- Arrange --- target 1 5 6 7 2; the content reference is 5 6 7.
	tgt := tensor.FromRows([][]int64{{1, 5, 6, 7, 2}})
	sampled := tensor.FromRows([][]int64{{5, 6, 7, 2, 9}})

	// --- Act ---
	score := estimateBLEU(sampled, tgt)

	// --- Assert --- tokens after the end token never count.
	require.InDelta(t, 1.0, score, 1e-12)
}

func TestEstimateBLEU_NoEndTokenCutsAtReferenceLength(t *testing.T) {
	t.Parallel()

	// --- Arrange --- the sample never emits an end token.
	tgt := tensor.FromRows([][]int64{{1, 5, 6, 7, 2}})
	sampled := tensor.FromRows([][]int64{{5, 6, 7, 8, 9}})

	// --- Act ---
	score := estimateBLEU(sampled, tgt)

	// --- Assert --- only the first targetLen-2 tokens are kept: 5 6 7.
	require.InDelta(t, 1.0, score, 1e-12)
}

func TestEstimateBLEU_ImmediateEndTokenScoresZero(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	tgt := tensor.FromRows([][]int64{{1, 5, 6, 7, 2}})
	sampled := tensor.FromRows([][]int64{{2, 5, 6, 7, 8}})

	// --- Act ---
	score := estimateBLEU(sampled, tgt)

	// --- Assert ---
	require.Zero(t, score)
}

func TestEstimateBLEU_IgnoresTargetPadding(t *testing.T) {
	t.Parallel()

	// --- Arrange --- a padded target row: masked length is 3, reference is 5.
	tgt := tensor.FromRows([][]int64{{1, 5, 2, 0, 0}})
	sampled := tensor.FromRows([][]int64{{5, 2, 0, 0, 0}})

	// --- Act ---
	score := estimateBLEU(sampled, tgt)

	// --- Assert ---
	require.InDelta(t, 1.0, score, 1e-12)
}

func TestEstimateBLEU_AveragesOverTheBatch(t *testing.T) {
	t.Parallel()

	// --- Arrange --- one perfect row, one empty row.
	tgt := tensor.FromRows([][]int64{
		{1, 5, 6, 7, 2},
		{1, 5, 6, 7, 2},
	})
	sampled := tensor.FromRows([][]int64{
		{5, 6, 7, 2, 0},
		{2, 0, 0, 0, 0},
	})

	// --- Act ---
	score := estimateBLEU(sampled, tgt)

	// --- Assert ---
	require.InDelta(t, 0.5, score, 1e-12)
}
