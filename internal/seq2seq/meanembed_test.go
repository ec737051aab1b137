package seq2seq_test

import (
	"testing"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/tensor"
)

func trainingBatch() (src, tgt *tensor.Matrix) {
	src = tensor.FromRows([][]int64{{3, 4}})
	tgt = tensor.FromRows([][]int64{{1, 5, 2}})
	return src, tgt
}

func TestMeanEmbed_GradientStepReducesLoss(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	model := seq2seq.NewMeanEmbed(8, 4, 1)
	src, tgt := trainingBatch()

	before, err := model.Forward(src, tgt, false)
	require.NoError(t, err)
	require.Greater(t, before.Loss(), 0.0)

	// --- Act --- one plain gradient step.
	require.NoError(t, model.Backward())
	for _, p := range model.Params() {
		for i := range p.Data {
			p.Data[i] -= 0.1 * p.Grad[i]
		}
	}
	after, err := model.Forward(src, tgt, false)

	// --- Assert ---
	require.NoError(t, err)
	require.Less(t, after.Loss(), before.Loss())
}

func TestMeanEmbed_BackwardNeedsTrainingForward(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	model := seq2seq.NewMeanEmbed(8, 2, 1)
	model.SetTraining(false)
	src, tgt := trainingBatch()
	_, err := model.Forward(src, tgt, false)
	require.NoError(t, err)

	// --- Act ---
	err = model.Backward()

	// --- Assert ---
	require.Error(t, err)
}

func TestMeanEmbed_SamplingEmitsClosedHypotheses(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	model := seq2seq.NewMeanEmbed(8, 2, 1)
	src, tgt := trainingBatch()

	// --- Act ---
	valMap, err := model.Forward(src, tgt, true)

	// --- Assert --- one vocabulary token for the content length, then EOS.
	require.NoError(t, err)
	sampled := valMap.SampledTokens
	require.NotNil(t, sampled)
	require.Equal(t, tgt.Rows, sampled.Rows)
	require.Equal(t, tgt.Cols, sampled.Cols)
	require.GreaterOrEqual(t, sampled.At(0, 0), int64(seq2seq.EosID+1))
	require.Equal(t, int64(seq2seq.EosID), sampled.At(0, 1))
}

func TestMeanEmbed_StateDictRoundTrip(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	model := seq2seq.NewMeanEmbed(8, 2, 1)
	state := model.StateDict()

	other := seq2seq.NewMeanEmbed(8, 2, 99)

	// --- Act ---
	require.NoError(t, other.LoadStateDict(state))

	// --- Assert ---
	require.Equal(t, state, other.StateDict())
}

func TestMeanEmbed_LoadStateDictValidates(t *testing.T) {
	t.Parallel()

	model := seq2seq.NewMeanEmbed(8, 2, 1)

	require.Error(t, model.LoadStateDict(map[string][]float64{"src_embed": make([]float64, 16)}),
		"missing parameter must be rejected")
	require.Error(t, model.LoadStateDict(map[string][]float64{
		"src_embed": make([]float64, 4),
		"tgt_embed": make([]float64, 16),
	}), "size mismatch must be rejected")
}

func TestMeanEmbed_BatchSizeMismatchFails(t *testing.T) {
	t.Parallel()

	model := seq2seq.NewMeanEmbed(8, 2, 1)
	src := tensor.FromRows([][]int64{{3}, {4}})
	tgt := tensor.FromRows([][]int64{{1, 5, 2}})

	_, err := model.Forward(src, tgt, false)

	require.Error(t, err)
}

func TestMeanEmbedFactory_DecodesArguments(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := "vocab_size = 10\ndim = 3\nseed = 42\n"
	file, diags := hclparse.NewParser().ParseHCL([]byte(src), "model.hcl")
	require.False(t, diags.HasErrors())

	// --- Act ---
	model, err := seq2seq.MeanEmbedFactory(file.Body)

	// --- Assert ---
	require.NoError(t, err)
	params := model.Params()
	require.Len(t, params, 2)
	require.Len(t, params[0].Data, 30)
}

func TestNewMeanEmbed_RejectsDegenerateShapes(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { seq2seq.NewMeanEmbed(3, 2, 0) })
	require.Panics(t, func() { seq2seq.NewMeanEmbed(8, 0, 0) })
}
