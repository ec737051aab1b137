package seq2seq

import (
	"fmt"
	"math/rand"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/nmtkit/internal/tensor"
)

// Token id conventions shared by the reference model and dataset: 0 pads,
// 1 opens a sequence, 2 closes it, real vocabulary starts at 3.
const (
	PadID = 0
	BosID = 1
	EosID = 2
)

// MeanEmbed is the reference translation model: it embeds source and target
// tokens and scores a target token by its squared distance to the mean source
// embedding. It exists to give the trainer real parameters, gradients, and
// sampled outputs to work with, not to translate well.
type MeanEmbed struct {
	vocabSize int
	dim       int

	srcEmbed *tensor.Param
	tgtEmbed *tensor.Param

	training bool
	device   string
	cache    *meanEmbedCache
}

// meanEmbedCache keeps what Backward needs from the last Forward call.
type meanEmbedCache struct {
	src, tgt  *tensor.Matrix
	means     [][]float64
	srcCounts []int
	tokens    int
}

// MeanEmbedInput is the HCL argument block for the mean_embed model.
type MeanEmbedInput struct {
	VocabSize int   `hcl:"vocab_size"`
	Dim       int   `hcl:"dim"`
	Seed      int64 `hcl:"seed,optional"`
}

// NewMeanEmbed builds a model with deterministically initialized embeddings.
func NewMeanEmbed(vocabSize, dim int, seed int64) *MeanEmbed {
	if vocabSize <= EosID+1 || dim <= 0 {
		panic(fmt.Sprintf("seq2seq: invalid mean_embed shape vocab=%d dim=%d", vocabSize, dim))
	}
	m := &MeanEmbed{
		vocabSize: vocabSize,
		dim:       dim,
		srcEmbed:  tensor.NewParam("src_embed", vocabSize*dim),
		tgtEmbed:  tensor.NewParam("tgt_embed", vocabSize*dim),
		training:  true,
		device:    "cpu",
	}
	rng := rand.New(rand.NewSource(seed))
	for _, p := range m.Params() {
		for i := range p.Data {
			p.Data[i] = rng.NormFloat64() * 0.1
		}
	}
	return m
}

// MeanEmbedFactory decodes an HCL body into a MeanEmbed model.
func MeanEmbedFactory(body hcl.Body) (Model, error) {
	var in MeanEmbedInput
	if diags := gohcl.DecodeBody(body, nil, &in); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode mean_embed arguments: %w", diags)
	}
	return NewMeanEmbed(in.VocabSize, in.Dim, in.Seed), nil
}

// Forward implements Model.
func (m *MeanEmbed) Forward(src, tgt *tensor.Matrix, sampling bool) (*ValueMap, error) {
	if src.Rows != tgt.Rows {
		return nil, fmt.Errorf("batch size mismatch: %d source rows, %d target rows", src.Rows, tgt.Rows)
	}

	means := make([][]float64, src.Rows)
	srcCounts := make([]int, src.Rows)
	var loss float64
	var tokens int

	for i := 0; i < src.Rows; i++ {
		means[i], srcCounts[i] = m.meanSourceEmbedding(src.Row(i))
		for _, tok := range tgt.Row(i) {
			if tok <= PadID {
				continue
			}
			emb := m.embedding(m.tgtEmbed, tok)
			for d := 0; d < m.dim; d++ {
				diff := emb[d] - means[i][d]
				loss += 0.5 * diff * diff
			}
			tokens++
		}
	}
	if tokens > 0 {
		loss /= float64(tokens)
	}

	if m.training {
		m.cache = &meanEmbedCache{src: src, tgt: tgt, means: means, srcCounts: srcCounts, tokens: tokens}
	} else {
		m.cache = nil
	}

	vm := &ValueMap{Scalars: map[string]float64{"loss": loss}}
	if sampling {
		vm.SampledTokens = m.sample(means, tgt)
	}
	return vm, nil
}

// Backward implements Model. It distributes the squared-error residuals of
// the last Forward call onto both embedding tables.
func (m *MeanEmbed) Backward() error {
	cache := m.cache
	if cache == nil {
		return fmt.Errorf("backward called without a preceding training-mode forward pass")
	}
	if cache.tokens == 0 {
		return nil
	}
	scale := 1.0 / float64(cache.tokens)
	tgtGrad := m.tgtEmbed.EnsureGrad()
	srcGrad := m.srcEmbed.EnsureGrad()

	for i := 0; i < cache.tgt.Rows; i++ {
		residual := make([]float64, m.dim)
		for _, tok := range cache.tgt.Row(i) {
			if tok <= PadID {
				continue
			}
			emb := m.embedding(m.tgtEmbed, tok)
			for d := 0; d < m.dim; d++ {
				diff := emb[d] - cache.means[i][d]
				tgtGrad[int(tok)*m.dim+d] += diff * scale
				residual[d] += diff
			}
		}
		if cache.srcCounts[i] == 0 {
			continue
		}
		spread := scale / float64(cache.srcCounts[i])
		for _, tok := range cache.src.Row(i) {
			if tok <= PadID {
				continue
			}
			for d := 0; d < m.dim; d++ {
				srcGrad[int(tok)*m.dim+d] -= residual[d] * spread
			}
		}
	}
	return nil
}

// Params implements Model.
func (m *MeanEmbed) Params() []*tensor.Param {
	return []*tensor.Param{m.srcEmbed, m.tgtEmbed}
}

// StateDict implements Model.
func (m *MeanEmbed) StateDict() map[string][]float64 {
	state := make(map[string][]float64, 2)
	for _, p := range m.Params() {
		data := make([]float64, len(p.Data))
		copy(data, p.Data)
		state[p.Name] = data
	}
	return state
}

// LoadStateDict implements Model.
func (m *MeanEmbed) LoadStateDict(state map[string][]float64) error {
	for _, p := range m.Params() {
		data, ok := state[p.Name]
		if !ok {
			return fmt.Errorf("state dict is missing parameter %q", p.Name)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("parameter %q size mismatch: got %d, want %d", p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return nil
}

// SetTraining implements Model.
func (m *MeanEmbed) SetTraining(training bool) {
	m.training = training
}

// Place implements Model.
func (m *MeanEmbed) Place(device string) {
	m.device = device
}

func (m *MeanEmbed) embedding(table *tensor.Param, tok int64) []float64 {
	if tok < 0 || int(tok) >= m.vocabSize {
		panic(fmt.Sprintf("seq2seq: token id %d outside vocabulary of size %d", tok, m.vocabSize))
	}
	return table.Data[int(tok)*m.dim : (int(tok)+1)*m.dim]
}

// meanSourceEmbedding averages the source embeddings of non-pad tokens.
func (m *MeanEmbed) meanSourceEmbedding(row []int64) ([]float64, int) {
	mean := make([]float64, m.dim)
	count := 0
	for _, tok := range row {
		if tok <= PadID {
			continue
		}
		emb := m.embedding(m.srcEmbed, tok)
		for d := 0; d < m.dim; d++ {
			mean[d] += emb[d]
		}
		count++
	}
	if count > 0 {
		for d := 0; d < m.dim; d++ {
			mean[d] /= float64(count)
		}
	}
	return mean, count
}

// sample emits a greedy hypothesis per example: the vocabulary token nearest
// to the example's mean source embedding, repeated for the reference content
// length, then a closing end-of-sequence token.
func (m *MeanEmbed) sample(means [][]float64, tgt *tensor.Matrix) *tensor.Matrix {
	out := tensor.NewMatrix(tgt.Rows, tgt.Cols)
	for i := 0; i < tgt.Rows; i++ {
		best := m.nearestToken(means[i])
		hypLen := tgt.MaskedLen(i) - 2
		if hypLen < 0 {
			hypLen = 0
		}
		col := 0
		for ; col < hypLen && col < tgt.Cols; col++ {
			out.Set(i, col, best)
		}
		if col < tgt.Cols {
			out.Set(i, col, EosID)
		}
	}
	return out
}

func (m *MeanEmbed) nearestToken(mean []float64) int64 {
	best := int64(EosID + 1)
	bestDist := 0.0
	for tok := int64(EosID + 1); int(tok) < m.vocabSize; tok++ {
		emb := m.embedding(m.tgtEmbed, tok)
		dist := 0.0
		for d := 0; d < m.dim; d++ {
			diff := emb[d] - mean[d]
			dist += diff * diff
		}
		if tok == EosID+1 || dist < bestDist {
			best, bestDist = tok, dist
		}
	}
	return best
}
