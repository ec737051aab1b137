package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"

	"github.com/vk/nmtkit/internal/seq2seq"
	"github.com/vk/nmtkit/internal/tensor"
)

// Pair is one numericalized sentence pair. Tgt carries the leading and
// trailing sequence sentinels; Src does not.
type Pair struct {
	Src []int64
	Tgt []int64
}

// Corpus is an in-memory parallel corpus with deterministic batching. Epoch
// order is fixed so that runs are reproducible batch-for-batch.
type Corpus struct {
	batchSize int
	train     []Pair
	valid     []Pair
	rawValid  []Example
	rank      int
	world     int
}

// CorpusInput is the HCL argument block for the corpus dataset.
type CorpusInput struct {
	TrainSrc  string `hcl:"train_src"`
	TrainTgt  string `hcl:"train_tgt"`
	ValidSrc  string `hcl:"valid_src"`
	ValidTgt  string `hcl:"valid_tgt"`
	BatchSize int    `hcl:"batch_size"`
}

// NewCorpus builds a corpus from already-loaded pairs. Target sides of both
// splits must carry their sentinels.
func NewCorpus(train, valid []Pair, batchSize int) *Corpus {
	if batchSize <= 0 {
		panic(fmt.Sprintf("dataset: batch size must be positive, got %d", batchSize))
	}
	c := &Corpus{batchSize: batchSize, train: train, valid: valid, world: 1}
	for _, p := range valid {
		c.rawValid = append(c.rawValid, Example{Tgt: rawTokens(p.Tgt)})
	}
	return c
}

// LoadCorpus reads four token files (one sentence per line, space-separated
// integer token ids) and wraps every target line in sequence sentinels.
func LoadCorpus(trainSrc, trainTgt, validSrc, validTgt string, batchSize int) (*Corpus, error) {
	train, err := loadPairs(trainSrc, trainTgt)
	if err != nil {
		return nil, fmt.Errorf("failed to load training corpus: %w", err)
	}
	valid, err := loadPairs(validSrc, validTgt)
	if err != nil {
		return nil, fmt.Errorf("failed to load validation corpus: %w", err)
	}
	return NewCorpus(train, valid, batchSize), nil
}

// CorpusFactory decodes an HCL body into a loaded corpus.
func CorpusFactory(body hcl.Body) (Dataset, error) {
	var in CorpusInput
	if diags := gohcl.DecodeBody(body, nil, &in); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode dataset arguments: %w", diags)
	}
	return LoadCorpus(in.TrainSrc, in.TrainTgt, in.ValidSrc, in.ValidTgt, in.BatchSize)
}

// NTrainBatch implements Dataset.
func (c *Corpus) NTrainBatch() int {
	return len(c.TrainBatches())
}

// BatchSize implements Dataset.
func (c *Corpus) BatchSize() int {
	return c.batchSize
}

// TrainBatches implements Dataset. With a device scope set, rank r owns
// batches r, r+world, r+2*world, ... and every shard is truncated to the
// same length: participants issue collectives in lockstep per step, so
// unequal batch counts would desynchronize the cluster. Trailing batches
// that do not divide evenly are dropped on all ranks.
func (c *Corpus) TrainBatches() []Batch {
	all := c.buildBatches(c.train)
	if c.world <= 1 {
		return all
	}
	perRank := len(all) / c.world
	shard := make([]Batch, 0, perRank)
	for i := 0; i < perRank; i++ {
		shard = append(shard, all[i*c.world+c.rank])
	}
	return shard
}

// ValidSet implements Dataset.
func (c *Corpus) ValidSet() []Batch {
	return c.buildBatches(c.valid)
}

// RawValidData implements Dataset.
func (c *Corpus) RawValidData() []Example {
	return c.rawValid
}

// SetDeviceScope implements Dataset.
func (c *Corpus) SetDeviceScope(rank, world int) {
	if world <= 0 || rank < 0 || rank >= world {
		panic(fmt.Sprintf("dataset: invalid device scope rank=%d world=%d", rank, world))
	}
	c.rank, c.world = rank, world
}

// buildBatches groups pairs into fixed-size batches and pads each batch to
// its longest sequence, producing time-major matrices. A trailing partial
// batch is kept.
func (c *Corpus) buildBatches(pairs []Pair) []Batch {
	var batches []Batch
	for start := 0; start < len(pairs); start += c.batchSize {
		end := start + c.batchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		group := pairs[start:end]
		batches = append(batches, Batch{
			Src: timeMajor(group, func(p Pair) []int64 { return p.Src }),
			Tgt: timeMajor(group, func(p Pair) []int64 { return p.Tgt }),
		})
	}
	return batches
}

func timeMajor(group []Pair, side func(Pair) []int64) *tensor.Matrix {
	maxLen := 0
	for _, p := range group {
		if n := len(side(p)); n > maxLen {
			maxLen = n
		}
	}
	m := tensor.NewMatrix(maxLen, len(group))
	for col, p := range group {
		for row, tok := range side(p) {
			m.Set(row, col, tok)
		}
	}
	return m
}

// loadPairs zips a source and a target token file into sentence pairs,
// wrapping each target line in sentinels.
func loadPairs(srcPath, tgtPath string) ([]Pair, error) {
	srcLines, err := readTokenLines(srcPath)
	if err != nil {
		return nil, err
	}
	tgtLines, err := readTokenLines(tgtPath)
	if err != nil {
		return nil, err
	}
	if len(srcLines) != len(tgtLines) {
		return nil, fmt.Errorf("corpus sides differ in length: %s has %d lines, %s has %d",
			srcPath, len(srcLines), tgtPath, len(tgtLines))
	}
	pairs := make([]Pair, len(srcLines))
	for i := range srcLines {
		tgt := make([]int64, 0, len(tgtLines[i])+2)
		tgt = append(tgt, seq2seq.BosID)
		tgt = append(tgt, tgtLines[i]...)
		tgt = append(tgt, seq2seq.EosID)
		pairs[i] = Pair{Src: srcLines[i], Tgt: tgt}
	}
	return pairs, nil
}

func readTokenLines(path string) ([][]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		line := make([]int64, 0, len(fields))
		for _, field := range fields {
			tok, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: bad token %q: %w", path, field, err)
			}
			line = append(line, tok)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// rawTokens renders the content span of a sentinel-wrapped target sequence
// back to its corpus form for hash reporting.
func rawTokens(tgt []int64) []string {
	if len(tgt) < 2 {
		return nil
	}
	content := tgt[1 : len(tgt)-1]
	tokens := make([]string, len(content))
	for i, tok := range content {
		tokens[i] = strconv.FormatInt(tok, 10)
	}
	return tokens
}
