package dataset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/dataset"
)

func writeLines(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCorpus_BuildsTimeMajorBatches(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	trainSrc := writeLines(t, dir, "train.src", "3 4 5\n6 7\n")
	trainTgt := writeLines(t, dir, "train.tgt", "8 9\n10\n")
	validSrc := writeLines(t, dir, "valid.src", "3 4\n")
	validTgt := writeLines(t, dir, "valid.tgt", "11 12\n")

	// --- Act ---
	corpus, err := dataset.LoadCorpus(trainSrc, trainTgt, validSrc, validTgt, 2)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 1, corpus.NTrainBatch())
	require.Equal(t, 2, corpus.BatchSize())

	batch := corpus.TrainBatches()[0]

	// Source: rows are timesteps, one column per example, padded with zero.
	require.Equal(t, 3, batch.Src.Rows)
	require.Equal(t, 2, batch.Src.Cols)
	require.Equal(t, int64(3), batch.Src.At(0, 0))
	require.Equal(t, int64(7), batch.Src.At(1, 1))
	require.Equal(t, int64(0), batch.Src.At(2, 1))

	// Target: wrapped in sequence sentinels, so "8 9" becomes 1 8 9 2.
	require.Equal(t, 4, batch.Tgt.Rows)
	require.Equal(t, int64(1), batch.Tgt.At(0, 0))
	require.Equal(t, int64(8), batch.Tgt.At(1, 0))
	require.Equal(t, int64(9), batch.Tgt.At(2, 0))
	require.Equal(t, int64(2), batch.Tgt.At(3, 0))
}

func TestLoadCorpus_RawValidDataKeepsCorpusForm(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	trainSrc := writeLines(t, dir, "train.src", "3\n")
	trainTgt := writeLines(t, dir, "train.tgt", "4\n")
	validSrc := writeLines(t, dir, "valid.src", "3 4\n")
	validTgt := writeLines(t, dir, "valid.tgt", "11 12\n")

	// --- Act ---
	corpus, err := dataset.LoadCorpus(trainSrc, trainTgt, validSrc, validTgt, 1)

	// --- Assert --- sentinels never leak into the raw view.
	require.NoError(t, err)
	raw := corpus.RawValidData()
	require.Len(t, raw, 1)
	require.Equal(t, []string{"11", "12"}, raw[0].Tgt)
}

func TestLoadCorpus_MismatchedSidesFail(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	trainSrc := writeLines(t, dir, "train.src", "3\n4\n")
	trainTgt := writeLines(t, dir, "train.tgt", "5\n")
	validSrc := writeLines(t, dir, "valid.src", "3\n")
	validTgt := writeLines(t, dir, "valid.tgt", "5\n")

	// --- Act ---
	_, err := dataset.LoadCorpus(trainSrc, trainTgt, validSrc, validTgt, 1)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "differ in length")
}

func TestCorpus_DeviceScopeShardsByBatch(t *testing.T) {
	t.Parallel()

	// --- Arrange --- five single-pair batches.
	var pairs []dataset.Pair
	for i := int64(0); i < 5; i++ {
		pairs = append(pairs, dataset.Pair{Src: []int64{10 + i}, Tgt: []int64{1, 20 + i, 2}})
	}
	corpus := dataset.NewCorpus(pairs, nil, 1)

	// --- Act ---
	corpus.SetDeviceScope(1, 2)

	// --- Assert --- rank 1 of 2 owns batches 1 and 3.
	batches := corpus.TrainBatches()
	require.Equal(t, 2, corpus.NTrainBatch())
	require.Len(t, batches, 2)
	require.Equal(t, int64(11), batches[0].Src.At(0, 0))
	require.Equal(t, int64(13), batches[1].Src.At(0, 0))
}

func TestCorpus_ShardsHaveEqualSizeAcrossRanks(t *testing.T) {
	t.Parallel()

	// --- Arrange --- five batches do not divide evenly across two ranks.
	var pairs []dataset.Pair
	for i := int64(0); i < 5; i++ {
		pairs = append(pairs, dataset.Pair{Src: []int64{10 + i}, Tgt: []int64{1, 20 + i, 2}})
	}
	rank0 := dataset.NewCorpus(pairs, nil, 1)
	rank1 := dataset.NewCorpus(pairs, nil, 1)

	// --- Act ---
	rank0.SetDeviceScope(0, 2)
	rank1.SetDeviceScope(1, 2)

	// --- Assert --- both ranks see the same batch count, so step schedules
	// (and everything derived from them) agree across the cluster. The
	// leftover fifth batch is dropped everywhere.
	require.Equal(t, rank0.NTrainBatch(), rank1.NTrainBatch())
	require.Equal(t, 2, rank0.NTrainBatch())
	require.Equal(t, int64(10), rank0.TrainBatches()[0].Src.At(0, 0))
	require.Equal(t, int64(12), rank0.TrainBatches()[1].Src.At(0, 0))
}

func TestCorpus_ValidationIsNeverSharded(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	valid := []dataset.Pair{
		{Src: []int64{3}, Tgt: []int64{1, 4, 2}},
		{Src: []int64{5}, Tgt: []int64{1, 6, 2}},
	}
	corpus := dataset.NewCorpus(nil, valid, 1)

	// --- Act ---
	corpus.SetDeviceScope(1, 2)

	// --- Assert ---
	require.Len(t, corpus.ValidSet(), 2)
}

func TestCorpus_InvalidConstruction(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { dataset.NewCorpus(nil, nil, 0) })

	corpus := dataset.NewCorpus(nil, nil, 1)
	require.Panics(t, func() { corpus.SetDeviceScope(2, 2) })
	require.Panics(t, func() { corpus.SetDeviceScope(0, 0) })
}

func TestLoadCorpus_RejectsNonNumericTokens(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	trainSrc := writeLines(t, dir, "train.src", "3 oops\n")
	trainTgt := writeLines(t, dir, "train.tgt", "4\n")
	validSrc := writeLines(t, dir, "valid.src", "3\n")
	validTgt := writeLines(t, dir, "valid.tgt", "4\n")

	// --- Act ---
	_, err := dataset.LoadCorpus(trainSrc, trainTgt, validSrc, validTgt, 1)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad token")
}
