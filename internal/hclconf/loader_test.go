package hclconf_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/config"
	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/hclconf"
	"github.com/vk/nmtkit/internal/seq2seq"
)

func loadFiles(t *testing.T, files map[string]string) (*config.Run, error) {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)
	return hclconf.NewLoader().Load(ctx, dir)
}

const minimalConfig = `
model "mean_embed" {
  vocab_size = 10
  dim        = 4
}

dataset "corpus" {
  train_src  = "train.src"
  train_tgt  = "train.tgt"
  valid_src  = "valid.src"
  valid_tgt  = "valid.tgt"
  batch_size = 2
}

optimizer "sgd" {
  lr = 0.1
}
`

func TestLoad_AppliesTrainingDefaults(t *testing.T) {
	t.Parallel()

	// --- Act ---
	run, err := loadFiles(t, map[string]string{"main.hcl": minimalConfig})

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 5.0, run.Training.ClipNorm)
	require.Equal(t, 10, run.Training.NValidPerEpoch)
	require.Equal(t, "bleu", run.Training.Criteria)
	require.Empty(t, run.Training.SavePath)
	require.Equal(t, "noop", run.Scheduler.Type)
	require.Equal(t, "standard", run.Strategy.Type)
	require.Nil(t, run.Cluster)
}

func TestLoad_ComponentBodiesDecodeDownstream(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	run, err := loadFiles(t, map[string]string{"main.hcl": minimalConfig})
	require.NoError(t, err)
	require.Equal(t, "mean_embed", run.Model.Type)

	// --- Act --- the loader leaves the argument body for the factory.
	model, err := seq2seq.MeanEmbedFactory(run.Model.Body)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, model.Params()[0].Data, 40)
}

func TestLoad_ExplicitTrainingBlock(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	files := map[string]string{
		"main.hcl": minimalConfig + `
training {
  save_path         = "out/model.bin"
  clip_norm         = 1.5
  n_valid_per_epoch = 4
  criteria          = "loss"
  upload_url        = "https://storage.example/presigned"
}

scheduler "anneal" {
  patience    = 2
  max_anneals = 3
}

strategy "standard" {
  max_epochs = 7
}
`,
	}

	// --- Act ---
	run, err := loadFiles(t, files)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, "out/model.bin", run.Training.SavePath)
	require.Equal(t, 1.5, run.Training.ClipNorm)
	require.Equal(t, 4, run.Training.NValidPerEpoch)
	require.Equal(t, "loss", run.Training.Criteria)
	require.Equal(t, "https://storage.example/presigned", run.Training.UploadURL)
	require.Equal(t, "anneal", run.Scheduler.Type)
	require.Equal(t, "standard", run.Strategy.Type)
}

func TestLoad_BlocksMayBeSplitAcrossFiles(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	files := map[string]string{
		"model.hcl": `
model "mean_embed" {
  vocab_size = 10
  dim        = 4
}
`,
		"rest.hcl": `
dataset "corpus" {
  train_src  = "train.src"
  train_tgt  = "train.tgt"
  valid_src  = "valid.src"
  valid_tgt  = "valid.tgt"
  batch_size = 2
}

optimizer "sgd" {
  lr = 0.1
}
`,
	}

	// --- Act ---
	run, err := loadFiles(t, files)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, "mean_embed", run.Model.Type)
	require.Equal(t, "corpus", run.Dataset.Type)
}

func TestLoad_DuplicateBlockAcrossFilesFails(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	files := map[string]string{
		"a.hcl": minimalConfig,
		"b.hcl": `
model "mean_embed" {
  vocab_size = 12
  dim        = 2
}
`,
	}

	// --- Act ---
	_, err := loadFiles(t, files)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate model block")
}

func TestLoad_MissingRequiredBlocksFail(t *testing.T) {
	t.Parallel()

	_, err := loadFiles(t, map[string]string{"main.hcl": `
model "mean_embed" {
  vocab_size = 10
  dim        = 4
}
`})

	require.Error(t, err)
	require.Contains(t, err.Error(), "missing a dataset block")
}

func TestLoad_ClusterValidation(t *testing.T) {
	t.Parallel()

	// Size below two is not a cluster.
	_, err := loadFiles(t, map[string]string{"main.hcl": minimalConfig + `
cluster {
  rank = 0
  size = 1
}
`})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cluster size must be at least 2")

	// A non-root participant must know where the root lives.
	_, err = loadFiles(t, map[string]string{"main.hcl": minimalConfig + `
cluster {
  rank = 1
  size = 2
}
`})
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires a root_url")

	// A well-formed worker block parses.
	run, err := loadFiles(t, map[string]string{"main.hcl": minimalConfig + `
cluster {
  rank     = 1
  size     = 2
  root_url = "http://root:7600"
}
`})
	require.NoError(t, err)
	require.NotNil(t, run.Cluster)
	require.Equal(t, 1, run.Cluster.Rank)
	require.Equal(t, "http://root:7600", run.Cluster.RootURL)
}

func TestLoad_EnvironmentInterpolation(t *testing.T) {
	// t.Setenv is incompatible with t.Parallel.
	t.Setenv("NMTKIT_TEST_OUT", "/data/run1")

	run, err := loadFiles(t, map[string]string{"main.hcl": minimalConfig + `
training {
  save_path = "${env.NMTKIT_TEST_OUT}/model.bin"
}
`})

	require.NoError(t, err)
	require.Equal(t, "/data/run1/model.bin", run.Training.SavePath)
}

func TestLoad_NoFilesFound(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	_, err := hclconf.NewLoader().Load(ctx, t.TempDir())

	require.Error(t, err)
	require.Contains(t, err.Error(), "no .hcl configuration files")
}
