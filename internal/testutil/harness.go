package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/app"
	"github.com/vk/nmtkit/internal/hclconf"
)

// HarnessResult holds the outcomes of an end-to-end training test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
	Dir       string
}

// RunTrainingTest provides a standardized harness for end-to-end tests using
// a default background context. The files map is written into a temporary
// directory; the placeholder {{dir}} in any file's content is replaced with
// that directory's path so configs can reference their sibling data files.
func RunTrainingTest(t *testing.T, files map[string]string) *HarnessResult {
	t.Helper()
	return RunTrainingTestWithContext(context.Background(), t, files)
}

// RunTrainingTestWithContext is RunTrainingTest with a caller-supplied
// context.
func RunTrainingTestWithContext(ctx context.Context, t *testing.T, files map[string]string) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		content = strings.ReplaceAll(content, "{{dir}}", tmpDir)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	var buf SafeBuffer
	appConfig, err := app.NewConfig(app.AppConfig{
		ConfigPath: tmpDir,
		LogFormat:  "text",
		LogLevel:   "debug",
	})
	require.NoError(t, err)

	trainerApp := app.NewApp(&buf, appConfig, hclconf.NewLoader())
	runErr := trainerApp.Run(ctx, appConfig)

	return &HarnessResult{
		LogOutput: buf.String(),
		Err:       runErr,
		App:       trainerApp,
		Dir:       tmpDir,
	}
}
