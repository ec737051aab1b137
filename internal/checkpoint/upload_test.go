package checkpoint_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/nmtkit/internal/checkpoint"
	"github.com/vk/nmtkit/internal/ctxlog"
)

func quietContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestUpload_PutsFileToPresignedURL(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint-bytes"), 0o600))

	var gotMethod string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	// --- Act ---
	err := checkpoint.Upload(quietContext(), server.URL, path)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "checkpoint-bytes", string(gotBody))
}

func TestUpload_NonOKStatusFails(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	// --- Act ---
	err := checkpoint.Upload(quietContext(), server.URL, path)

	// --- Assert ---
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

func TestUpload_MissingFileFails(t *testing.T) {
	t.Parallel()

	err := checkpoint.Upload(quietContext(), "http://localhost:0", filepath.Join(t.TempDir(), "absent.bin"))

	require.Error(t, err)
}
