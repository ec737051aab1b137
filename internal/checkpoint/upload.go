package checkpoint

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/vk/nmtkit/internal/ctxlog"
)

// uploadClient is shared across uploads to reuse TCP connections.
var uploadClient = &http.Client{}

// Upload pushes the checkpoint file at path to a pre-signed URL with a single
// PUT request. It is used to mirror improved checkpoints to object storage.
func Upload(ctx context.Context, uploadURL, path string) error {
	logger := ctxlog.FromContext(ctx).With("action", "checkpoint_upload")

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint '%s': %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat checkpoint '%s': %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, file)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading checkpoint", "source", path, "size", stat.Size(), "contentType", contentType)

	resp, err := uploadClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("checkpoint upload failed with status: %s", resp.Status)
	}

	logger.Info("Checkpoint uploaded", "status", resp.Status)
	return nil
}
