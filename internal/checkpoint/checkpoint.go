// Package checkpoint persists and restores training state: a gob-encoded
// record with model and optimizer snapshots, plus a plain-text log sidecar
// next to it.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/vk/nmtkit/internal/fsutil"
	"github.com/vk/nmtkit/internal/optimizer"
)

// SidecarSuffix is appended to a checkpoint path to name its log sidecar.
const SidecarSuffix = ".log"

// Record is one persisted checkpoint.
type Record struct {
	Epoch          int
	Step           int
	ModelState     map[string][]float64
	OptimizerState optimizer.State
}

// Save writes the record to path, creating parent directories as needed. The
// file is replaced atomically via a rename from a temporary sibling.
func Save(path string, rec *Record) error {
	if err := fsutil.EnsureParentDir(path); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load reads a record previously written by Save.
func Load(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	var rec Record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	return &rec, nil
}

// WriteSidecar rewrites the log sidecar of the checkpoint at path with the
// given lines, one per line. Previous sidecar content is discarded.
func WriteSidecar(path string, lines []string) error {
	f, err := os.Create(path + SidecarSuffix)
	if err != nil {
		return fmt.Errorf("failed to create log sidecar: %w", err)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			f.Close()
			return fmt.Errorf("failed to write log sidecar: %w", err)
		}
	}
	return f.Close()
}
