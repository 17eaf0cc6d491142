package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"erpsync/internal/store"
)

// FileName is the snapshot file written inside each run directory.
const FileName = "orders.json"

type Snapshotter interface {
	WriteSnapshot(runID string, st store.Store) error
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

// Path returns where the snapshot for runID lives.
func (f *FilesystemSnapshotter) Path(runID string) string {
	return filepath.Join(f.baseDir, runID, FileName)
}

// WriteSnapshot dumps st to <baseDir>/<runID>/orders.json via a temp file and rename.
func (f *FilesystemSnapshotter) WriteSnapshot(runID string, st store.Store) error {
	if runID == "" {
		return fmt.Errorf("snapshot: empty run id")
	}
	dir := filepath.Join(f.baseDir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	dump, err := store.Dump(st)
	if err != nil {
		return fmt.Errorf("dump store: %w", err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".*")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path(runID)); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
