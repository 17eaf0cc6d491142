package restore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"erpsync/internal/manifest"
	"erpsync/internal/model"
	"erpsync/internal/snapshot"
	"erpsync/internal/store"
)

type Restorer struct {
	store          store.Store
	manifestReader manifest.Reader
	snapshots      *snapshot.FilesystemSnapshotter
	logger         *zap.Logger
}

func NewRestorer(st store.Store, mr manifest.Reader, snapshotBaseDir string, logger *zap.Logger) *Restorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Restorer{
		store:          st,
		manifestReader: mr,
		snapshots:      snapshot.NewFilesystemSnapshotter(snapshotBaseDir),
		logger:         logger,
	}
}

type RestoreResult struct {
	Manifest manifest.Manifest
	Loaded   int
	Missing  bool
}

// RestoreFromSnapshot replaces the store with the snapshot of runID.
// A missing snapshot leaves the store untouched and is reported, not failed.
func (r *Restorer) RestoreFromSnapshot(runID string) (int, bool, error) {
	if runID == "" {
		return 0, true, nil
	}
	path := r.snapshots.Path(runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("snapshot not found, skipping", zap.String("path", path))
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("read snapshot: %w", err)
	}
	var dump map[string]model.Order
	if err := json.Unmarshal(data, &dump); err != nil {
		return 0, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := r.store.LoadAll(dump); err != nil {
		return 0, false, fmt.Errorf("load store: %w", err)
	}
	r.logger.Info("snapshot loaded", zap.Int("orders", len(dump)), zap.String("run_id", runID))
	return len(dump), false, nil
}

// RestoreLatest reads the latest manifest and loads its snapshot.
func (r *Restorer) RestoreLatest(ctx context.Context) (RestoreResult, error) {
	m, err := r.manifestReader.ReadLatest(ctx)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}
	n, missing, err := r.RestoreFromSnapshot(m.RunID)
	if err != nil {
		return RestoreResult{Manifest: m}, fmt.Errorf("restore snapshot: %w", err)
	}
	return RestoreResult{Manifest: m, Loaded: n, Missing: missing}, nil
}
