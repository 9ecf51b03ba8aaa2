package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactStore persists finished audit reports and serves them back
// by reference.
type ArtifactStore interface {
	Write(ctx context.Context, jobID, content string) (string, error)
	Read(ctx context.Context, ref string) (string, error)
}

// LocalArtifactStore writes reports under a data directory on disk.
type LocalArtifactStore struct {
	dataDir string
}

// NewLocalArtifactStore creates a filesystem-backed artifact store
func NewLocalArtifactStore(dataDir string) *LocalArtifactStore {
	return &LocalArtifactStore{dataDir: dataDir}
}

// Write stores the report at <dataDir>/<jobID>/report.txt and returns
// that path as the artifact reference.
func (s *LocalArtifactStore) Write(ctx context.Context, jobID, content string) (string, error) {
	dir := filepath.Join(s.dataDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Read loads a report previously written by this store.
func (s *LocalArtifactStore) Read(ctx context.Context, ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	return string(data), nil
}
