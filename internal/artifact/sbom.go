package artifact

import (
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
)

// SBOMStore writes syft SBOM documents under dir/sbom, gzipped, and
// records the checksum of the file as stored on disk.
type SBOMStore struct {
	dir string
}

func NewSBOMStore(artifactsDir string) *SBOMStore {
	return &SBOMStore{dir: filepath.Join(artifactsDir, "sbom")}
}

// Put stores the raw syft JSON for a run and returns the reference to
// embed in the provenance artifact. The write goes through a temp file
// and rename so a crash never leaves a half-written SBOM behind.
func (s *SBOMStore) Put(runID string, syftJSON []byte) (*SBOMRef, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("sbom: mkdir: %w", err)
	}
	final := filepath.Join(s.dir, runID+".syft.json.gz")

	tmp, err := os.CreateTemp(s.dir, runID+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("sbom: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if _, err := zw.Write(syftJSON); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sbom: write: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sbom: close gzip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("sbom: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("sbom: rename: %w", err)
	}

	stored, err := os.ReadFile(final)
	if err != nil {
		return nil, fmt.Errorf("sbom: read back: %w", err)
	}
	sum := sha256.Sum256(stored)
	return &SBOMRef{
		Path:      final,
		SHA256:    fmt.Sprintf("%x", sum[:]),
		SizeBytes: int64(len(stored)),
		Format:    "syft-json",
	}, nil
}
