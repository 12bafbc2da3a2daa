package incremental

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultManifestPath is where the manifest lives unless configured
const DefaultManifestPath = "./data/index-manifest.json"

// manifestVersion is bumped when the on-disk layout changes
const manifestVersion = 1

// Entry records the indexed state of one file
type Entry struct {
	Hash       string    `json:"hash"`
	ModTime    time.Time `json:"modTime"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunkCount"`
}

// Manifest maps root-relative, slash-separated paths to their entries
type Manifest struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Files     map[string]Entry `json:"files"`
}

func newManifest() *Manifest {
	return &Manifest{Version: manifestVersion, Files: make(map[string]Entry)}
}

func (m *Manifest) clone() *Manifest {
	out := &Manifest{Version: m.Version, UpdatedAt: m.UpdatedAt, Files: make(map[string]Entry, len(m.Files))}
	for k, v := range m.Files {
		out.Files[k] = v
	}
	return out
}

// readManifest decodes the manifest at path
func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	return m, nil
}

// writeManifest replaces path atomically: temp file in the same
// directory, fsync, rename
func writeManifest(path string, m *Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// HashFile returns the hex xxh3-64 of the file contents
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
