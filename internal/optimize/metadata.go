package optimize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DepMetadata is the persisted record of one pre-bundle pass. It is stale
// when ManifestHash no longer matches the current package manifest.
type DepMetadata struct {
	ManifestHash string                  `json:"manifestHash"`
	Optimized    map[string]OptimizedDep `json:"optimized"`
}

// OptimizedDep records one pre-bundled package.
type OptimizedDep struct {
	// ArtifactPath is the on-disk single-file bundle for the package
	ArtifactPath string `json:"artifactPath"`
	// RewriteNeeded marks packages whose import specifiers must be
	// rewritten to the artifact URL when serving modules
	RewriteNeeded bool `json:"rewriteNeeded"`
}

// ArtifactsPresent reports whether every recorded artifact still exists.
func (m *DepMetadata) ArtifactsPresent() bool {
	for _, dep := range m.Optimized {
		if _, err := os.Stat(dep.ArtifactPath); err != nil {
			return false
		}
	}
	return true
}

// MetadataStore persists DepMetadata between server runs. It is an explicit
// passed-in store rather than ambient state; the optimizer owns the staleness
// decision, the store only loads and saves.
type MetadataStore struct {
	path string
}

// NewMetadataStore creates a store writing to the given cache directory.
func NewMetadataStore(cacheDir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(cacheDir, "_metadata.json")}
}

// Load returns the persisted metadata, or (nil, nil) when none exists.
func (s *MetadataStore) Load() (*DepMetadata, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading dep metadata: %w", err)
	}

	var meta DepMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// A corrupt metadata file is treated as absent; the optimizer
		// will rebuild and overwrite it.
		return nil, nil
	}
	return &meta, nil
}

// Save persists the metadata atomically via a temp-file rename.
func (s *MetadataStore) Save(meta *DepMetadata) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
