// Package transformer declares the contract for the external source-to-runtime
// code transformer. The server treats it as a black box: per-module transforms
// during serving, and batch pre-bundling for the dependency optimizer.
package transformer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conneroisu/modserve/internal/types"
)

// Service is the external transformer boundary.
type Service interface {
	// Transform converts one module's source into runtime-loadable form.
	// Returning nil means the code needs no conversion.
	Transform(ctx context.Context, code, id string) (*types.TransformResult, error)

	// Bundle pre-bundles package entry points into single-file artifacts.
	// entries maps package name to its on-disk entry point; outDir receives
	// one artifact per package, named <package>.js.
	Bundle(ctx context.Context, entries map[string]string, outDir string) error
}

// Passthrough is a Service that serves source unmodified and bundles by
// copying entry points. It stands in where no real transformer is wired,
// and in tests.
type Passthrough struct{}

// Transform returns nil: the source is already runtime-loadable.
func (Passthrough) Transform(ctx context.Context, code, id string) (*types.TransformResult, error) {
	return nil, nil
}

// Bundle copies each package entry point into outDir as <package>.js.
func (Passthrough) Bundle(ctx context.Context, entries map[string]string, outDir string) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for pkg, entry := range entries {
		content, err := os.ReadFile(entry)
		if err != nil {
			return fmt.Errorf("reading entry for %s: %w", pkg, err)
		}
		artifact := filepath.Join(outDir, ArtifactName(pkg))
		if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(artifact, content, 0644); err != nil {
			return fmt.Errorf("writing artifact for %s: %w", pkg, err)
		}
	}
	return nil
}

// ArtifactName maps a package name to its artifact file name. Scoped and
// nested names flatten their separators so every artifact sits directly in
// the cache directory.
func ArtifactName(pkg string) string {
	name := make([]byte, 0, len(pkg)+3)
	for i := 0; i < len(pkg); i++ {
		switch pkg[i] {
		case '/', '@':
			if i > 0 {
				name = append(name, '_')
			}
		default:
			name = append(name, pkg[i])
		}
	}
	return string(name) + ".js"
}
