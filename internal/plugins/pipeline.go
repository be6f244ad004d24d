package plugins

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/types"
)

// resolveExtensions are tried in order when a specifier has no match on
// disk as written.
var resolveExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".json", ".css"}

// Pipeline executes plugin hooks sequentially over an ordered plugin list.
// It never runs two hooks for the same request concurrently; each transform
// hook depends on the previous hook's output.
type Pipeline struct {
	plugins []Plugin
	root    string
	logger  logging.Logger
}

// NewPipeline creates a pipeline over the project root and the ordered
// plugin list.
func NewPipeline(root string, list []Plugin, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &Pipeline{
		plugins: list,
		root:    root,
		logger:  logger.WithComponent("pipeline"),
	}
}

// Plugins returns the registered plugin list in order.
func (p *Pipeline) Plugins() []Plugin {
	return p.plugins
}

// Root returns the project root the pipeline resolves against.
func (p *Pipeline) Root() string {
	return p.root
}

// ResolveID resolves a module specifier to a module id. The first plugin
// returning a non-empty id wins and later plugins are never consulted. When
// no plugin matches and the specifier is a relative or absolute path, the
// filesystem fallback tries the literal path, the known extension suffixes,
// and index-file variants inside a directory. An unresolvable specifier
// yields "" with no error; the caller decides whether that is fatal.
func (p *Pipeline) ResolveID(ctx context.Context, specifier, importer string) (string, error) {
	for _, plugin := range p.plugins {
		if plugin.ResolveID == nil {
			continue
		}
		resolved, err := plugin.ResolveID(ctx, specifier, importer)
		if err != nil {
			return "", errors.NewTransformError(plugin.Name, "resolveId", specifier, err)
		}
		if resolved != "" {
			return resolved, nil
		}
	}

	return p.resolveFile(specifier, importer), nil
}

// resolveFile maps path-shaped specifiers onto the filesystem under root.
// Ids stay in URL form (root-relative, leading slash).
func (p *Pipeline) resolveFile(specifier, importer string) string {
	var id string
	switch {
	case strings.HasPrefix(specifier, "/"):
		id = path.Clean(specifier)
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		base := "/"
		if importer != "" {
			base = path.Dir(importer)
		}
		id = path.Clean(path.Join(base, specifier))
	default:
		// Bare specifiers have no filesystem fallback.
		return ""
	}

	if try := p.tryFile(id); try != "" {
		return try
	}
	return ""
}

func (p *Pipeline) tryFile(id string) string {
	file := filepath.Join(p.root, filepath.FromSlash(id))

	if info, err := os.Stat(file); err == nil {
		if !info.IsDir() {
			return id
		}
		// Directory: try index-file variants.
		for _, ext := range resolveExtensions {
			if fileExists(filepath.Join(file, "index"+ext)) {
				return path.Join(id, "index"+ext)
			}
		}
		return ""
	}

	for _, ext := range resolveExtensions {
		if fileExists(file + ext) {
			return id + ext
		}
	}
	return ""
}

func fileExists(file string) bool {
	info, err := os.Stat(file)
	return err == nil && !info.IsDir()
}

// Load supplies content for a module id. First plugin returning a non-nil
// result wins; with no plugin match the backing file under root is read.
// A missing file returns (nil, nil) rather than an error, letting the
// caller decide whether that is fatal.
func (p *Pipeline) Load(ctx context.Context, id string) (*LoadResult, error) {
	for _, plugin := range p.plugins {
		if plugin.Load == nil {
			continue
		}
		result, err := plugin.Load(ctx, id)
		if err != nil {
			return nil, errors.NewTransformError(plugin.Name, "load", id, err)
		}
		if result != nil {
			return result, nil
		}
	}

	file := filepath.Join(p.root, filepath.FromSlash(strings.TrimPrefix(id, "/")))
	content, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &LoadResult{Code: string(content)}, nil
}

// Transform runs every transform hook in registration order. Each hook
// receives the previous hook's output; position maps are composed so the
// final result still maps back to original source. A hook returning nil
// passes the code through unchanged. When the final code is identical to
// the input, Transform returns (nil, nil): no transform occurred and the
// caller may fall back to default asset serving.
func (p *Pipeline) Transform(ctx context.Context, code, id string) (*types.TransformResult, error) {
	current := code
	var composed *types.SourceMap

	for _, plugin := range p.plugins {
		if plugin.Transform == nil {
			continue
		}
		result, err := plugin.Transform(ctx, current, id)
		if err != nil {
			return nil, errors.NewTransformError(plugin.Name, "transform", id, err)
		}
		if result == nil {
			continue
		}
		current = result.Code
		composed = types.Compose(composed, result.Map)
	}

	if current == code {
		return nil, nil
	}
	return &types.TransformResult{Code: current, Map: composed}, nil
}
