// Package optimize implements the dependency pre-bundling pass that runs
// once at server startup: it crawls the configured entry points for bare
// (external package) imports, decides via a manifest content hash whether
// the persisted pre-bundle is still fresh, and otherwise hands the whole
// batch to the external Transformer to produce single-file artifacts.
package optimize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	modserveerrors "github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/scanner"
	"github.com/conneroisu/modserve/internal/transformer"
)

var crawlExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs"}

// Options configures an optimizer run.
type Options struct {
	// Root is the project root all entries resolve against
	Root string
	// Entries are the configured entry files, relative to Root
	Entries []string
	// CacheDir receives the pre-bundled artifacts and metadata
	CacheDir string
	// Manifest is the package manifest path, relative to Root
	Manifest string
}

// Optimizer owns the startup pre-bundle pass.
type Optimizer struct {
	opts    Options
	service transformer.Service
	store   *MetadataStore
	logger  logging.Logger
}

// NewOptimizer wires the optimizer with its external collaborators.
func NewOptimizer(opts Options, service transformer.Service, store *MetadataStore, logger logging.Logger) *Optimizer {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &Optimizer{
		opts:    opts,
		service: service,
		store:   store,
		logger:  logger.WithComponent("optimizer"),
	}
}

// Run executes the pass and returns the metadata describing the current
// pre-bundle, whether freshly built or reused from cache. The server must
// not begin serving until Run returns.
func (o *Optimizer) Run(ctx context.Context) (*DepMetadata, error) {
	bare, err := o.collectBareImports()
	if err != nil {
		return nil, err
	}

	hash, err := o.manifestHash()
	if err != nil {
		return nil, err
	}

	if cached, err := o.store.Load(); err != nil {
		return nil, err
	} else if cached != nil && cached.ManifestHash == hash && cached.ArtifactsPresent() {
		o.logger.Info(ctx, "dependency pre-bundle up to date",
			"packages", len(cached.Optimized), "hash", hash)
		return cached, nil
	}

	meta := &DepMetadata{
		ManifestHash: hash,
		Optimized:    make(map[string]OptimizedDep, len(bare)),
	}

	if len(bare) == 0 {
		if err := o.store.Save(meta); err != nil {
			return nil, err
		}
		return meta, nil
	}

	entries, err := o.resolvePackages(ctx, bare)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("pre-bundling failed: none of %d referenced packages could be resolved", len(bare))
	}

	if err := o.service.Bundle(ctx, entries, o.opts.CacheDir); err != nil {
		return nil, fmt.Errorf("bundling dependencies: %w", err)
	}

	for pkg := range entries {
		meta.Optimized[pkg] = OptimizedDep{
			ArtifactPath:  filepath.Join(o.opts.CacheDir, transformer.ArtifactName(pkg)),
			RewriteNeeded: true,
		}
	}

	if err := o.store.Save(meta); err != nil {
		return nil, err
	}

	o.logger.Info(ctx, "dependency pre-bundle rebuilt",
		"packages", len(meta.Optimized), "hash", hash)
	return meta, nil
}

// collectBareImports crawls the entry files, following relative imports
// with a visited set, and returns every bare specifier found, sorted.
func (o *Optimizer) collectBareImports() ([]string, error) {
	bare := make(map[string]struct{})
	visited := make(map[string]struct{})

	var crawl func(rel string) error
	crawl = func(rel string) error {
		rel = path.Clean(rel)
		if _, seen := visited[rel]; seen {
			return nil
		}
		visited[rel] = struct{}{}

		file := filepath.Join(o.opts.Root, filepath.FromSlash(rel))
		content, err := os.ReadFile(file)
		if err != nil {
			return err
		}

		if strings.HasSuffix(rel, ".html") {
			for _, src := range scriptSources(string(content)) {
				if next := o.resolveLocal(path.Dir(rel), src); next != "" {
					if err := crawl(next); err != nil {
						return err
					}
				}
			}
			return nil
		}

		for _, spec := range scanner.Specifiers(string(content)) {
			if scanner.IsBareSpecifier(spec) {
				bare[spec] = struct{}{}
				continue
			}
			if next := o.resolveLocal(path.Dir(rel), spec); next != "" {
				if err := crawl(next); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, entry := range o.opts.Entries {
		if err := crawl(entry); err != nil {
			return nil, fmt.Errorf("scanning entry %s: %w", entry, err)
		}
	}

	specs := make([]string, 0, len(bare))
	for spec := range bare {
		specs = append(specs, spec)
	}
	sort.Strings(specs)
	return specs, nil
}

// resolveLocal maps a relative or root-absolute specifier onto a project
// file, probing the crawl extensions; "" when nothing matches.
func (o *Optimizer) resolveLocal(fromDir, spec string) string {
	if strings.Contains(spec, ":") {
		return ""
	}
	var rel string
	if strings.HasPrefix(spec, "/") {
		rel = strings.TrimPrefix(path.Clean(spec), "/")
	} else {
		rel = path.Clean(path.Join(fromDir, spec))
	}

	candidate := filepath.Join(o.opts.Root, filepath.FromSlash(rel))
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return rel
	}
	for _, ext := range crawlExtensions {
		if info, err := os.Stat(candidate + ext); err == nil && !info.IsDir() {
			return rel + ext
		}
	}
	return ""
}

// scriptSources extracts script src attributes from an HTML document,
// skipping external URLs.
func scriptSources(doc string) []string {
	var sources []string
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return sources
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := tokenizer.TagName()
		if string(name) != "script" || !hasAttr {
			continue
		}
		for {
			key, val, more := tokenizer.TagAttr()
			if string(key) == "src" {
				src := string(val)
				if !strings.Contains(src, "://") {
					sources = append(sources, src)
				}
			}
			if !more {
				break
			}
		}
	}
}

// manifestHash hashes the package manifest content. A missing manifest
// hashes as empty, so adding one later invalidates the cache.
func (o *Optimizer) manifestHash() (string, error) {
	content, err := os.ReadFile(filepath.Join(o.opts.Root, o.opts.Manifest))
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("reading manifest: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(content)), nil
}

// resolvePackages maps each bare specifier to its on-disk package entry
// point. Unresolvable packages are logged and skipped; the batch continues.
func (o *Optimizer) resolvePackages(ctx context.Context, specs []string) (map[string]string, error) {
	entries := make(map[string]string, len(specs))
	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)

	for _, spec := range specs {
		group.Go(func() error {
			entry, err := o.packageEntry(spec)
			if err != nil {
				o.logger.Warn(ctx, &modserveerrors.OptimizerError{Package: spec, Cause: err},
					"skipping unresolvable package", "package", spec)
				return nil
			}
			mu.Lock()
			entries[spec] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// packageEntry locates a package's entry point under node_modules: the
// manifest's module field, then main, then index.js.
func (o *Optimizer) packageEntry(pkg string) (string, error) {
	pkgDir := filepath.Join(o.opts.Root, "node_modules", filepath.FromSlash(pkg))

	manifestPath := filepath.Join(pkgDir, "package.json")
	if data, err := os.ReadFile(manifestPath); err == nil {
		var manifest struct {
			Module string `json:"module"`
			Main   string `json:"main"`
		}
		if err := json.Unmarshal(data, &manifest); err == nil {
			for _, candidate := range []string{manifest.Module, manifest.Main} {
				if candidate == "" {
					continue
				}
				entry := filepath.Join(pkgDir, filepath.FromSlash(candidate))
				if info, statErr := os.Stat(entry); statErr == nil && !info.IsDir() {
					return entry, nil
				}
			}
		}
	}

	fallback := filepath.Join(pkgDir, "index.js")
	if info, err := os.Stat(fallback); err == nil && !info.IsDir() {
		return fallback, nil
	}
	return "", fmt.Errorf("no entry point found under %s", pkgDir)
}
