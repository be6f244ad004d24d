// Package builtin provides the plugins every server instance registers:
// import rewriting against the pre-bundled dependency cache and CSS-to-JS
// module wrapping. It also bridges per-module transforms to the external
// transformer service.
package builtin

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/scanner"
	"github.com/conneroisu/modserve/internal/types"
)

// DepURLPrefix is the URL namespace pre-bundled package artifacts are served
// under.
const DepURLPrefix = "/@deps/"

var scriptExtensions = map[string]struct{}{
	".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".mjs": {},
}

// NewImportRewrite returns the plugin that rewrites import specifiers in
// served modules: bare specifiers point at their pre-bundled artifact URL,
// and path imports gain a version query so the browser refetches after a hot
// update. optimized maps package name to artifact URL path.
func NewImportRewrite(optimized map[string]string, g *graph.ModuleGraph) plugins.Plugin {
	return plugins.Plugin{
		Name: "import-rewrite",
		Transform: func(ctx context.Context, code, id string) (*types.TransformResult, error) {
			if _, ok := scriptExtensions[path.Ext(id)]; !ok {
				return nil, nil
			}

			imports := scanner.ScanImports(code)
			if len(imports) == 0 {
				return nil, nil
			}

			var b strings.Builder
			last := 0
			for _, imp := range imports {
				rewritten, ok := rewriteSpecifier(imp.Specifier, id, optimized, g)
				if !ok {
					continue
				}
				b.WriteString(code[last:imp.Start])
				b.WriteString(rewritten)
				last = imp.End
			}
			if last == 0 {
				return nil, nil
			}
			b.WriteString(code[last:])

			return &types.TransformResult{Code: b.String()}, nil
		},
	}
}

func rewriteSpecifier(specifier, importer string, optimized map[string]string, g *graph.ModuleGraph) (string, bool) {
	if scanner.IsBareSpecifier(specifier) {
		if artifact, ok := optimized[specifier]; ok {
			return artifact, true
		}
		return "", false
	}

	if !strings.HasPrefix(specifier, "./") && !strings.HasPrefix(specifier, "../") && !strings.HasPrefix(specifier, "/") {
		return "", false
	}

	// Version-stamp path imports so a hot update busts the browser cache.
	resolved := specifier
	if !strings.HasPrefix(specifier, "/") {
		resolved = path.Clean(path.Join(path.Dir(importer), specifier))
	}
	node := g.Get(resolved)
	if node == nil {
		return "", false
	}
	stamp := g.LastUpdatedAt(node)
	if stamp == 0 {
		return "", false
	}
	return fmt.Sprintf("%s?v=%d", specifier, stamp), true
}
