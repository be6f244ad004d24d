// Package transform orchestrates per-request module transforms: graph cache
// lookup first, otherwise resolve -> load -> transform through the plugin
// pipeline, with the result stored back on the module node.
package transform

import (
	"context"
	"path"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/scanner"
	"github.com/conneroisu/modserve/internal/types"
)

// Orchestrator ties the module graph and the plugin pipeline together.
// Concurrent requests for the same module id share one in-flight transform;
// different ids proceed independently.
type Orchestrator struct {
	graph    *graph.ModuleGraph
	pipeline *plugins.Pipeline
	logger   logging.Logger
	inflight singleflight.Group
}

// NewOrchestrator creates the per-request transform entry point.
func NewOrchestrator(g *graph.ModuleGraph, pipeline *plugins.Pipeline, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &Orchestrator{
		graph:    g,
		pipeline: pipeline,
		logger:   logger.WithComponent("transform"),
	}
}

// TransformRequest serves one module request. A nil result with nil error
// means nothing could supply or transform content for the URL; the caller
// maps that to a not-found or static-asset response. Version query tokens
// on the URL are ignored for caching; they only bust client-side caches.
func (o *Orchestrator) TransformRequest(ctx context.Context, url string) (*types.TransformResult, error) {
	node := o.graph.EnsureEntry(url)

	if cached := o.graph.CachedResult(node); cached != nil {
		return cached, nil
	}

	result, err, _ := o.inflight.Do(node.ID, func() (interface{}, error) {
		// A request that queued behind the winning transform finds the
		// fresh result here.
		if cached := o.graph.CachedResult(node); cached != nil {
			return cached, nil
		}
		return o.transformMiss(ctx, node)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*types.TransformResult), nil
}

// transformMiss drives resolve -> load -> transform for one module and
// stores the result. Hooks run strictly one at a time; an error leaves no
// partial state on the node.
func (o *Orchestrator) transformMiss(ctx context.Context, node *graph.ModuleNode) (interface{}, error) {
	resolved, err := o.pipeline.ResolveID(ctx, node.ID, "")
	if err != nil {
		return nil, err
	}
	if resolved == "" {
		// Plugin-supplied virtual ids resolve to themselves.
		resolved = node.ID
	}
	if resolved != node.ID && strings.HasPrefix(resolved, "/") {
		o.graph.SetFile(node, resolved)
	}

	loaded, err := o.pipeline.Load(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		o.logger.Debug(ctx, "no loader produced content", "id", resolved)
		return nil, nil
	}

	result, err := o.pipeline.Transform(ctx, loaded.Code, resolved)
	if err != nil {
		return nil, err
	}
	if result == nil {
		// No transform occurred; the caller falls back to asset serving.
		return nil, nil
	}
	result.Map = types.Compose(loaded.Map, result.Map)

	imported := resolveRelative(node.ID, scanner.Specifiers(result.Code))
	acceptedSpecs, selfAccepting := scanner.ScanHotAccepts(result.Code)
	accepted := resolveRelative(node.ID, acceptedSpecs)

	o.graph.UpdateDependencies(node, imported, accepted, selfAccepting)
	o.graph.SetResult(node, result)
	return result, nil
}

// resolveRelative maps specifiers from the transformed code onto module
// URLs: relative paths join against the importing module, absolute paths
// pass through, bare specifiers (already rewritten, or external) drop out.
func resolveRelative(importer string, specs []string) []string {
	urls := make([]string, 0, len(specs))
	for _, spec := range specs {
		switch {
		case strings.HasPrefix(spec, "/"):
			urls = append(urls, spec)
		case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
			urls = append(urls, path.Clean(path.Join(path.Dir(importer), spec)))
		}
	}
	return urls
}
