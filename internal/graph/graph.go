// Package graph maintains the in-memory module dependency graph: module
// identity, dependency edges, and cached transform results.
//
// The graph is an arena of nodes addressed by stable string keys held in two
// indexes (url -> node, file -> node set). Edges are key-sets rather than
// pointers, so ownership stays unambiguous: the graph owns every node and
// edges are non-owning references by key.
package graph

import (
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/modserve/internal/types"
)

// ModuleNode records one distinct module identity: a normalized URL stripped
// of query and hash suffixes.
type ModuleNode struct {
	// ID is the stable key, a normalized URL
	ID string
	// File is the backing filesystem path, empty for virtual modules
	File string
	// Importers holds the IDs of modules that import this one
	Importers map[string]struct{}
	// ImportedModules holds the IDs of modules this one imports;
	// kept mutually consistent with Importers
	ImportedModules map[string]struct{}
	// AcceptedHmrDeps is the subset of ImportedModules this node declares
	// it can hot-swap without a full reload
	AcceptedHmrDeps map[string]struct{}
	// IsSelfAccepting is true when the module can replace itself in place
	IsSelfAccepting bool
	// TransformResult is the cached output; nil means needs (re)transform
	TransformResult *types.TransformResult
	// LastUpdated versions the module for client-side cache busting,
	// milliseconds, strictly increasing per node
	LastUpdated int64
}

func newModuleNode(id string) *ModuleNode {
	return &ModuleNode{
		ID:              id,
		Importers:       make(map[string]struct{}),
		ImportedModules: make(map[string]struct{}),
		AcceptedHmrDeps: make(map[string]struct{}),
		LastUpdated:     time.Now().UnixMilli(),
	}
}

// ModuleGraph owns all module nodes. Created once per server instance; nodes
// are created lazily on first reference and only cleared on shutdown.
type ModuleGraph struct {
	urlToNode   map[string]*ModuleNode
	fileToNodes map[string]map[string]struct{}
	mutex       sync.RWMutex
}

// NewModuleGraph creates an empty module graph.
func NewModuleGraph() *ModuleGraph {
	return &ModuleGraph{
		urlToNode:   make(map[string]*ModuleNode),
		fileToNodes: make(map[string]map[string]struct{}),
	}
}

// NormalizeURL strips query and hash suffixes so URL variants share one
// module identity. Version query tokens only exist to bust client caches.
func NormalizeURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return url
}

// EnsureEntry returns the node for the normalized URL, creating it on first
// reference. A URL that denotes a filesystem path is also registered under
// its backing file.
func (g *ModuleGraph) EnsureEntry(url string) *ModuleNode {
	id := NormalizeURL(url)

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if node, ok := g.urlToNode[id]; ok {
		return node
	}

	node := newModuleNode(id)
	if strings.HasPrefix(id, "/") {
		node.File = id
		g.indexFileLocked(id, id)
	}
	g.urlToNode[id] = node
	return node
}

// Get returns the node for the normalized URL, or nil when it was never
// referenced.
func (g *ModuleGraph) Get(url string) *ModuleNode {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.urlToNode[NormalizeURL(url)]
}

// SetFile rebinds a node to its resolved backing file. One file may back
// multiple URL variants.
func (g *ModuleGraph) SetFile(node *ModuleNode, file string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if node.File == file {
		return
	}
	if node.File != "" {
		if ids, ok := g.fileToNodes[node.File]; ok {
			delete(ids, node.ID)
			if len(ids) == 0 {
				delete(g.fileToNodes, node.File)
			}
		}
	}
	node.File = file
	if file != "" {
		g.indexFileLocked(file, node.ID)
	}
}

func (g *ModuleGraph) indexFileLocked(file, id string) {
	ids, ok := g.fileToNodes[file]
	if !ok {
		ids = make(map[string]struct{})
		g.fileToNodes[file] = ids
	}
	ids[id] = struct{}{}
}

// NodesForFile returns every node backed by the given file.
func (g *ModuleGraph) NodesForFile(file string) []*ModuleNode {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	ids, ok := g.fileToNodes[file]
	if !ok {
		return nil
	}
	nodes := make([]*ModuleNode, 0, len(ids))
	for id := range ids {
		if node, exists := g.urlToNode[id]; exists {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// UpdateDependencies reconciles a node's dependency edges against the
// freshly parsed import set of its transformed code. Edges to modules no
// longer imported are removed, edges to newly-discovered modules are added
// (creating nodes for unseen URLs), and the importer back-references stay
// consistent on both sides so stale edges never leak.
//
// acceptedURLs and selfAccepting record the module's hot-update contract
// alongside its imports.
func (g *ModuleGraph) UpdateDependencies(node *ModuleNode, importedURLs, acceptedURLs []string, selfAccepting bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	next := make(map[string]struct{}, len(importedURLs))
	for _, url := range importedURLs {
		next[NormalizeURL(url)] = struct{}{}
	}

	// Drop edges to modules no longer imported.
	for depID := range node.ImportedModules {
		if _, still := next[depID]; still {
			continue
		}
		delete(node.ImportedModules, depID)
		if dep, ok := g.urlToNode[depID]; ok {
			delete(dep.Importers, node.ID)
		}
	}

	// Add newly-discovered edges, creating unseen nodes.
	for depID := range next {
		dep, ok := g.urlToNode[depID]
		if !ok {
			dep = newModuleNode(depID)
			if strings.HasPrefix(depID, "/") {
				dep.File = depID
				g.indexFileLocked(depID, depID)
			}
			g.urlToNode[depID] = dep
		}
		node.ImportedModules[depID] = struct{}{}
		dep.Importers[node.ID] = struct{}{}
	}

	accepted := make(map[string]struct{}, len(acceptedURLs))
	for _, url := range acceptedURLs {
		accepted[NormalizeURL(url)] = struct{}{}
	}
	node.AcceptedHmrDeps = accepted
	node.IsSelfAccepting = selfAccepting
}

// Invalidate clears the node's cached transform result, then walks up the
// importer edges clearing each importer's cache as well. The walk stops at
// accepting boundaries: an importer that declared the invalidated module in
// its AcceptedHmrDeps, or that is self-accepting, has its own cache cleared
// but is not walked past. A visited set makes the walk terminate on cycles
// and touch each module once.
func (g *ModuleGraph) Invalidate(node *ModuleNode) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.invalidateLocked(node, make(map[string]struct{}))
}

func (g *ModuleGraph) invalidateLocked(node *ModuleNode, visited map[string]struct{}) {
	if _, seen := visited[node.ID]; seen {
		return
	}
	visited[node.ID] = struct{}{}
	node.TransformResult = nil

	for importerID := range node.Importers {
		importer, ok := g.urlToNode[importerID]
		if !ok {
			continue
		}
		_, accepts := importer.AcceptedHmrDeps[node.ID]
		if accepts || importer.IsSelfAccepting {
			// Boundary: the importer references a versioned URL that
			// just changed, so its cache is stale too, but the
			// invalidation does not cascade past it.
			if _, seen := visited[importerID]; !seen {
				visited[importerID] = struct{}{}
				importer.TransformResult = nil
			}
			continue
		}
		g.invalidateLocked(importer, visited)
	}
}

// CachedResult returns the node's cached transform result. Invalidation
// clears node caches on other goroutines; bare field reads race with it,
// so all readers go through here.
func (g *ModuleGraph) CachedResult(node *ModuleNode) *types.TransformResult {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return node.TransformResult
}

// SetResult stores a fresh transform result on the node.
func (g *ModuleGraph) SetResult(node *ModuleNode, result *types.TransformResult) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	node.TransformResult = result
}

// LastUpdatedAt returns the node's current version stamp.
func (g *ModuleGraph) LastUpdatedAt(node *ModuleNode) int64 {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return node.LastUpdated
}

// Boundary identifies one accepting module that absorbs a hot update,
// snapshotted under the graph lock.
type Boundary struct {
	ID   string
	File string
}

// AcceptingBoundaries walks the importer chains out of a changed node and
// collects the accepting modules that absorb the update: the node itself
// when self-accepting, otherwise every importer that accepts it or is
// self-accepting. The second return is false when any chain reaches a
// module with no importers, or revisits a module, without passing an
// accepting one; the caller falls back to a full reload.
func (g *ModuleGraph) AcceptingBoundaries(node *ModuleNode) ([]Boundary, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if node.IsSelfAccepting {
		return []Boundary{{ID: node.ID, File: node.File}}, true
	}

	var boundaries []Boundary
	collected := make(map[string]struct{})
	if !g.boundariesLocked(node, make(map[string]struct{}), collected, &boundaries) {
		return nil, false
	}
	return boundaries, true
}

func (g *ModuleGraph) boundariesLocked(node *ModuleNode, visited, collected map[string]struct{}, out *[]Boundary) bool {
	if _, seen := visited[node.ID]; seen {
		// Import cycle without an accepting module on it.
		return false
	}
	visited[node.ID] = struct{}{}

	if len(node.Importers) == 0 {
		// Dead end: the change propagated to a module nothing accepts.
		return false
	}

	for importerID := range node.Importers {
		importer, ok := g.urlToNode[importerID]
		if !ok {
			return false
		}
		_, accepts := importer.AcceptedHmrDeps[node.ID]
		if accepts || importer.IsSelfAccepting {
			if _, dup := collected[importer.ID]; !dup {
				collected[importer.ID] = struct{}{}
				*out = append(*out, Boundary{ID: importer.ID, File: importer.File})
			}
			continue
		}
		if !g.boundariesLocked(importer, visited, collected, out) {
			return false
		}
	}
	return true
}

// OnFileChange invalidates every node backed by the changed file and stamps
// each with a fresh timestamp. It returns the affected nodes so the caller
// can compute the update scope.
func (g *ModuleGraph) OnFileChange(file string) []*ModuleNode {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	ids, ok := g.fileToNodes[file]
	if !ok {
		return nil
	}

	now := time.Now().UnixMilli()
	nodes := make([]*ModuleNode, 0, len(ids))
	for id := range ids {
		node, exists := g.urlToNode[id]
		if !exists {
			continue
		}
		if now <= node.LastUpdated {
			now = node.LastUpdated + 1
		}
		node.LastUpdated = now
		g.invalidateLocked(node, make(map[string]struct{}))
		nodes = append(nodes, node)
	}
	return nodes
}
