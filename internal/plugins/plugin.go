// Package plugins defines the capability-based plugin contract and the
// sequential hook pipeline that resolves, loads, and transforms module
// content.
//
// A plugin is a value with an explicit optional-function field per hook; the
// pipeline iterates the plugin list in registration order and checks field
// presence. resolveId and load are first-match-wins, transform is
// all-run-in-order with position maps composed across hops.
package plugins

import (
	"context"
	"net/http"

	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/types"
)

// Plugin supplies any subset of the hook capabilities. Name is required for
// error attribution; every hook field is independently optional.
type Plugin struct {
	// Name identifies the plugin in errors and logs
	Name string

	// ResolveID maps a specifier (relative to importer) to a module id.
	// Returning "" declines and the next plugin is consulted.
	ResolveID func(ctx context.Context, specifier, importer string) (string, error)

	// Load supplies module content for an id. Returning nil declines.
	Load func(ctx context.Context, id string) (*LoadResult, error)

	// Transform rewrites module code. Returning nil declines and the
	// previous code passes through unchanged.
	Transform func(ctx context.Context, code, id string) (*types.TransformResult, error)

	// ConfigureServer lets the plugin attach routes or inspect the graph
	// during server construction.
	ConfigureServer func(env *ServerEnv) error

	// HandleUpdate is invoked once per changed file before the update
	// scope is broadcast. Returning FullReload (or an error) degrades the
	// whole event to a full page reload.
	HandleUpdate func(ctx context.Context, update *UpdateContext) (UpdateAction, error)
}

// LoadResult is the output of a load hook.
type LoadResult struct {
	Code string
	Map  *types.SourceMap
}

// ServerEnv is the server handle passed to ConfigureServer hooks.
type ServerEnv struct {
	Mux    *http.ServeMux
	Graph  *graph.ModuleGraph
	Logger logging.Logger
	Root   string
}

// UpdateContext describes one changed file for HandleUpdate hooks.
type UpdateContext struct {
	// File is the changed filesystem path
	File string
	// Timestamp versions the resulting update descriptors
	Timestamp int64
	// Modules are the graph nodes backed by the changed file
	Modules []*graph.ModuleNode
}

// UpdateAction is a HandleUpdate verdict.
type UpdateAction int

const (
	// Continue lets the engine compute a fine-grained update scope
	Continue UpdateAction = iota
	// FullReload short-circuits the event to a full page reload
	FullReload
)
