// Package hmr turns file change events into hot-update broadcasts. For every
// changed file it invalidates the affected graph nodes, searches the importer
// chains for accepting boundaries, and pushes either fine-grained updates or
// a full page reload over the websocket channel.
package hmr

import (
	"context"

	modserveerrors "github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/plugins/builtin"
	"github.com/conneroisu/modserve/internal/websocket"
)

// Broadcaster pushes update frames to connected pages.
type Broadcaster interface {
	BroadcastUpdate(updates []websocket.Update)
	BroadcastFullReload()
	BroadcastError(text string)
}

// Engine computes the update scope for file changes.
type Engine struct {
	graph       *graph.ModuleGraph
	plugins     []plugins.Plugin
	broadcaster Broadcaster
	logger      logging.Logger
}

// NewEngine creates the hot-update engine. Only plugins carrying a
// HandleUpdate hook participate in update events.
func NewEngine(g *graph.ModuleGraph, pluginList []plugins.Plugin, broadcaster Broadcaster, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	return &Engine{
		graph:       g,
		plugins:     pluginList,
		broadcaster: broadcaster,
		logger:      logger.WithComponent("hmr"),
	}
}

// HandleFileChange processes one modified file, given as the root-relative
// URL of the module it backs. The affected nodes are invalidated before the
// boundary search so clients always refetch fresh content, whatever scope
// the event degrades to.
func (e *Engine) HandleFileChange(ctx context.Context, file string) {
	nodes := e.graph.OnFileChange(file)
	if len(nodes) == 0 {
		// A file the graph never loaded changed; something outside the
		// module graph may depend on it.
		e.logger.Debug(ctx, "changed file not in graph, full reload", "file", file)
		e.broadcaster.BroadcastFullReload()
		return
	}

	timestamp := e.graph.LastUpdatedAt(nodes[0])
	update := &plugins.UpdateContext{File: file, Timestamp: timestamp, Modules: nodes}
	for _, p := range e.plugins {
		if p.HandleUpdate == nil {
			continue
		}
		action, err := p.HandleUpdate(ctx, update)
		if err != nil {
			e.logger.Warn(ctx, err, "update hook failed, full reload", "plugin", p.Name)
			e.broadcaster.BroadcastFullReload()
			return
		}
		if action == plugins.FullReload {
			e.logger.Debug(ctx, "update hook requested full reload", "plugin", p.Name, "file", file)
			e.broadcaster.BroadcastFullReload()
			return
		}
	}

	updates := make([]websocket.Update, 0, len(nodes))
	seen := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		boundaries, ok := e.graph.AcceptingBoundaries(node)
		if !ok {
			e.logger.Debug(ctx, "no accepting boundary, full reload", "module", node.ID)
			e.broadcaster.BroadcastFullReload()
			return
		}
		// Update descriptors name the accepting boundary, not the changed
		// module. Re-importing the boundary pulls the changed module in
		// through its freshly versioned import URL; importing the changed
		// module directly would leave the boundary's old binding in place.
		stamp := e.graph.LastUpdatedAt(node)
		for _, b := range boundaries {
			if _, dup := seen[b.ID]; dup {
				continue
			}
			seen[b.ID] = struct{}{}
			updates = append(updates, websocket.Update{
				Type:      updateType(b),
				Path:      b.ID,
				Timestamp: stamp,
			})
		}
	}

	e.logger.Info(ctx, "hot update", "file", file, "updates", len(updates))
	e.broadcaster.BroadcastUpdate(updates)
}

// HandleFileAdd processes a created file. New files can satisfy imports that
// previously failed to resolve, which no boundary search can see, so the
// event always degrades to a full reload.
func (e *Engine) HandleFileAdd(ctx context.Context, file string) {
	e.logger.Debug(ctx, "file added, full reload", "file", file)
	e.broadcaster.BroadcastFullReload()
}

// HandleFileRemove processes a deleted file. The backing nodes are
// invalidated so a recreated file is retransformed, then every page reloads.
func (e *Engine) HandleFileRemove(ctx context.Context, file string) {
	e.graph.OnFileChange(file)
	e.logger.Debug(ctx, "file removed, full reload", "file", file)
	e.broadcaster.BroadcastFullReload()
}

// HandleWatchError surfaces a watcher failure. The graph may have missed
// changes, so pages reload to resynchronize.
func (e *Engine) HandleWatchError(ctx context.Context, err error) {
	werr := &modserveerrors.WatchError{Cause: err}
	e.logger.Warn(ctx, werr, "watch error, full reload")
	e.broadcaster.BroadcastError(werr.Error())
	e.broadcaster.BroadcastFullReload()
}

func updateType(b graph.Boundary) string {
	id := b.File
	if id == "" {
		id = b.ID
	}
	if builtin.IsStyleFile(id) {
		return websocket.UpdateStyle
	}
	return websocket.UpdateCode
}
