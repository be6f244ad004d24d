package hmr

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/types"
	"github.com/conneroisu/modserve/internal/websocket"
)

type recordingBroadcaster struct {
	mu          sync.Mutex
	updates     [][]websocket.Update
	fullReloads int
	errors      []string
}

func (r *recordingBroadcaster) BroadcastUpdate(updates []websocket.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updates)
}

func (r *recordingBroadcaster) BroadcastFullReload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fullReloads++
}

func (r *recordingBroadcaster) BroadcastError(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

func cached(g *graph.ModuleGraph, id string) *graph.ModuleNode {
	node := g.EnsureEntry(id)
	g.SetResult(node, &types.TransformResult{Code: "// " + id})
	return node
}

func TestHandleFileChangeSelfAccepting(t *testing.T) {
	g := graph.NewModuleGraph()
	node := cached(g, "/src/counter.ts")
	g.UpdateDependencies(node, nil, nil, true)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/counter.ts")

	require.Len(t, sink.updates, 1)
	require.Len(t, sink.updates[0], 1)
	update := sink.updates[0][0]
	assert.Equal(t, websocket.UpdateCode, update.Type)
	assert.Equal(t, "/src/counter.ts", update.Path)
	assert.Equal(t, g.LastUpdatedAt(node), update.Timestamp)
	assert.Zero(t, sink.fullReloads)
	assert.Nil(t, g.CachedResult(node), "changed module must be invalidated")
}

func TestHandleFileChangeStyleUpdate(t *testing.T) {
	g := graph.NewModuleGraph()
	node := cached(g, "/src/app.css")
	g.UpdateDependencies(node, nil, nil, true)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/app.css")

	require.Len(t, sink.updates, 1)
	assert.Equal(t, websocket.UpdateStyle, sink.updates[0][0].Type)
}

func TestHandleFileChangeImporterBoundary(t *testing.T) {
	// main -> panel -> theme, panel accepts theme. A theme change must stop
	// at panel: the update names panel so the client re-imports it and pulls
	// the fresh theme in through panel's reversioned import; main keeps its
	// cache and no full reload fires.
	g := graph.NewModuleGraph()
	main := cached(g, "/src/main.ts")
	panel := cached(g, "/src/panel.ts")
	theme := cached(g, "/src/theme.ts")
	g.UpdateDependencies(main, []string{"/src/panel.ts"}, nil, false)
	g.UpdateDependencies(panel, []string{"/src/theme.ts"}, []string{"/src/theme.ts"}, false)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/theme.ts")

	require.Len(t, sink.updates, 1)
	require.Len(t, sink.updates[0], 1)
	update := sink.updates[0][0]
	assert.Equal(t, "/src/panel.ts", update.Path, "update must name the accepting boundary")
	assert.Equal(t, websocket.UpdateCode, update.Type)
	assert.Equal(t, g.LastUpdatedAt(theme), update.Timestamp)
	assert.Zero(t, sink.fullReloads)

	assert.Nil(t, g.CachedResult(theme))
	assert.Nil(t, g.CachedResult(panel), "boundary re-imports a versioned URL")
	assert.NotNil(t, g.CachedResult(main), "modules past the boundary stay cached")
}

func TestHandleFileChangeMultipleAcceptingImporters(t *testing.T) {
	// Two importers both accept the changed module; each gets its own update
	// descriptor.
	g := graph.NewModuleGraph()
	header := cached(g, "/src/header.ts")
	footer := cached(g, "/src/footer.ts")
	cached(g, "/src/logo.ts")
	g.UpdateDependencies(header, []string{"/src/logo.ts"}, []string{"/src/logo.ts"}, false)
	g.UpdateDependencies(footer, []string{"/src/logo.ts"}, []string{"/src/logo.ts"}, false)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/logo.ts")

	require.Len(t, sink.updates, 1)
	paths := make([]string, 0, len(sink.updates[0]))
	for _, u := range sink.updates[0] {
		paths = append(paths, u.Path)
	}
	assert.ElementsMatch(t, []string{"/src/header.ts", "/src/footer.ts"}, paths)
	assert.Zero(t, sink.fullReloads)
}

func TestHandleFileChangeConcurrentWithGraphWrites(t *testing.T) {
	// The boundary walk races dependency reconciliation on the same nodes;
	// both must hold the graph lock. Run with -race.
	g := graph.NewModuleGraph()
	main := cached(g, "/src/main.ts")
	dep := cached(g, "/src/dep.ts")
	g.UpdateDependencies(main, []string{"/src/dep.ts"}, []string{"/src/dep.ts"}, false)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			g.UpdateDependencies(main, []string{"/src/dep.ts"}, []string{"/src/dep.ts"}, false)
		}
	}()
	for i := 0; i < 200; i++ {
		engine.HandleFileChange(context.Background(), "/src/dep.ts")
	}
	<-done

	assert.Nil(t, g.CachedResult(dep))
	assert.Zero(t, sink.fullReloads)
	for _, batch := range sink.updates {
		for _, u := range batch {
			assert.Equal(t, "/src/main.ts", u.Path)
		}
	}
}

func TestHandleFileChangeDeadEndFullReload(t *testing.T) {
	g := graph.NewModuleGraph()
	main := cached(g, "/src/main.ts")
	util := cached(g, "/src/util.ts")
	g.UpdateDependencies(main, []string{"/src/util.ts"}, nil, false)
	_ = util

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/util.ts")

	assert.Empty(t, sink.updates)
	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileChangeUnknownFileFullReload(t *testing.T) {
	g := graph.NewModuleGraph()
	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/config/settings.json")

	assert.Empty(t, sink.updates)
	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileChangeCycleWithoutBoundary(t *testing.T) {
	g := graph.NewModuleGraph()
	a := cached(g, "/src/a.ts")
	b := cached(g, "/src/b.ts")
	g.UpdateDependencies(a, []string{"/src/b.ts"}, nil, false)
	g.UpdateDependencies(b, []string{"/src/a.ts"}, nil, false)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/a.ts")

	assert.Empty(t, sink.updates)
	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileChangePluginForcesFullReload(t *testing.T) {
	g := graph.NewModuleGraph()
	node := cached(g, "/src/counter.ts")
	g.UpdateDependencies(node, nil, nil, true)

	var gotFile string
	forcing := plugins.Plugin{
		Name: "forcing",
		HandleUpdate: func(ctx context.Context, update *plugins.UpdateContext) (plugins.UpdateAction, error) {
			gotFile = update.File
			return plugins.FullReload, nil
		},
	}

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, []plugins.Plugin{forcing}, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/counter.ts")

	assert.Equal(t, "/src/counter.ts", gotFile)
	assert.Empty(t, sink.updates)
	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileChangePluginErrorFullReload(t *testing.T) {
	g := graph.NewModuleGraph()
	node := cached(g, "/src/counter.ts")
	g.UpdateDependencies(node, nil, nil, true)

	failing := plugins.Plugin{
		Name: "failing",
		HandleUpdate: func(ctx context.Context, update *plugins.UpdateContext) (plugins.UpdateAction, error) {
			return plugins.Continue, errors.New("hook broke")
		},
	}

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, []plugins.Plugin{failing}, sink, nil)

	engine.HandleFileChange(context.Background(), "/src/counter.ts")

	assert.Empty(t, sink.updates)
	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileAddFullReload(t *testing.T) {
	sink := &recordingBroadcaster{}
	engine := NewEngine(graph.NewModuleGraph(), nil, sink, nil)

	engine.HandleFileAdd(context.Background(), "/src/new.ts")

	assert.Equal(t, 1, sink.fullReloads)
}

func TestHandleFileRemoveInvalidatesAndReloads(t *testing.T) {
	g := graph.NewModuleGraph()
	node := cached(g, "/src/old.ts")
	g.UpdateDependencies(node, nil, nil, true)

	sink := &recordingBroadcaster{}
	engine := NewEngine(g, nil, sink, nil)

	engine.HandleFileRemove(context.Background(), "/src/old.ts")

	assert.Equal(t, 1, sink.fullReloads)
	assert.Nil(t, g.CachedResult(node))
}

func TestHandleWatchError(t *testing.T) {
	sink := &recordingBroadcaster{}
	engine := NewEngine(graph.NewModuleGraph(), nil, sink, nil)

	engine.HandleWatchError(context.Background(), errors.New("inotify limit reached"))

	require.Len(t, sink.errors, 1)
	assert.Contains(t, sink.errors[0], "inotify limit reached")
	assert.Equal(t, 1, sink.fullReloads)
}
