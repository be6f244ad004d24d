// Package server wires the module graph, plugin pipeline, optimizer,
// watcher, and websocket channel into one HTTP dev server with a managed
// lifecycle: optimize, watch, serve, shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/conneroisu/modserve/internal/config"
	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/hmr"
	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/optimize"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/plugins/builtin"
	"github.com/conneroisu/modserve/internal/transform"
	"github.com/conneroisu/modserve/internal/transformer"
	"github.com/conneroisu/modserve/internal/watcher"
	"github.com/conneroisu/modserve/internal/websocket"
)

// HotChannelPath is the URL the injected client script connects back on.
const HotChannelPath = "/@hot"

// Server is one dev-server instance over a single project root.
type Server struct {
	config *config.ResolvedConfig
	root   string
	logger logging.Logger

	graph        *graph.ModuleGraph
	pipeline     *plugins.Pipeline
	orchestrator *transform.Orchestrator
	channel      *websocket.Manager
	engine       *hmr.Engine
	fileWatcher  *watcher.FileWatcher
	httpServer   *http.Server

	// optimized maps package name to served artifact URL
	optimized map[string]string
	cacheDir  string
}

// New builds a server from resolved configuration. userPlugins run before
// the builtin plugins on every hook. The optimizer has not run yet; Start
// completes initialization before serving.
func New(cfg *config.ResolvedConfig, service transformer.Service, logger logging.Logger, userPlugins ...plugins.Plugin) (*Server, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if logger == nil {
		logger = logging.NewLogger(nil)
	}
	if service == nil {
		service = transformer.Passthrough{}
	}

	s := &Server{
		config:    cfg,
		root:      root,
		logger:    logger.WithComponent("server"),
		graph:     graph.NewModuleGraph(),
		channel:   websocket.NewManager(websocket.AllowedOrigins(cfg.Server.AllowedOrigins), logger),
		optimized: make(map[string]string),
		cacheDir:  filepath.Join(root, cfg.Optimizer.CacheDir),
	}

	if !cfg.Optimizer.Disabled {
		// Serving must not begin before the pre-bundle exists; module
		// requests would race half-written artifacts.
		meta, err := s.runOptimizer(context.Background(), service)
		if err != nil {
			return nil, err
		}
		for pkg := range meta.Optimized {
			s.optimized[pkg] = builtin.DepURLPrefix + transformer.ArtifactName(pkg)
		}
	}

	pluginList := make([]plugins.Plugin, 0, len(userPlugins)+3)
	pluginList = append(pluginList, userPlugins...)
	pluginList = append(pluginList,
		builtin.NewCSS(),
		builtin.NewTransformer(service),
		builtin.NewImportRewrite(s.optimized, s.graph),
	)
	s.pipeline = plugins.NewPipeline(root, pluginList, logger)
	s.orchestrator = transform.NewOrchestrator(s.graph, s.pipeline, logger)
	s.engine = hmr.NewEngine(s.graph, pluginList, s.channel, logger)

	mux := http.NewServeMux()
	mux.HandleFunc(HotChannelPath, s.channel.HandleWebSocket)
	mux.HandleFunc(builtin.DepURLPrefix, s.handleDep)
	mux.HandleFunc(ClientScriptPath, handleClientScript)
	mux.HandleFunc("/", s.handleModule)

	for _, p := range pluginList {
		if p.ConfigureServer == nil {
			continue
		}
		env := &plugins.ServerEnv{Mux: mux, Graph: s.graph, Logger: logger, Root: root}
		if err := p.ConfigureServer(env); err != nil {
			return nil, fmt.Errorf("plugin %s: configuring server: %w", p.Name, err)
		}
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) runOptimizer(ctx context.Context, service transformer.Service) (*optimize.DepMetadata, error) {
	store := optimize.NewMetadataStore(s.cacheDir)
	optimizer := optimize.NewOptimizer(optimize.Options{
		Root:     s.root,
		Entries:  s.config.Entries,
		CacheDir: s.cacheDir,
		Manifest: s.config.Optimizer.Manifest,
	}, service, store, s.logger)
	return optimizer.Run(ctx)
}

// Start begins watching and serving. It blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(s.config.Watch.Debounce, s.logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	s.fileWatcher = fw

	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.IgnoreDirsFilter(s.config.Watch.Ignore...))
	fw.AddHandler(s.onFileEvents)
	fw.AddErrorHandler(func(err error) {
		s.engine.HandleWatchError(ctx, err)
	})
	if err := fw.AddRecursive(s.root); err != nil {
		return fmt.Errorf("watching %s: %w", s.root, err)
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "listening", "addr", s.httpServer.Addr, "root", s.root)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the listener, the watcher, and the websocket channel.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if s.fileWatcher != nil {
		if err := s.fileWatcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.channel.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info(ctx, "server stopped")
	return firstErr
}

// onFileEvents maps debounced watcher batches onto hot-update engine calls.
// Watcher paths are absolute; the graph speaks root-relative URLs.
func (s *Server) onFileEvents(events []watcher.ChangeEvent) error {
	ctx := context.Background()
	for _, event := range events {
		url, ok := s.urlForPath(event.Path)
		if !ok {
			continue
		}
		switch event.Type {
		case watcher.EventTypeModified:
			s.engine.HandleFileChange(ctx, url)
		case watcher.EventTypeCreated:
			s.engine.HandleFileAdd(ctx, url)
		case watcher.EventTypeDeleted, watcher.EventTypeRenamed:
			s.engine.HandleFileRemove(ctx, url)
		}
	}
	return nil
}

func (s *Server) urlForPath(absPath string) (string, bool) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil || rel == "." || filepath.IsAbs(rel) || rel == ".." ||
		len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}
