package server

import (
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	modserveerrors "github.com/conneroisu/modserve/internal/errors"
)

// ClientScriptPath serves the hot-update client that pages load as their
// first module.
const ClientScriptPath = "/@hot-client"

// clientScript implements the page side of the wire protocol: re-import
// updated modules, reload on full-reload, log errors. Served verbatim.
const clientScript = `const proto = location.protocol === 'https:' ? 'wss' : 'ws';
const socket = new WebSocket(proto + '://' + location.host + '/@hot');
socket.addEventListener('message', (event) => {
  const msg = JSON.parse(event.data);
  switch (msg.type) {
    case 'connected':
      console.log('[modserve] connected');
      break;
    case 'update':
      for (const update of msg.updates) {
        import(update.path + '?v=' + update.timestamp).catch(() => location.reload());
      }
      break;
    case 'full-reload':
      location.reload();
      break;
    case 'error':
      console.error('[modserve] ' + msg.message);
      break;
  }
});
socket.addEventListener('close', () => {
  console.log('[modserve] connection lost, retrying...');
  setTimeout(() => location.reload(), 1000);
});
`

func handleClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write([]byte(clientScript))
}

// handleModule serves one module request through the transform pipeline,
// falling back to static asset serving when no transform applies.
func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" {
		urlPath = "/" + strings.TrimPrefix(s.config.Entries[0], "/")
	}

	if strings.HasSuffix(urlPath, ".html") {
		s.serveHTML(w, r, urlPath)
		return
	}

	result, err := s.orchestrator.TransformRequest(r.Context(), urlPath)
	if err != nil {
		s.logger.Error(r.Context(), err, "transform failed", "url", urlPath)
		s.channel.BroadcastError(errorText(err))
		http.Error(w, errorText(err), http.StatusInternalServerError)
		return
	}
	if result == nil {
		s.serveStatic(w, r, urlPath)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	// The served result is versioned by the v query; never revalidate.
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(result.Code))
	if uri := result.Map.ToDataURI(); uri != "" {
		_, _ = w.Write([]byte("\n//# sourceMappingURL=" + uri + "\n"))
	}
}

// serveHTML serves an entry document with the hot-update client injected.
func (s *Server) serveHTML(w http.ResponseWriter, r *http.Request, urlPath string) {
	file := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(urlPath, "/")))
	content, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(injectClient(string(content))))
}

const clientTag = `<script type="module" src="` + ClientScriptPath + `"></script>`

func injectClient(doc string) string {
	for _, marker := range []string{"</head>", "</body>"} {
		if i := strings.Index(doc, marker); i >= 0 {
			return doc[:i] + clientTag + "\n" + doc[i:]
		}
	}
	return doc + clientTag + "\n"
}

// serveStatic serves an untransformed file from the project root.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, urlPath string) {
	clean := path.Clean(urlPath)
	if strings.Contains(clean, "..") {
		http.NotFound(w, r)
		return
	}
	file := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		rerr := &modserveerrors.ResolutionError{Specifier: clean}
		s.logger.Debug(r.Context(), rerr.Error())
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, file)
}

// handleDep serves pre-bundled package artifacts out of the cache directory.
func (s *Server) handleDep(w http.ResponseWriter, r *http.Request) {
	name := path.Base(path.Clean(r.URL.Path))
	if name == "." || name == "/" || !strings.HasSuffix(name, ".js") {
		http.NotFound(w, r)
		return
	}
	file := filepath.Join(s.cacheDir, name)
	if _, err := os.Stat(file); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	// Artifacts are immutable for one manifest hash.
	w.Header().Set("Cache-Control", "max-age=31536000, immutable")
	http.ServeFile(w, r, file)
}

// errorText prefers the structured transform error message, which carries
// plugin, hook, and position, over a bare wrapped error.
func errorText(err error) string {
	var terr *modserveerrors.TransformError
	if errors.As(err, &terr) {
		return terr.Error()
	}
	return err.Error()
}
