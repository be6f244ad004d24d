// Package websocket manages the hot-update channel between the dev server
// and connected pages. A central hub goroutine owns client lifecycle; all
// pushes go through buffered channels so broadcasting never blocks the
// transform path.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/modserve/internal/logging"
)

const (
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Manager handles WebSocket connection management and broadcasting.
//
// Invariants:
// - clients map access always protected by clientsMutex
// - channels remain open until Shutdown() is called
// - isShutdown transitions from false to true exactly once
type Manager struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn

	originValidator OriginValidator
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	isShutdown   bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewManager creates a WebSocket manager and starts its hub goroutine.
// A nil originValidator allows every origin.
func NewManager(originValidator OriginValidator, logger logging.Logger) *Manager {
	if originValidator == nil {
		originValidator = AllowedOrigins(nil)
	}
	if logger == nil {
		logger = logging.NewLogger(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		clients:         make(map[*websocket.Conn]*client),
		broadcast:       make(chan []byte, 256),
		register:        make(chan *client, 32),
		unregister:      make(chan *websocket.Conn, 32),
		originValidator: originValidator,
		logger:          logger.WithComponent("websocket"),
		ctx:             ctx,
		cancel:          cancel,
	}

	go manager.runHub()
	return manager
}

// HandleWebSocket upgrades the request and attaches the page as a client.
// Every new client receives a "connected" frame before any updates.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if m.isShutdown {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && !m.originValidator.IsAllowedOrigin(origin) {
		m.logger.Warn(r.Context(), nil, "connection rejected, invalid origin", "origin", origin)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin already validated above against the configured list.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	// The greeting is queued before registration so it is the first frame
	// the page sees.
	if data, err := json.Marshal(ConnectedMessage()); err == nil {
		c.send <- data
	}

	select {
	case m.register <- c:
	case <-m.ctx.Done():
		_ = conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	default:
		_ = conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}

	go m.handleClient(c)
}

func (m *Manager) runHub() {
	for {
		select {
		case c := <-m.register:
			m.registerClient(c)
		case conn := <-m.unregister:
			m.unregisterClient(conn)
		case message := <-m.broadcast:
			m.broadcastToClients(message)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) registerClient(c *client) {
	m.clientsMutex.Lock()
	m.clients[c.conn] = c
	total := len(m.clients)
	m.clientsMutex.Unlock()

	m.logger.Debug(m.ctx, "client connected", "total", total)
}

func (m *Manager) unregisterClient(conn *websocket.Conn) {
	m.clientsMutex.Lock()
	c, exists := m.clients[conn]
	if exists {
		delete(m.clients, conn)
		close(c.send)
	}
	total := len(m.clients)
	m.clientsMutex.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		m.logger.Debug(m.ctx, "client disconnected", "total", total)
	}
}

func (m *Manager) broadcastToClients(message []byte) {
	m.clientsMutex.RLock()
	clients := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clientsMutex.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- message:
		default:
			// Send buffer full, the client is not reading; drop it.
			go func(conn *websocket.Conn) {
				m.unregister <- conn
			}(c.conn)
		}
	}
}

func (m *Manager) handleClient(c *client) {
	defer func() {
		select {
		case m.unregister <- c.conn:
		case <-m.ctx.Done():
		}
	}()

	go m.writePump(c)
	m.readPump(c)
}

// readPump drains inbound frames. Pages do not send anything the server
// acts on; reading is required to process control frames and detect close.
func (m *Manager) readPump(c *client) {
	for {
		_, _, err := c.conn.Read(m.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != -1 {
				m.logger.Debug(m.ctx, "read closed", "status", int(status))
			}
			return
		}
	}
}

func (m *Manager) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				m.logger.Debug(m.ctx, "write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(m.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// Broadcast queues a message for every connected client.
func (m *Manager) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error(m.ctx, err, "failed to marshal broadcast message")
		return
	}

	select {
	case m.broadcast <- data:
	case <-m.ctx.Done():
	default:
		m.logger.Warn(m.ctx, nil, "broadcast channel full, dropping message")
	}
}

// BroadcastUpdate pushes fine-grained module updates.
func (m *Manager) BroadcastUpdate(updates []Update) {
	if len(updates) == 0 {
		return
	}
	m.Broadcast(UpdateMessage(updates))
}

// BroadcastFullReload tells every page to reload.
func (m *Manager) BroadcastFullReload() {
	m.Broadcast(FullReloadMessage())
}

// BroadcastError surfaces a server-side failure to running pages.
func (m *Manager) BroadcastError(text string) {
	m.Broadcast(ErrorMessage(text))
}

// ConnectedClients returns the number of attached pages.
func (m *Manager) ConnectedClients() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown closes every connection and stops the hub. Safe to call more
// than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.isShutdown = true
		m.cancel()

		m.clientsMutex.Lock()
		for conn, c := range m.clients {
			close(c.send)
			_ = conn.Close(websocket.StatusNormalClosure, "server shutdown")
		}
		m.clients = make(map[*websocket.Conn]*client)
		m.clientsMutex.Unlock()

		m.logger.Info(ctx, "websocket manager shut down")
	})
	return nil
}
