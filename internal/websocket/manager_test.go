package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestServer(t *testing.T, manager *Manager) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestManagerSendsConnectedOnAttach(t *testing.T) {
	manager := NewManager(nil, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	conn := dialTestServer(t, manager)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageConnected, msg.Type)
	assert.Empty(t, msg.Updates)
}

func TestManagerBroadcastUpdate(t *testing.T) {
	manager := NewManager(nil, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	conn := dialTestServer(t, manager)
	readMessage(t, conn) // connected greeting

	require.Eventually(t, func() bool {
		return manager.ConnectedClients() == 1
	}, 2*time.Second, 10*time.Millisecond)

	manager.BroadcastUpdate([]Update{
		{Type: UpdateCode, Path: "/src/app.ts", Timestamp: 1700000000000},
		{Type: UpdateStyle, Path: "/src/app.css", Timestamp: 1700000000000},
	})

	msg := readMessage(t, conn)
	require.Equal(t, MessageUpdate, msg.Type)
	require.Len(t, msg.Updates, 2)
	assert.Equal(t, UpdateCode, msg.Updates[0].Type)
	assert.Equal(t, "/src/app.ts", msg.Updates[0].Path)
	assert.Equal(t, int64(1700000000000), msg.Updates[0].Timestamp)
	assert.Equal(t, UpdateStyle, msg.Updates[1].Type)
}

func TestManagerBroadcastFullReload(t *testing.T) {
	manager := NewManager(nil, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	conn := dialTestServer(t, manager)
	readMessage(t, conn)

	require.Eventually(t, func() bool {
		return manager.ConnectedClients() == 1
	}, 2*time.Second, 10*time.Millisecond)

	manager.BroadcastFullReload()

	msg := readMessage(t, conn)
	assert.Equal(t, MessageFullReload, msg.Type)
	assert.Empty(t, msg.Updates)
	assert.Empty(t, msg.Message)
}

func TestManagerBroadcastError(t *testing.T) {
	manager := NewManager(nil, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	conn := dialTestServer(t, manager)
	readMessage(t, conn)

	require.Eventually(t, func() bool {
		return manager.ConnectedClients() == 1
	}, 2*time.Second, 10*time.Millisecond)

	manager.BroadcastError("src/app.ts:3:7: plugin rewrite (transform): unexpected token")

	msg := readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Message, "unexpected token")
}

func TestManagerBroadcastReachesAllClients(t *testing.T) {
	manager := NewManager(nil, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	first := dialTestServer(t, manager)
	second := dialTestServer(t, manager)
	readMessage(t, first)
	readMessage(t, second)

	require.Eventually(t, func() bool {
		return manager.ConnectedClients() == 2
	}, 2*time.Second, 10*time.Millisecond)

	manager.BroadcastFullReload()

	assert.Equal(t, MessageFullReload, readMessage(t, first).Type)
	assert.Equal(t, MessageFullReload, readMessage(t, second).Type)
}

func TestManagerRejectsDisallowedOrigin(t *testing.T) {
	manager := NewManager(AllowedOrigins{"http://localhost:3000"}, nil)
	defer func() { _ = manager.Shutdown(context.Background()) }()

	server := httptest.NewServer(http.HandlerFunc(manager.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestManagerShutdownDisconnectsClients(t *testing.T) {
	manager := NewManager(nil, nil)

	conn := dialTestServer(t, manager)
	readMessage(t, conn)

	require.NoError(t, manager.Shutdown(context.Background()))
	require.NoError(t, manager.Shutdown(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, manager.ConnectedClients())
}

func TestAllowedOrigins(t *testing.T) {
	assert.True(t, AllowedOrigins(nil).IsAllowedOrigin("http://anywhere.example"))
	assert.True(t, AllowedOrigins{"*"}.IsAllowedOrigin("http://anywhere.example"))

	list := AllowedOrigins{"http://localhost:3000"}
	assert.True(t, list.IsAllowedOrigin("http://localhost:3000"))
	assert.False(t, list.IsAllowedOrigin("http://localhost:4000"))
}
