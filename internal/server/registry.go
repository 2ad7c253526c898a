package server

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/miraihub/mirai-gateway/internal/pubsub"
)

// wsConn serializes writes to one websocket connection. Hub replay and live
// deliveries run on different goroutines.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeText(payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// ConnectionRegistry maps live websocket connections to hub subscriptions
// and prunes them when the transport drops.
type ConnectionRegistry struct {
	hub    *pubsub.Hub
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*pubsub.Subscription
}

// NewConnectionRegistry creates an empty registry forwarding into hub.
func NewConnectionRegistry(hub *pubsub.Hub, logger *slog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		hub:    hub,
		logger: logger,
		conns:  make(map[*websocket.Conn]*pubsub.Subscription),
	}
}

// Register subscribes the connection to a channel; every hub delivery for
// that channel is forwarded as one text frame. A write failure removes the
// subscription via the hub's own error path.
func (r *ConnectionRegistry) Register(conn *websocket.Conn, channel string) {
	wrapped := &wsConn{conn: conn}
	sub := r.hub.Subscribe(channel, wrapped.writeText)

	r.mu.Lock()
	r.conns[conn] = sub
	r.mu.Unlock()

	r.logger.Debug("websocket registered", "channel", channel)
}

// Unregister drops the connection's subscription and registry entry.
// Idempotent: write-failure removal and disconnect both end up here.
func (r *ConnectionRegistry) Unregister(conn *websocket.Conn) {
	r.mu.Lock()
	sub, ok := r.conns[conn]
	delete(r.conns, conn)
	r.mu.Unlock()

	if ok {
		r.hub.Unsubscribe(sub)
		r.logger.Debug("websocket unregistered", "channel", sub.Channel())
	}
}

// Len reports the number of live registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
