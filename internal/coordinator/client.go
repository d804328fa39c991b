package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// clientConn is one accepted WebSocket connection's server-side session.
// It implements authority.Peer so a Document Authority can ack and
// broadcast to it directly: readPump/writePump goroutines over a
// buffered outbound channel, with pongWait/pingPeriod/maxMessageSize
// bounding how long an unresponsive connection stays registered.
type clientConn struct {
	coord *Coordinator
	conn  *websocket.Conn
	log   *zap.Logger

	outbound chan wire.Message

	mu            sync.Mutex
	clientID      string
	authenticated bool
	lastActivity  time.Time
	docs          map[string]bool
}

func newClientConn(conn *websocket.Conn, coord *Coordinator) *clientConn {
	return &clientConn{
		coord:        coord,
		conn:         conn,
		log:          telemetry.L().Named("coordinator"),
		outbound:     make(chan wire.Message, 256),
		lastActivity: time.Now(),
		docs:         make(map[string]bool),
	}
}

// ClientID satisfies authority.Peer.
func (c *clientConn) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Deliver satisfies authority.Peer: queue msg for the write pump.
func (c *clientConn) Deliver(msg wire.Message) {
	select {
	case c.outbound <- msg:
	default:
		c.log.Warn("outbound queue full, dropping message",
			zap.String("clientId", c.ClientID()), zap.String("type", string(msg.Type)))
	}
}

func (c *clientConn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *clientConn) setAuthenticated(id string) {
	c.mu.Lock()
	c.clientID = id
	c.authenticated = true
	c.mu.Unlock()
}

func (c *clientConn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *clientConn) idleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

func (c *clientConn) addDocument(id string) {
	c.mu.Lock()
	c.docs[id] = true
	c.mu.Unlock()
}

func (c *clientConn) removeDocument(id string) {
	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()
}

func (c *clientConn) hasJoined(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs[id]
}

func (c *clientConn) joinedDocuments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	return ids
}

func (c *clientConn) close(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.conn.Close()
}

// readPump reads inbound messages and hands each to the coordinator's
// dispatch table.
func (c *clientConn) readPump() {
	defer func() {
		c.coord.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		c.touch()
		c.coord.dispatch(c, msg)
	}
}

// writePump drains the outbound queue to the socket and pings on an
// interval.
func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			telemetry.Get().RecordMessage(string(msg.Type), "outbound")
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// generateClientID mints a server-side client ID when AUTHENTICATE
// doesn't declare one.
func generateClientID() string {
	return "client-" + uuid.New().String()[:8]
}
