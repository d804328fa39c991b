// Package coordinator implements the server side of the collaboration
// protocol: the WebSocket accept loop, the authenticate/join/leave/
// operation/presence dispatch table, and the client and
// document-authority registries. A single in-process map of documents
// and a set of register/unregister channels generalize here into
// per-document Authority actors plus a client registry keyed by
// server- or client-declared ID.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/auth"
	"github.com/lanemc/real-time-collaboration-sdk/internal/authority"
	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
)

// Config configures a Coordinator.
type Config struct {
	Auth          auth.Service
	Store         persistence.Store
	CORSOrigin    string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Coordinator accepts WebSocket connections, authenticates them, and
// routes their messages to the Document Authority for whichever
// document they have joined.
type Coordinator struct {
	cfg      Config
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu          sync.RWMutex
	clients     map[string]*clientConn
	authorities map[string]*authority.Authority

	stop chan struct{}
}

// New constructs a Coordinator. Call Start to begin the idle sweep and
// ServeWS (or ServeHTTP) to accept connections.
func New(cfg Config) *Coordinator {
	if cfg.Auth == nil {
		cfg.Auth = auth.NewStaticGate()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	return &Coordinator{
		cfg:         cfg,
		log:         telemetry.L().Named("coordinator"),
		clients:     make(map[string]*clientConn),
		authorities: make(map[string]*authority.Authority),
		stop:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.CORSOrigin == "" || cfg.CORSOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == cfg.CORSOrigin
			},
		},
	}
}

// Start begins the background idle-connection and idle-document sweep.
func (c *Coordinator) Start() {
	go c.sweepLoop()
}

// Shutdown stops the sweep loop and closes every client connection.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	close(c.stop)

	c.mu.Lock()
	clients := make([]*clientConn, 0, len(c.clients))
	for _, cl := range c.clients {
		clients = append(clients, cl)
	}
	authorities := make([]*authority.Authority, 0, len(c.authorities))
	for _, a := range c.authorities {
		authorities = append(authorities, a)
	}
	c.mu.Unlock()

	for _, cl := range clients {
		cl.close(websocket.CloseServiceRestart, "server shutting down")
	}
	for _, a := range authorities {
		a.Stop()
	}
	return nil
}

// ServeWS upgrades an HTTP request to a WebSocket connection and
// registers a clientConn to read and dispatch its messages.
func (c *Coordinator) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := newClientConn(conn, c)
	go cl.writePump()
	go cl.readPump()

	cl.Deliver(wire.Message{Type: wire.TypeAuthRequired, Timestamp: nowMillis()})
}

// ActiveDocumentCount returns the number of resident document
// authorities, for the HTTP surface.
func (c *Coordinator) ActiveDocumentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.authorities)
}

// ConnectedClientCount returns the number of authenticated, connected clients.
func (c *Coordinator) ConnectedClientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Authority returns the resident authority for id, if any, without
// creating one — used by the HTTP surface's read-only document lookup.
func (c *Coordinator) Authority(id string) (*authority.Authority, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.authorities[id]
	return a, ok
}

// ListDocumentIDs returns the IDs of every resident document authority.
func (c *Coordinator) ListDocumentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.authorities))
	for id := range c.authorities {
		ids = append(ids, id)
	}
	return ids
}

func (c *Coordinator) dispatch(cl *clientConn, msg wire.Message) {
	telemetry.Get().RecordMessage(string(msg.Type), "inbound")

	if msg.Type != wire.TypeAuthenticate && !cl.isAuthenticated() {
		cl.Deliver(errorMessage("", wire.CodeUnauthorized, "authenticate first"))
		return
	}

	switch msg.Type {
	case wire.TypeAuthenticate:
		c.handleAuthenticate(cl, msg)
	case wire.TypeJoinDocument:
		c.handleJoinDocument(cl, msg)
	case wire.TypeLeaveDocument:
		c.handleLeaveDocument(cl, msg)
	case wire.TypeOperation:
		c.handleOperation(cl, msg)
	case wire.TypePresenceUpdate:
		c.handlePresence(cl, msg)
	case wire.TypePing:
		cl.Deliver(wire.Message{Type: wire.TypePong, Timestamp: nowMillis()})
	default:
		cl.Deliver(errorMessage("", wire.CodeInvalidOperation, fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (c *Coordinator) handleAuthenticate(cl *clientConn, msg wire.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	info, err := c.cfg.Auth.Authenticate(ctx, msg.ClientID, msg.Token)
	if err != nil {
		cl.Deliver(wire.Message{Type: wire.TypeAuthFailed, Reason: err.Error(), Timestamp: nowMillis()})
		cl.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	id := info.ClientID
	if id == "" {
		id = generateClientID()
		info.ClientID = id
	}

	c.mu.Lock()
	if existing, ok := c.clients[id]; ok && existing != cl {
		c.mu.Unlock()
		cl.Deliver(wire.Message{Type: wire.TypeAuthFailed, Reason: "client already connected", Timestamp: nowMillis()})
		cl.close(websocket.ClosePolicyViolation, "duplicate client id")
		return
	}
	cl.setAuthenticated(id)
	c.clients[id] = cl
	c.mu.Unlock()

	telemetry.Get().ConnectedClients.Set(float64(c.ConnectedClientCount()))
	cl.Deliver(wire.Message{
		Type:       wire.TypeAuthSuccess,
		ClientID:   id,
		ClientInfo: &info,
		Timestamp:  nowMillis(),
	})
}

func (c *Coordinator) handleJoinDocument(cl *clientConn, msg wire.Message) {
	if msg.DocumentID == "" {
		cl.Deliver(errorMessage("", wire.CodeInvalidOperation, "documentId is required"))
		return
	}

	kind := wire.Kind(msg.Schema)
	if kind == "" {
		kind = wire.KindText
	}

	a, err := c.getOrCreateAuthority(msg.DocumentID, kind)
	if err != nil {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeServerError, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Join(ctx, cl); err != nil {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeServerError, err.Error()))
		return
	}
	cl.addDocument(msg.DocumentID)
}

func (c *Coordinator) handleLeaveDocument(cl *clientConn, msg wire.Message) {
	a, ok := c.Authority(msg.DocumentID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Leave(ctx, cl)
	cl.removeDocument(msg.DocumentID)
}

func (c *Coordinator) handleOperation(cl *clientConn, msg wire.Message) {
	if msg.Operation == nil {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeInvalidOperation, "operation is required"))
		return
	}
	if !cl.hasJoined(msg.DocumentID) {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeUnauthorized, "document not joined"))
		return
	}
	a, ok := c.Authority(msg.DocumentID)
	if !ok {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeDocumentNotFound, "document not joined"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Errors are already communicated to cl as OPERATION_FAILED by the
	// authority itself; nothing further to do here.
	_ = a.Apply(ctx, cl, *msg.Operation)
}

func (c *Coordinator) handlePresence(cl *clientConn, msg wire.Message) {
	if msg.Presence == nil {
		return
	}
	if !cl.hasJoined(msg.DocumentID) {
		cl.Deliver(errorMessage(msg.DocumentID, wire.CodeUnauthorized, "document not joined"))
		return
	}
	a, ok := c.Authority(msg.DocumentID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.Presence(ctx, cl, *msg.Presence)
}

// disconnect removes cl from every document it had joined and from the
// client registry, disconnect handling.
func (c *Coordinator) disconnect(cl *clientConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, docID := range cl.joinedDocuments() {
		if a, ok := c.Authority(docID); ok {
			_ = a.Leave(ctx, cl)
		}
	}

	c.mu.Lock()
	if id := cl.ClientID(); id != "" && c.clients[id] == cl {
		delete(c.clients, id)
	}
	c.mu.Unlock()
	telemetry.Get().ConnectedClients.Set(float64(c.ConnectedClientCount()))
}

func errorMessage(documentID, code, message string) wire.Message {
	return wire.Message{
		Type:       wire.TypeError,
		DocumentID: documentID,
		Error:      &wire.ErrorPayload{Code: code, Message: message},
		Timestamp:  nowMillis(),
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
