// Package session implements a per-client object owning a transport, a
// set of joined documents, a pending-operations buffer per document,
// and reconnection/backoff state. Its read/write pumps run over a
// *websocket.Conn the Session dials out and owns directly, rather than
// one handed to it by an accepting server.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
)

// State is a Session's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ReconnectionConfig controls automatic reconnect-on-disconnect.
type ReconnectionConfig struct {
	Enabled  bool
	Attempts int
	Delay    time.Duration
	DelayMax time.Duration
}

// Config configures a Session.
type Config struct {
	ServerURL         string
	Token             string
	ClientID          string
	ConnectionTimeout time.Duration
	Reconnection      ReconnectionConfig
	Headers           http.Header

	// OnStateChange, OnError, and OnPresence are optional application
	// hooks; nil is a valid no-op.
	OnStateChange func(State)
	OnError       func(error)
	OnPresence    func(documentID string, p wire.Presence)
}

// DefaultConfig returns a Config for serverURL with sensible defaults:
// 30s connect timeout, reconnection enabled at 5 attempts, 1s initial
// delay, 30s cap.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:         serverURL,
		ConnectionTimeout: 30 * time.Second,
		Reconnection: ReconnectionConfig{
			Enabled:  true,
			Attempts: 5,
			Delay:    time.Second,
			DelayMax: 30 * time.Second,
		},
	}
}

const (
	authTimeout  = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 5 * time.Second
)

var (
	// ErrNotConnected is returned by operations that require an open
	// transport while the session is disconnected.
	ErrNotConnected = errors.New("session: not connected")
	// ErrAuthFailed is returned when the server rejects AUTHENTICATE.
	ErrAuthFailed = errors.New("session: authentication failed")
)

// Session is a single client's connection to the coordinator. A
// Session is single-threaded per instance: application code must not
// call mutating methods concurrently from multiple goroutines. The
// session's own read loop is the only internal goroutine that touches
// session state without external synchronization.
type Session struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	clientID   string
	closed     bool
	reconnects int

	docs map[string]*openDocument

	outbound chan wire.Message
	authWait chan authResult
	joinWait map[string]chan joinResult

	stopPing   chan struct{}
	lastPongAt time.Time
}

type authResult struct {
	err error
}

type joinResult struct {
	msg wire.Message
	err error
}

// New constructs a Session in the DISCONNECTED state.
func New(cfg Config) *Session {
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = generateClientID()
	}
	return &Session{
		cfg:      cfg,
		log:      telemetry.WithClient(clientID),
		clientID: clientID,
		state:    StateDisconnected,
		docs:     make(map[string]*openDocument),
		joinWait: make(map[string]chan joinResult),
	}
}

// ClientID returns this session's client identifier.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.cfg.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Connect dials the transport, authenticates, and starts the read/write
// pumps. It blocks until AUTH_SUCCESS/AUTH_FAILED or the authentication
// timeout.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.ServerURL, s.cfg.Headers)
	if err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.outbound = make(chan wire.Message, 256)
	s.authWait = make(chan authResult, 1)
	s.stopPing = make(chan struct{})
	s.lastPongAt = time.Now()
	s.mu.Unlock()

	go s.readLoop()
	go s.writeLoop()

	s.send(wire.Message{
		Type:      wire.TypeAuthenticate,
		ClientID:  s.clientID,
		Token:     s.cfg.Token,
		Timestamp: nowMillis(),
	})

	select {
	case res := <-s.authWait:
		if res.err != nil {
			s.setState(StateDisconnected)
			return res.err
		}
	case <-time.After(authTimeout):
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: timed out waiting for auth response", ErrAuthFailed)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.reconnects = 0
	s.mu.Unlock()
	s.setState(StateConnected)
	return nil
}

// Disconnect cancels pending reconnect timers, leaves every joined
// document, and closes the transport with code 1000.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	docs := make([]string, 0, len(s.docs))
	for id := range s.docs {
		docs = append(docs, id)
	}
	s.mu.Unlock()

	for _, id := range docs {
		s.send(wire.Message{Type: wire.TypeLeaveDocument, DocumentID: id, Timestamp: nowMillis()})
	}

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	s.mu.Lock()
	if s.stopPing != nil {
		close(s.stopPing)
		s.stopPing = nil
	}
	s.mu.Unlock()

	s.setState(StateDisconnected)
}

func (s *Session) send(msg wire.Message) {
	s.mu.Lock()
	ch := s.outbound
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		s.log.Warn("outbound queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (s *Session) writeLoop() {
	s.mu.Lock()
	conn := s.conn
	ch := s.outbound
	stop := s.stopPing
	s.mu.Unlock()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Warn("write failed", zap.Error(err))
				return
			}
			telemetry.Get().RecordMessage(string(msg.Type), "outbound")
		case <-ticker.C:
			s.mu.Lock()
			sincePong := time.Since(s.lastPongAt)
			s.mu.Unlock()
			if sincePong > pingInterval+pongTimeout {
				s.log.Warn("pong overdue, closing connection", zap.Duration("since", sincePong))
				conn.Close()
				return
			}
			s.send(wire.Message{Type: wire.TypePing, Timestamp: nowMillis()})
		case <-stop:
			return
		}
	}
}

func (s *Session) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		var msg wire.Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.handleDisconnect(err)
			return
		}
		telemetry.Get().RecordMessage(string(msg.Type), "inbound")
		s.dispatch(msg)
	}
}

func (s *Session) dispatch(msg wire.Message) {
	switch msg.Type {
	case wire.TypeAuthSuccess:
		select {
		case s.authWait <- authResult{}:
		default:
		}
	case wire.TypeAuthFailed:
		select {
		case s.authWait <- authResult{err: fmt.Errorf("%w: %s", ErrAuthFailed, msg.Reason)}:
		default:
		}
	case wire.TypeDocumentJoined:
		s.mu.Lock()
		waiter := s.joinWait[msg.DocumentID]
		s.mu.Unlock()
		if waiter != nil {
			waiter <- joinResult{msg: msg}
		}
	case wire.TypeOperationApp:
		s.handleOperationApplied(msg)
	case wire.TypeOperation:
		s.handleRemoteOperation(msg)
	case wire.TypeOperationFailed:
		if s.cfg.OnError != nil && msg.Error != nil {
			s.cfg.OnError(fmt.Errorf("%s: %s", msg.Error.Code, msg.Error.Message))
		}
	case wire.TypePresenceUpdate, wire.TypePresenceState:
		if s.cfg.OnPresence != nil && msg.Presence != nil {
			s.cfg.OnPresence(msg.DocumentID, *msg.Presence)
		}
	case wire.TypeError:
		if s.cfg.OnError != nil && msg.Error != nil {
			s.cfg.OnError(fmt.Errorf("%s: %s", msg.Error.Code, msg.Error.Message))
		}
	case wire.TypePong:
		s.mu.Lock()
		s.lastPongAt = time.Now()
		s.mu.Unlock()
	}
}

func (s *Session) handleDisconnect(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.log.Warn("transport closed", zap.Error(err))
	if s.cfg.Reconnection.Enabled {
		s.setState(StateReconnecting)
		go s.reconnectLoop()
	} else {
		s.setState(StateDisconnected)
	}
}

// generateClientID mints a client ID when Config.ClientID is unset.
func generateClientID() string {
	return "client-" + uuid.New().String()[:8]
}

func nowMillis() int64 { return time.Now().UnixMilli() }
