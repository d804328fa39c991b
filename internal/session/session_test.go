package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/shared"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// fakeServer is a minimal scriptable stand-in for the coordinator used
// to exercise the session's wire protocol handling in isolation.
type fakeServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	conn       *websocket.Conn
	refuseAuth bool
	dropAfter  int32 // drop the connection after this many inbound messages, 0 = never
	received   int32
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	return fs
}

func (f *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var msg wire.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		n := atomic.AddInt32(&f.received, 1)
		drop := atomic.LoadInt32(&f.dropAfter)
		if drop > 0 && n > drop {
			conn.Close()
			return
		}

		switch msg.Type {
		case wire.TypeAuthenticate:
			if f.refuseAuth {
				conn.WriteJSON(wire.Message{Type: wire.TypeAuthFailed, Reason: "denied"})
				continue
			}
			conn.WriteJSON(wire.Message{Type: wire.TypeAuthSuccess, ClientID: msg.ClientID})
		case wire.TypeJoinDocument:
			conn.WriteJSON(wire.Message{
				Type:       wire.TypeDocumentJoined,
				DocumentID: msg.DocumentID,
				State:      "AC",
				Version:    0,
			})
		case wire.TypeOperation:
			conn.WriteJSON(wire.Message{
				Type:       wire.TypeOperationApp,
				DocumentID: msg.DocumentID,
				Operation:  msg.Operation,
				Version:    msg.Operation.BaseVersion + 1,
			})
		case wire.TypePing:
			conn.WriteJSON(wire.Message{Type: wire.TypePong})
		}
	}
}

func (f *fakeServer) close() { f.srv.Close() }

func TestSessionConnectSucceeds(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	s := New(Config{ServerURL: fs.wsURL(), ConnectionTimeout: 2 * time.Second})
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	s.Disconnect()
}

func TestSessionConnectFailsOnAuthRejection(t *testing.T) {
	fs := newFakeServer(t)
	fs.refuseAuth = true
	defer fs.close()

	s := New(Config{ServerURL: fs.wsURL(), ConnectionTimeout: 2 * time.Second})
	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionOpenDocumentRehydratesFromSnapshot(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	s := New(Config{ServerURL: fs.wsURL(), ConnectionTimeout: 2 * time.Second})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	handle, err := s.OpenDocument(context.Background(), "doc-1", wire.KindText)
	require.NoError(t, err)
	assert.Equal(t, "AC", handle.Text().Value())
	assert.Equal(t, int64(0), handle.Text().Version())

	// Re-opening the same document is idempotent and returns the same
	// local replica rather than re-joining.
	again, err := s.OpenDocument(context.Background(), "doc-1", wire.KindText)
	require.NoError(t, err)
	assert.Same(t, handle.doc, again.doc)
}

func TestSessionLocalEditGoesPendingThenAcked(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	s := New(Config{ServerURL: fs.wsURL(), ConnectionTimeout: 2 * time.Second})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	handle, err := s.OpenDocument(context.Background(), "doc-1", wire.KindText)
	require.NoError(t, err)

	_, err = handle.Text().Insert(2, "B", nil)
	require.NoError(t, err)
	assert.Equal(t, "ACB", handle.Text().Value())

	require.Eventually(t, func() bool {
		return handle.PendingCount() == 0
	}, time.Second, 10*time.Millisecond, "operation_applied ack should drain the pending buffer")
}

// TestSessionTransformsRemoteOperationAgainstPending exercises the
// concurrent-insert scenario from the client's perspective: a remote
// operation arrives while a local edit is still unacknowledged, and
// must be transformed against it before being applied to the local
// replica. This exercises the pending buffer directly, without a
// transport.
func TestSessionTransformsRemoteOperationAgainstPending(t *testing.T) {
	s := New(Config{ServerURL: "ws://unused"})

	doc := s.newOpenDocument("doc-1", wire.KindText)
	doc.text.FromSnapshot(shared.TextSnapshot{Value: "AC", Version: 0})
	s.mu.Lock()
	s.docs["doc-1"] = doc
	s.mu.Unlock()

	_, err := doc.text.Insert(1, "B", nil) // local client's own edit: "AC" -> "ABC"
	require.NoError(t, err)
	require.Equal(t, "ABC", doc.text.Value())
	require.Len(t, doc.pending, 1)

	remotePos := 2
	remoteText := "D"
	remoteOp := ot.Operation{
		ID: "remote-1", ClientID: "c2", Type: ot.OpTextInsert,
		Position: &remotePos, Text: &remoteText, BaseVersion: 0,
	}
	s.handleRemoteOperation(wire.Message{
		Type: wire.TypeOperation, DocumentID: "doc-1", Operation: &remoteOp,
	})

	assert.Equal(t, "ABCD", doc.text.Value())
}

func TestSessionDisconnectWithOpenDocumentEndsDisconnected(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	s := New(Config{ServerURL: fs.wsURL(), ConnectionTimeout: 2 * time.Second})
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.OpenDocument(context.Background(), "doc-1", wire.KindText)
	require.NoError(t, err)

	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
}

// TestSessionReconnectsAndRejoinsDocument mirrors scenario 6:
// a dropped connection triggers backoff reconnection, and every
// previously-open document is rejoined against the fresh connection.
func TestSessionReconnectsAndRejoinsDocument(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.close()

	s := New(Config{
		ServerURL:         fs.wsURL(),
		ConnectionTimeout: 2 * time.Second,
		Reconnection: ReconnectionConfig{
			Enabled: true, Attempts: 5, Delay: 10 * time.Millisecond, DelayMax: 50 * time.Millisecond,
		},
	})
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect()

	_, err := s.OpenDocument(context.Background(), "doc-1", wire.KindText)
	require.NoError(t, err)

	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	require.NotNil(t, conn)
	conn.Close() // simulate the network drop

	require.Eventually(t, func() bool {
		return s.State() == StateConnected
	}, 3*time.Second, 20*time.Millisecond, "session should reconnect automatically")

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.docs["doc-1"]
		return ok
	}, 3*time.Second, 20*time.Millisecond, "document should be rejoined after reconnect")

	s.mu.Lock()
	doc := s.docs["doc-1"]
	s.mu.Unlock()
	assert.Equal(t, "AC", doc.text.Value())
	assert.Empty(t, doc.pending)
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	base := 100 * time.Millisecond
	max := 500 * time.Millisecond

	assert.Equal(t, base, backoffDelay(base, max, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, max, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, max, 2))
	assert.Equal(t, max, backoffDelay(base, max, 3))
	assert.Equal(t, max, backoffDelay(base, max, 10))
}
