package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence/memory"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// fakePeer records every message delivered to it, for assertions.
type fakePeer struct {
	id       string
	inbox    chan wire.Message
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id, inbox: make(chan wire.Message, 32)}
}

func (p *fakePeer) ClientID() string { return p.id }
func (p *fakePeer) Deliver(msg wire.Message) {
	select {
	case p.inbox <- msg:
	default:
	}
}

func (p *fakePeer) next(t *testing.T) wire.Message {
	t.Helper()
	select {
	case msg := <-p.inbox:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("peer %s: no message delivered", p.id)
		return wire.Message{}
	}
}

func textOp(clientID string, pos int, text string, base int64, ts int64) ot.Operation {
	t := text
	return ot.Operation{ID: clientID + "-" + text, ClientID: clientID, Type: ot.OpTextInsert, Position: &pos, Text: &t, BaseVersion: base, Timestamp: ts}
}

func startTestAuthority(t *testing.T) (*Authority, func()) {
	t.Helper()
	a := New("doc-1", KindText, "AC", 0, memory.New())
	go a.Run()
	return a, func() { a.Stop() }
}

func TestAuthorityJoinRepliesWithSnapshot(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()

	peer := newFakePeer("c1")
	require.NoError(t, a.Join(context.Background(), peer))

	msg := peer.next(t)
	assert.Equal(t, wire.TypeDocumentJoined, msg.Type)
	assert.Equal(t, "AC", msg.State)
	assert.Equal(t, int64(0), msg.Version)
}

// TestAuthorityScenario1ConcurrentInsertNoOverlap exercises two
// concurrent non-overlapping inserts end-to-end through the actor's
// apply algorithm.
func TestAuthorityScenario1ConcurrentInsertNoOverlap(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()

	c1, c2 := newFakePeer("c1"), newFakePeer("c2")
	require.NoError(t, a.Join(context.Background(), c1))
	require.NoError(t, a.Join(context.Background(), c2))
	_ = c1.next(t) // document_joined
	_ = c2.next(t) // document_joined
	_ = c1.next(t) // user_joined broadcast for c2's join

	require.NoError(t, a.Apply(context.Background(), c1, textOp("c1", 1, "B", 0, 100)))
	ack := c1.next(t)
	assert.Equal(t, wire.TypeOperationApp, ack.Type)
	assert.Equal(t, int64(1), ack.Version)
	broadcast := c2.next(t)
	assert.Equal(t, wire.TypeOperation, broadcast.Type)
	assert.Equal(t, 1, *broadcast.Operation.Position)

	require.NoError(t, a.Apply(context.Background(), c2, textOp("c2", 2, "D", 0, 100)))
	ack2 := c2.next(t)
	assert.Equal(t, int64(2), ack2.Version)
	broadcast2 := c1.next(t)
	assert.Equal(t, 3, *broadcast2.Operation.Position)
	assert.Equal(t, int64(2), a.Version())
}

func TestAuthorityRejectsStaleBaseVersion(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()
	a.trimmedThrough = 5

	peer := newFakePeer("c1")
	require.NoError(t, a.Join(context.Background(), peer))
	_ = peer.next(t)

	err := a.Apply(context.Background(), peer, textOp("c1", 0, "x", 1, 100))
	require.Error(t, err)
	var ae *Error
	require.True(t, errAs(err, &ae))
	assert.Equal(t, wire.CodeDocumentNotFound, ae.Code)

	failure := peer.next(t)
	assert.Equal(t, wire.TypeOperationFailed, failure.Type)
	assert.Equal(t, wire.CodeDocumentNotFound, failure.Error.Code)
}

func TestAuthorityRejectsApplyFromUnjoinedClient(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()

	peer := newFakePeer("c1")
	err := a.Apply(context.Background(), peer, textOp("c1", 0, "x", 0, 100))
	require.Error(t, err)
	var ae *Error
	require.True(t, errAs(err, &ae))
	assert.Equal(t, wire.CodeUnauthorized, ae.Code)

	failure := peer.next(t)
	assert.Equal(t, wire.TypeOperationFailed, failure.Type)
	assert.Equal(t, wire.CodeUnauthorized, failure.Error.Code)
}

func TestAuthorityRejectsPresenceFromUnjoinedClient(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()

	peer := newFakePeer("c1")
	err := a.Presence(context.Background(), peer, wire.Presence{})
	require.Error(t, err)
	var ae *Error
	require.True(t, errAs(err, &ae))
	assert.Equal(t, wire.CodeUnauthorized, ae.Code)
}

func TestAuthorityRejectsInvalidOperation(t *testing.T) {
	a, stop := startTestAuthority(t)
	defer stop()

	peer := newFakePeer("c1")
	require.NoError(t, a.Join(context.Background(), peer))
	_ = peer.next(t)

	badPos := 99
	text := "x"
	err := a.Apply(context.Background(), peer, ot.Operation{
		ID: "bad", ClientID: "c1", Type: ot.OpTextInsert, Position: &badPos, Text: &text, BaseVersion: 0,
	})
	require.Error(t, err)

	failure := peer.next(t)
	assert.Equal(t, wire.TypeOperationFailed, failure.Type)
	assert.Equal(t, wire.CodeInvalidOperation, failure.Error.Code)
	assert.Equal(t, int64(0), a.Version(), "version must not advance on a rejected operation")
}

func TestAuthorityTrimPolicy(t *testing.T) {
	a := New("doc-2", KindText, "", 0, memory.New())
	go a.Run()
	defer a.Stop()

	peer := newFakePeer("c1")
	require.NoError(t, a.Join(context.Background(), peer))
	_ = peer.next(t)

	for i := 0; i < 1100; i++ {
		op := textOp("c1", 0, "a", int64(i), int64(i))
		require.NoError(t, a.Apply(context.Background(), peer, op))
		_ = peer.next(t) // operation_applied ack
	}

	assert.LessOrEqual(t, len(a.recentOps), trimHighWaterMark)
	assert.Positive(t, a.trimmedThrough)

	// A client rebasing on a version below the trim horizon must be
	// rejected, forcing it to rejoin.
	err := a.Apply(context.Background(), peer, textOp("c1", 0, "z", 0, 2000))
	require.Error(t, err)
	var ae *Error
	require.True(t, errAs(err, &ae))
	assert.Equal(t, wire.CodeDocumentNotFound, ae.Code)
	_ = peer.next(t) // operation_failed
}
