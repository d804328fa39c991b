// Package authority implements the single-writer, per-document actor
// that transforms, applies, persists, acknowledges, and broadcasts
// operations. A mutex-guarded apply over a single ot.Document becomes a
// channel actor here, built around the same register/unregister/
// broadcast loop shape a connection hub uses: one goroutine per
// document, not a lock, is what keeps apply order deterministic.
package authority

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
	"github.com/lanemc/real-time-collaboration-sdk/internal/telemetry"
	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// Kind identifies the value shape a document holds; it is an alias for
// wire.Kind so callers can pass either name interchangeably.
type Kind = wire.Kind

const (
	KindText = wire.KindText
	KindList = wire.KindList
	KindMap  = wire.KindMap
)

// trimHighWaterMark and trimKeep implement trim policy:
// when |recentOps| exceeds trimHighWaterMark, retain the last trimKeep.
const (
	trimHighWaterMark = 1000
	trimKeep          = 500
)

// Error is an authority-produced failure tagged with a wire error code
// (taxonomy).
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Code, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func rejectNotFound(err error) error     { return &Error{Code: wire.CodeDocumentNotFound, Err: err} }
func rejectInvalid(err error) error      { return &Error{Code: wire.CodeInvalidOperation, Err: err} }
func rejectUnauthorized(err error) error { return &Error{Code: wire.CodeUnauthorized, Err: err} }

// Peer is the narrow send capability an Authority needs to ack an
// originator and broadcast to the rest of a document's joined clients.
// internal/coordinator's client session implements this.
type Peer interface {
	ClientID() string
	Deliver(msg wire.Message)
}

type record struct {
	op             ot.Operation
	appliedVersion int64
}

type reqKind int

const (
	reqJoin reqKind = iota
	reqLeave
	reqApply
	reqPresence
	reqStop
)

type request struct {
	kind     reqKind
	peer     Peer
	op       ot.Operation
	presence wire.Presence
	resp     chan error
}

// Authority is the single-writer actor for one document. All mutating
// access goes through its mailbox; Run must be started in its own
// goroutine before any method is called.
type Authority struct {
	id    string
	kind  Kind
	store persistence.Store
	log   *zap.Logger

	value          interface{}
	version        int64
	recentOps      []record
	trimmedThrough int64

	clients  map[string]Peer
	presence map[string]wire.Presence

	mailbox chan request
	done    chan struct{}

	// versionSnapshot and clientCountSnapshot mirror the actor-owned
	// version/client-set for the HTTP surface's /documents/:id, which
	// must not block on the mailbox to read them.
	versionSnapshot     int64
	clientCountSnapshot int64
	createdAt           time.Time
}

// New constructs an Authority seeded with initialValue (from
// persistence, or a schema-derived zero value for a new document).
func New(id string, kind Kind, initialValue interface{}, initialVersion int64, store persistence.Store) *Authority {
	a := &Authority{
		id:        id,
		kind:      kind,
		store:     store,
		log:       telemetry.WithDocument(id),
		value:     initialValue,
		version:   initialVersion,
		clients:   make(map[string]Peer),
		presence:  make(map[string]wire.Presence),
		mailbox:   make(chan request, 64),
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	a.versionSnapshot = initialVersion
	return a
}

// ID returns the document ID this authority owns.
func (a *Authority) ID() string { return a.id }

// CreatedAt returns the time this authority instance was constructed.
func (a *Authority) CreatedAt() time.Time { return a.createdAt }

// Version returns the last version snapshot without going through the
// mailbox, for the HTTP surface's read-only /documents/:id endpoint.
func (a *Authority) Version() int64 { return atomic.LoadInt64(&a.versionSnapshot) }

// ClientCount returns the last client-count snapshot without going
// through the mailbox.
func (a *Authority) ClientCount() int64 { return atomic.LoadInt64(&a.clientCountSnapshot) }

// Run is the actor's mailbox loop. Call it in its own goroutine.
func (a *Authority) Run() {
	for req := range a.mailbox {
		var err error
		switch req.kind {
		case reqJoin:
			err = a.handleJoin(req.peer)
		case reqLeave:
			err = a.handleLeave(req.peer)
		case reqApply:
			err = a.handleApply(req.peer, req.op)
		case reqPresence:
			err = a.handlePresence(req.peer, req.presence)
		case reqStop:
			close(a.done)
			return
		}
		if req.resp != nil {
			req.resp <- err
		}
	}
}

// Stop drains and terminates the mailbox loop.
func (a *Authority) Stop() {
	a.mailbox <- request{kind: reqStop}
	<-a.done
}

func (a *Authority) send(ctx context.Context, req request) error {
	req.resp = make(chan error, 1)
	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join registers peer as an attached client and replies directly with
// the current snapshot; it also broadcasts USER_JOINED to the document's
// other peers.
func (a *Authority) Join(ctx context.Context, peer Peer) error {
	return a.send(ctx, request{kind: reqJoin, peer: peer})
}

// Leave removes peer from the client and presence sets and broadcasts
// USER_LEFT.
func (a *Authority) Leave(ctx context.Context, peer Peer) error {
	return a.send(ctx, request{kind: reqLeave, peer: peer})
}

// Apply runs the apply algorithm of for an inbound
// operation from peer: transform against later recentOps, apply,
// persist, ack the originator, and broadcast to every other peer. The
// returned error, if non-nil, is an *Error carrying a wire error code.
func (a *Authority) Apply(ctx context.Context, peer Peer, op ot.Operation) error {
	return a.send(ctx, request{kind: reqApply, peer: peer, op: op})
}

// Presence updates peer's presence entry and broadcasts it to the
// document's other peers.
func (a *Authority) Presence(ctx context.Context, peer Peer, p wire.Presence) error {
	return a.send(ctx, request{kind: reqPresence, peer: peer, presence: p})
}

func (a *Authority) handleJoin(peer Peer) error {
	a.clients[peer.ClientID()] = peer
	atomic.StoreInt64(&a.clientCountSnapshot, int64(len(a.clients)))
	presenceList := a.presenceListExcept(peer.ClientID())

	peer.Deliver(wire.Message{
		Type:       wire.TypeDocumentJoined,
		DocumentID: a.id,
		Version:    a.version,
		State:      a.value,
		Users:      presenceList,
		Timestamp:  nowMillis(),
	})

	a.broadcastExcept(peer.ClientID(), wire.Message{
		Type:       wire.TypeUserJoined,
		DocumentID: a.id,
		ClientID:   peer.ClientID(),
		Timestamp:  nowMillis(),
	})
	a.log.Info("client joined", zap.String("clientId", peer.ClientID()), zap.Int64("version", a.version))
	return nil
}

func (a *Authority) handleLeave(peer Peer) error {
	delete(a.clients, peer.ClientID())
	delete(a.presence, peer.ClientID())
	atomic.StoreInt64(&a.clientCountSnapshot, int64(len(a.clients)))

	a.broadcastExcept(peer.ClientID(), wire.Message{
		Type:       wire.TypeUserLeft,
		DocumentID: a.id,
		ClientID:   peer.ClientID(),
		Timestamp:  nowMillis(),
	})
	a.log.Info("client left", zap.String("clientId", peer.ClientID()))
	return nil
}

func (a *Authority) handlePresence(peer Peer, p wire.Presence) error {
	if _, joined := a.clients[peer.ClientID()]; !joined {
		return rejectUnauthorized(fmt.Errorf("client %s has not joined document %s", peer.ClientID(), a.id))
	}
	p.ClientID = peer.ClientID()
	p.LastSeen = nowMillis()
	p.IsOnline = true
	a.presence[peer.ClientID()] = p

	a.broadcastExcept(peer.ClientID(), wire.Message{
		Type:       wire.TypePresenceUpdate,
		DocumentID: a.id,
		Presence:   &p,
		Timestamp:  nowMillis(),
	})
	return nil
}

func (a *Authority) handleApply(peer Peer, op ot.Operation) error {
	start := time.Now()

	if _, joined := a.clients[peer.ClientID()]; !joined {
		err := rejectUnauthorized(fmt.Errorf("client %s has not joined document %s", peer.ClientID(), a.id))
		a.deliverFailure(peer, op, err)
		telemetry.Get().RecordRejected("unauthorized")
		return err
	}

	if op.BaseVersion < a.trimmedThrough {
		err := rejectNotFound(fmt.Errorf("baseVersion %d older than trim horizon %d", op.BaseVersion, a.trimmedThrough))
		a.deliverFailure(peer, op, err)
		telemetry.Get().RecordRejected("document_not_found")
		return err
	}

	transformed := op
	for _, later := range a.recentOps {
		if later.appliedVersion <= op.BaseVersion {
			continue
		}
		var err error
		transformed, _, err = ot.Transform(transformed, later.op)
		if err != nil {
			a.deliverFailure(peer, op, rejectInvalid(err))
			telemetry.Get().RecordRejected("invalid_operation")
			return rejectInvalid(err)
		}
	}
	transformElapsed := time.Since(start)

	if err := a.applyToValue(transformed); err != nil {
		a.deliverFailure(peer, op, rejectInvalid(err))
		telemetry.Get().RecordRejected("invalid_operation")
		return rejectInvalid(err)
	}

	a.version++
	a.recentOps = append(a.recentOps, record{op: transformed, appliedVersion: a.version})
	a.trim()
	atomic.StoreInt64(&a.versionSnapshot, a.version)

	a.persist(transformed)

	telemetry.Get().RecordApply(string(transformed.Type), transformElapsed)

	peer.Deliver(wire.Message{
		Type:        wire.TypeOperationApp,
		DocumentID:  a.id,
		OperationID: transformed.ID,
		Version:     a.version,
		Timestamp:   nowMillis(),
	})

	broadcastStart := time.Now()
	a.broadcastExcept(peer.ClientID(), wire.Message{
		Type:       wire.TypeOperation,
		DocumentID: a.id,
		Operation:  &transformed,
		Version:    a.version,
		Timestamp:  nowMillis(),
	})
	telemetry.Get().BroadcastDuration.Observe(time.Since(broadcastStart).Seconds())

	return nil
}

func (a *Authority) deliverFailure(peer Peer, op ot.Operation, err error) {
	code := wire.CodeServerError
	var ae *Error
	if errAs(err, &ae) {
		code = ae.Code
	}
	peer.Deliver(wire.Message{
		Type:        wire.TypeOperationFailed,
		DocumentID:  a.id,
		OperationID: op.ID,
		Error:       &wire.ErrorPayload{Code: code, Message: err.Error()},
		Timestamp:   nowMillis(),
	})
	a.log.Warn("operation rejected",
		zap.String("clientId", peer.ClientID()),
		zap.String("code", code),
		zap.Error(err))
}

// errAs is a tiny errors.As wrapper kept local to avoid importing
// "errors" solely for this one call site elsewhere in the file.
func errAs(err error, target **Error) bool {
	ae, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = ae
	return true
}

func (a *Authority) applyToValue(op ot.Operation) error {
	switch a.kind {
	case KindText:
		s, _ := a.value.(string)
		next, err := ot.ApplyText(s, op)
		if err != nil {
			return err
		}
		a.value = next
	case KindList:
		items, _ := a.value.([]interface{})
		next, err := ot.ApplyList(items, op)
		if err != nil {
			return err
		}
		a.value = next
	case KindMap:
		m, _ := a.value.(map[string]interface{})
		if m == nil {
			m = map[string]interface{}{}
		}
		next, err := ot.ApplyMap(m, op)
		if err != nil {
			return err
		}
		a.value = next
	default:
		return fmt.Errorf("unknown document kind %q", a.kind)
	}
	return nil
}

// trim implements trim policy: once recentOps exceeds
// trimHighWaterMark entries, keep only the last trimKeep; everything
// older is assumed durably persisted, and any client rebasing on a
// version below trimmedThrough is forced to rejoin.
func (a *Authority) trim() {
	if len(a.recentOps) <= trimHighWaterMark {
		return
	}
	cut := len(a.recentOps) - trimKeep
	a.trimmedThrough = a.recentOps[cut-1].appliedVersion
	a.recentOps = append([]record(nil), a.recentOps[cut:]...)
}

func (a *Authority) persist(op ot.Operation) {
	if a.store == nil {
		return
	}
	ctx := context.Background()
	if err := a.store.SaveOperation(ctx, a.id, op, a.version); err != nil {
		a.log.Warn("save operation failed", zap.Error(err))
	}
	if err := a.store.SaveDocument(ctx, persistence.DocumentState{
		ID:      a.id,
		Kind:    string(a.kind),
		Value:   a.value,
		Version: a.version,
	}); err != nil {
		a.log.Warn("save document failed", zap.Error(err))
	}
}

func (a *Authority) broadcastExcept(exclude string, msg wire.Message) {
	for id, peer := range a.clients {
		if id == exclude {
			continue
		}
		peer.Deliver(msg)
	}
}

func (a *Authority) presenceListExcept(exclude string) []wire.Presence {
	out := make([]wire.Presence, 0, len(a.presence))
	for id, p := range a.presence {
		if id == exclude {
			continue
		}
		out = append(out, p)
	}
	return out
}

func nowMillis() int64 { return time.Now().UnixMilli() }
