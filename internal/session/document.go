package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lanemc/real-time-collaboration-sdk/internal/wire"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/shared"
)

// notifier is satisfied by every Shared Data Type's promoted On method.
type notifier interface {
	On(kind shared.EventKind, fn shared.Listener) func()
}

// applier is satisfied by every Shared Data Type's Apply method.
type applier interface {
	Apply(op ot.Operation) error
	Version() int64
}

type docValue interface {
	notifier
	applier
}

// openDocument tracks one joined document's local replica, its
// still-unacknowledged local operations (the pending buffer), and the
// listener subscription forwarding local edits to the transport.
type openDocument struct {
	id     string
	kind   wire.Kind
	schema string

	value docValue
	text  *shared.SharedText
	list  *shared.SharedList
	mapv  *shared.SharedMap

	pending     []ot.Operation
	unsubscribe func()
}

// DocumentHandle is the application-facing view of a joined document.
type DocumentHandle struct {
	session *Session
	doc     *openDocument
}

// ID returns the document identifier.
func (h *DocumentHandle) ID() string { return h.doc.id }

// Kind returns the document's Shared Data Type kind.
func (h *DocumentHandle) Kind() wire.Kind { return h.doc.kind }

// Text returns the text replica, or nil if this document is not a text document.
func (h *DocumentHandle) Text() *shared.SharedText { return h.doc.text }

// List returns the list replica, or nil if this document is not a list document.
func (h *DocumentHandle) List() *shared.SharedList { return h.doc.list }

// Map returns the map replica, or nil if this document is not a map document.
func (h *DocumentHandle) Map() *shared.SharedMap { return h.doc.mapv }

// PendingCount reports how many locally-generated operations have not
// yet been acknowledged by OPERATION_APPLIED.
func (h *DocumentHandle) PendingCount() int {
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return len(h.doc.pending)
}

// OpenDocument joins the document, instantiating the matching Shared
// Data Type locally and rehydrating it from the server's snapshot.
// Calling OpenDocument again for an already-open document returns the
// existing handle without re-joining.
func (s *Session) OpenDocument(ctx context.Context, id string, kind wire.Kind) (*DocumentHandle, error) {
	s.mu.Lock()
	if existing, ok := s.docs[id]; ok {
		s.mu.Unlock()
		return &DocumentHandle{session: s, doc: existing}, nil
	}
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	waiter := make(chan joinResult, 1)
	s.joinWait[id] = waiter
	s.mu.Unlock()

	doc := s.newOpenDocument(id, kind)

	s.send(wire.Message{
		Type:       wire.TypeJoinDocument,
		DocumentID: id,
		Schema:     string(kind),
		Timestamp:  nowMillis(),
	})

	var res joinResult
	select {
	case res = <-waiter:
	case <-time.After(s.cfg.ConnectionTimeout):
		s.mu.Lock()
		delete(s.joinWait, id)
		s.mu.Unlock()
		doc.unsubscribe()
		return nil, fmt.Errorf("session: timed out joining document %s", id)
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.joinWait, id)
		s.mu.Unlock()
		doc.unsubscribe()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	delete(s.joinWait, id)
	s.mu.Unlock()

	if err := rehydrate(doc, res.msg.State, res.msg.Version); err != nil {
		doc.unsubscribe()
		return nil, err
	}

	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()

	return &DocumentHandle{session: s, doc: doc}, nil
}

// CloseDocument leaves a joined document and discards its local replica.
func (s *Session) CloseDocument(id string) {
	s.mu.Lock()
	doc, ok := s.docs[id]
	if ok {
		delete(s.docs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	doc.unsubscribe()
	s.send(wire.Message{Type: wire.TypeLeaveDocument, DocumentID: id, Timestamp: nowMillis()})
}

func (s *Session) newOpenDocument(id string, kind wire.Kind) *openDocument {
	doc := &openDocument{id: id, kind: kind, schema: string(kind)}

	switch kind {
	case wire.KindText:
		t := shared.NewSharedText(s.clientID)
		doc.text = t
		doc.value = t
	case wire.KindList:
		l := shared.NewSharedList(s.clientID)
		doc.list = l
		doc.value = l
	case wire.KindMap:
		m := shared.NewSharedMap(s.clientID)
		doc.mapv = m
		doc.value = m
	default:
		t := shared.NewSharedText(s.clientID)
		doc.text = t
		doc.value = t
	}

	doc.unsubscribe = doc.value.On(shared.EventOperation, func(ev shared.Event) {
		if ev.Operation.ClientID != s.clientID {
			return
		}
		s.handleLocalOperation(doc, ev.Operation)
	})

	return doc
}

// rehydrate replaces doc's local state with the server's authoritative
// snapshot carried on DOCUMENT_JOINED, and drops the pending buffer: the
// server's join response already reflects every operation the server
// has seen from this client up to the point of the join request.
func rehydrate(doc *openDocument, state interface{}, version int64) error {
	switch doc.kind {
	case wire.KindText:
		s, ok := state.(string)
		if !ok {
			return fmt.Errorf("session: document %s: expected string snapshot for text, got %T", doc.id, state)
		}
		doc.text.FromSnapshot(shared.TextSnapshot{Value: s, Version: version})
	case wire.KindList:
		items, err := decodeAs[[]interface{}](state)
		if err != nil {
			return fmt.Errorf("session: document %s: %w", doc.id, err)
		}
		doc.list.FromSnapshot(shared.ListSnapshot{Items: items, Version: version})
	case wire.KindMap:
		fields, err := decodeAs[map[string]interface{}](state)
		if err != nil {
			return fmt.Errorf("session: document %s: %w", doc.id, err)
		}
		doc.mapv.FromSnapshot(shared.MapSnapshot{Value: fields, Version: version})
	}
	doc.pending = doc.pending[:0]
	return nil
}

func decodeAs[T any](raw interface{}) (T, error) {
	var zero T
	b, err := json.Marshal(raw)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}

func (s *Session) handleLocalOperation(doc *openDocument, op ot.Operation) {
	s.mu.Lock()
	doc.pending = append(doc.pending, op)
	s.mu.Unlock()

	s.send(wire.Message{
		Type:       wire.TypeOperation,
		DocumentID: doc.id,
		Operation:  &op,
		Timestamp:  nowMillis(),
	})
}

// handleOperationApplied drops the acknowledged operation from its
// document's pending buffer.
func (s *Session) handleOperationApplied(msg wire.Message) {
	s.mu.Lock()
	doc, ok := s.docs[msg.DocumentID]
	s.mu.Unlock()
	if !ok {
		return
	}
	opID := msg.OperationID
	if opID == "" && msg.Operation != nil {
		opID = msg.Operation.ID
	}

	s.mu.Lock()
	for i, pending := range doc.pending {
		if pending.ID == opID {
			doc.pending = append(doc.pending[:i], doc.pending[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// handleRemoteOperation transforms an inbound remote operation against
// every operation still sitting in the local pending buffer (operations
// the server has not yet acknowledged), then applies the result to the
// local replica.
func (s *Session) handleRemoteOperation(msg wire.Message) {
	s.mu.Lock()
	doc, ok := s.docs[msg.DocumentID]
	s.mu.Unlock()
	if !ok || msg.Operation == nil {
		return
	}

	incoming := *msg.Operation

	s.mu.Lock()
	pending := append([]ot.Operation(nil), doc.pending...)
	s.mu.Unlock()

	for _, local := range pending {
		transformed, _, err := ot.Transform(incoming, local)
		if err != nil {
			s.log.Warn("transform against pending operation failed",
				zap.String("document", doc.id), zap.Error(err))
			return
		}
		incoming = transformed
	}

	if err := doc.value.Apply(incoming); err != nil {
		s.log.Warn("apply remote operation failed", zap.String("document", doc.id), zap.Error(err))
	}
}
