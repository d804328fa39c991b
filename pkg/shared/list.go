package shared

import (
	"sync"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// SharedList is a stateful wrapper over an ordered list of items.
type SharedList struct {
	emitter

	mu       sync.RWMutex
	items    []interface{}
	version  int64
	clientID string
}

// NewSharedList creates an empty SharedList owned by clientID.
func NewSharedList(clientID string) *SharedList {
	return &SharedList{emitter: newEmitter(), clientID: clientID}
}

// Value returns a copy of the current items.
func (l *SharedList) Value() []interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]interface{}, len(l.items))
	copy(out, l.items)
	return out
}

// Version returns the current version.
func (l *SharedList) Version() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Insert constructs and applies a list-insert operation.
func (l *SharedList) Insert(index int, item interface{}) (ot.Operation, error) {
	op := ot.Operation{
		ClientID:    l.clientID,
		Type:        ot.OpListInsert,
		Index:       intPtr(index),
		Item:        item,
		BaseVersion: l.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, l.Apply(op)
}

// Delete constructs and applies a list-delete operation.
func (l *SharedList) Delete(index, count int) (ot.Operation, error) {
	if count <= 0 {
		count = 1
	}
	op := ot.Operation{
		ClientID:    l.clientID,
		Type:        ot.OpListDelete,
		Index:       intPtr(index),
		Count:       intPtr(count),
		BaseVersion: l.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, l.Apply(op)
}

// Replace constructs and applies a list-replace operation.
func (l *SharedList) Replace(index int, item interface{}) (ot.Operation, error) {
	l.mu.RLock()
	var old interface{}
	if index >= 0 && index < len(l.items) {
		old = l.items[index]
	}
	l.mu.RUnlock()

	op := ot.Operation{
		ClientID:      l.clientID,
		Type:          ot.OpListReplace,
		Index:         intPtr(index),
		Item:          item,
		PreviousValue: old,
		BaseVersion:   l.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, l.Apply(op)
}

// Move constructs and applies a list-move operation.
func (l *SharedList) Move(index, targetIndex int) (ot.Operation, error) {
	op := ot.Operation{
		ClientID:    l.clientID,
		Type:        ot.OpListMove,
		Index:       intPtr(index),
		TargetIndex: intPtr(targetIndex),
		BaseVersion: l.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, l.Apply(op)
}

// Apply is the single mutation point: validates via ot.ApplyList,
// advances version monotonically, and emits granular plus generic
// events.
func (l *SharedList) Apply(op ot.Operation) error {
	l.mu.Lock()
	old := make([]interface{}, len(l.items))
	copy(old, l.items)

	next, err := ot.ApplyList(l.items, op)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.items = next
	if op.BaseVersion+1 > l.version {
		l.version = op.BaseVersion + 1
	}
	l.mu.Unlock()

	kind := eventKindForList(op.Type)
	l.emit(Event{Kind: kind, Operation: op, OldValue: old, NewValue: next})
	l.emit(Event{Kind: EventOperation, Operation: op})
	l.emit(Event{Kind: EventChange, OldValue: old, NewValue: next})
	return nil
}

func eventKindForList(t ot.OpType) EventKind {
	switch t {
	case ot.OpListInsert:
		return EventInsert
	case ot.OpListDelete:
		return EventDelete
	case ot.OpListReplace:
		return EventReplace
	case ot.OpListMove:
		return EventMove
	default:
		return EventOperation
	}
}

// ListSnapshot captures (items, version).
type ListSnapshot struct {
	Items   []interface{} `json:"items"`
	Version int64         `json:"version"`
}

// ToSnapshot returns the current snapshot.
func (l *SharedList) ToSnapshot() ListSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	items := make([]interface{}, len(l.items))
	copy(items, l.items)
	return ListSnapshot{Items: items, Version: l.version}
}

// FromSnapshot replaces items and version wholesale, emitting only
// Change.
func (l *SharedList) FromSnapshot(snap ListSnapshot) {
	l.mu.Lock()
	old := l.items
	l.items = snap.Items
	l.version = snap.Version
	l.mu.Unlock()
	l.emit(Event{Kind: EventChange, OldValue: old, NewValue: snap.Items})
}
