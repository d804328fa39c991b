package shared

import (
	"sync"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// SharedText is a stateful wrapper over a text document: value,
// version, and client identity, exposed through the typed-event shape
// the rest of this package uses instead of bare struct fields.
type SharedText struct {
	emitter

	mu       sync.RWMutex
	value    string
	version  int64
	clientID string
}

// NewSharedText creates an empty SharedText owned by clientID.
func NewSharedText(clientID string) *SharedText {
	return &SharedText{emitter: newEmitter(), clientID: clientID}
}

// Value returns a copy of the current text value.
func (t *SharedText) Value() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

// Version returns the current version.
func (t *SharedText) Version() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Insert constructs and applies a text-insert operation at position,
// returning the operation for upstream shipment.
func (t *SharedText) Insert(position int, text string, attrs map[string]interface{}) (ot.Operation, error) {
	op := ot.Operation{
		ClientID:    t.clientID,
		Type:        ot.OpTextInsert,
		Position:    intPtr(position),
		Text:        &text,
		Attributes:  attrs,
		BaseVersion: t.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, t.Apply(op)
}

// Delete constructs and applies a text-delete operation.
func (t *SharedText) Delete(position, length int) (ot.Operation, error) {
	op := ot.Operation{
		ClientID:    t.clientID,
		Type:        ot.OpTextDelete,
		Position:    intPtr(position),
		Length:      intPtr(length),
		BaseVersion: t.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, t.Apply(op)
}

// Apply is the single mutation point : it updates value,
// emits granular plus generic events, and advances version to
// max(version, op.baseVersion+1) — normalized Design
// Notes to stay monotonic even if a stale op.BaseVersion arrives late.
func (t *SharedText) Apply(op ot.Operation) error {
	t.mu.Lock()
	old := t.value
	newValue, err := ot.ApplyText(t.value, op)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.value = newValue
	if op.BaseVersion+1 > t.version {
		t.version = op.BaseVersion + 1
	}
	t.mu.Unlock()

	kind := EventDelete
	if op.Type == ot.OpTextInsert {
		kind = EventInsert
	}
	t.emit(Event{Kind: kind, Operation: op, OldValue: old, NewValue: newValue})
	t.emit(Event{Kind: EventOperation, Operation: op})
	t.emit(Event{Kind: EventChange, OldValue: old, NewValue: newValue})
	return nil
}

// Snapshot captures (value, version) for transport to a newly-joining
// peer or for persistence.
type TextSnapshot struct {
	Value   string `json:"value"`
	Version int64  `json:"version"`
}

// ToSnapshot returns the current snapshot.
func (t *SharedText) ToSnapshot() TextSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TextSnapshot{Value: t.value, Version: t.version}
}

// FromSnapshot replaces value and version wholesale and emits only
// Change — snapshots are opaque, no granular events.
func (t *SharedText) FromSnapshot(snap TextSnapshot) {
	t.mu.Lock()
	old := t.value
	t.value = snap.Value
	t.version = snap.Version
	t.mu.Unlock()
	t.emit(Event{Kind: EventChange, OldValue: old, NewValue: snap.Value})
}

// GenerateOperations produces a minimal operation sequence reproducing
// the diff from the current value to newValue: a common-prefix/suffix
// split yielding at most one delete followed by one insert. The
// insert's BaseVersion accounts for the preceding delete's effect — it
// is computed against the version *after* the delete would have been
// applied, not the version the session observed before either op.
func (t *SharedText) GenerateOperations(newValue string) []ot.Operation {
	old := []rune(t.Value())
	next := []rune(newValue)
	base := t.Version()

	prefix := 0
	for prefix < len(old) && prefix < len(next) && old[prefix] == next[prefix] {
		prefix++
	}
	oldSuffix, nextSuffix := len(old), len(next)
	for oldSuffix > prefix && nextSuffix > prefix && old[oldSuffix-1] == next[nextSuffix-1] {
		oldSuffix--
		nextSuffix--
	}

	var ops []ot.Operation
	nextBase := base
	if oldSuffix > prefix {
		delLen := oldSuffix - prefix
		ops = append(ops, ot.Operation{
			ClientID:    t.clientID,
			Type:        ot.OpTextDelete,
			Position:    intPtr(prefix),
			Length:      intPtr(delLen),
			BaseVersion: nextBase,
		})
		nextBase++
	}
	if nextSuffix > prefix {
		ins := string(next[prefix:nextSuffix])
		ops = append(ops, ot.Operation{
			ClientID:    t.clientID,
			Type:        ot.OpTextInsert,
			Position:    intPtr(prefix),
			Text:        &ins,
			BaseVersion: nextBase,
		})
	}
	return ops
}

func intPtr(i int) *int { return &i }
