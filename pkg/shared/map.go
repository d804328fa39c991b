package shared

import (
	"sync"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// SharedMap is a stateful wrapper over a keyed map.
type SharedMap struct {
	emitter

	mu       sync.RWMutex
	value    map[string]interface{}
	version  int64
	clientID string
}

// NewSharedMap creates an empty SharedMap owned by clientID.
func NewSharedMap(clientID string) *SharedMap {
	return &SharedMap{emitter: newEmitter(), clientID: clientID, value: make(map[string]interface{})}
}

// Value returns a shallow copy of the current map.
func (m *SharedMap) Value() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.value))
	for k, v := range m.value {
		out[k] = v
	}
	return out
}

// Version returns the current version.
func (m *SharedMap) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Set constructs and applies a map-set operation.
func (m *SharedMap) Set(key string, value interface{}) (ot.Operation, error) {
	m.mu.RLock()
	prev, existed := m.value[key]
	m.mu.RUnlock()

	var prevPtr interface{}
	if existed {
		prevPtr = prev
	}
	op := ot.Operation{
		ClientID:      m.clientID,
		Type:          ot.OpMapSet,
		Key:           &key,
		Value:         value,
		PreviousValue: prevPtr,
		BaseVersion:   m.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, m.Apply(op)
}

// Delete constructs and applies a map-delete operation.
func (m *SharedMap) Delete(key string) (ot.Operation, error) {
	m.mu.RLock()
	prev := m.value[key]
	m.mu.RUnlock()

	op := ot.Operation{
		ClientID:      m.clientID,
		Type:          ot.OpMapDelete,
		Key:           &key,
		PreviousValue: prev,
		BaseVersion:   m.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, m.Apply(op)
}

// Batch constructs and atomically applies a map-batch operation from a
// sequence of set/delete sub-operations.
func (m *SharedMap) Batch(subs []ot.Operation) (ot.Operation, error) {
	op := ot.Operation{
		ClientID:    m.clientID,
		Type:        ot.OpMapBatch,
		Operations:  subs,
		BaseVersion: m.Version(),
	}
	if err := ot.Validate(op); err != nil {
		return op, err
	}
	return op, m.Apply(op)
}

// Clear removes every key via a single batch of deletes.
func (m *SharedMap) Clear() (ot.Operation, error) {
	m.mu.RLock()
	subs := make([]ot.Operation, 0, len(m.value))
	for k := range m.value {
		key := k
		subs = append(subs, ot.Operation{ClientID: m.clientID, Type: ot.OpMapDelete, Key: &key})
	}
	m.mu.RUnlock()
	if len(subs) == 0 {
		return ot.Operation{}, nil
	}
	return m.Batch(subs)
}

// Apply is the single mutation point.
func (m *SharedMap) Apply(op ot.Operation) error {
	m.mu.Lock()
	old := make(map[string]interface{}, len(m.value))
	for k, v := range m.value {
		old[k] = v
	}

	next, err := ot.ApplyMap(m.value, op)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.value = next
	if op.BaseVersion+1 > m.version {
		m.version = op.BaseVersion + 1
	}
	m.mu.Unlock()

	kind := EventSet
	if op.Type == ot.OpMapDelete {
		kind = EventDelete
	} else if op.Type == ot.OpMapBatch {
		kind = EventBatch
	}
	m.emit(Event{Kind: kind, Operation: op, OldValue: old, NewValue: next})
	m.emit(Event{Kind: EventOperation, Operation: op})
	m.emit(Event{Kind: EventChange, OldValue: old, NewValue: next})
	return nil
}

// MapSnapshot captures (value, version).
type MapSnapshot struct {
	Value   map[string]interface{} `json:"value"`
	Version int64                  `json:"version"`
}

// ToSnapshot returns the current snapshot.
func (m *SharedMap) ToSnapshot() MapSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value := make(map[string]interface{}, len(m.value))
	for k, v := range m.value {
		value[k] = v
	}
	return MapSnapshot{Value: value, Version: m.version}
}

// FromSnapshot replaces value and version wholesale, emitting only
// Change.
func (m *SharedMap) FromSnapshot(snap MapSnapshot) {
	m.mu.Lock()
	old := m.value
	m.value = snap.Value
	m.version = snap.Version
	m.mu.Unlock()
	m.emit(Event{Kind: EventChange, OldValue: old, NewValue: snap.Value})
}
