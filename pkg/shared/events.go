// Package shared implements stateful wrappers over text, list, and map
// values that emit typed events and can be rehydrated from a snapshot.
package shared

import (
	"sync"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// EventKind enumerates the granular events a Shared Data Type emits, a
// typed variant in place of string-keyed dynamic dispatch.
type EventKind int

const (
	EventInsert EventKind = iota
	EventDelete
	EventReplace
	EventMove
	EventSet
	EventBatch
	EventChange
	EventOperation
)

// Event is the payload delivered to a registered callback. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	Operation ot.Operation
	OldValue  interface{}
	NewValue  interface{}
}

// Listener is a typed callback registered against a specific EventKind.
type Listener func(Event)

// emitter is embedded by each Shared Data Type to provide typed
// callback registries keyed by EventKind, in place of an
// interface{}-typed dispatch.
type emitter struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
}

func newEmitter() emitter {
	return emitter{listeners: make(map[EventKind][]Listener)}
}

// On registers a listener for a given event kind and returns an
// unsubscribe function.
func (e *emitter) On(kind EventKind, fn Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[kind] = append(e.listeners[kind], fn)
	idx := len(e.listeners[kind]) - 1
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		list := e.listeners[kind]
		if idx < len(list) {
			list[idx] = nil
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.listeners[ev.Kind] {
		if fn != nil {
			fn(ev)
		}
	}
}
