// Package ot implements Operational Transformation for real-time
// collaborative editing over text, list, and map documents.
package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OpType identifies the kind of edit an Operation carries.
type OpType string

const (
	OpTextInsert  OpType = "text-insert"
	OpTextDelete  OpType = "text-delete"
	OpTextRetain  OpType = "text-retain"
	OpListInsert  OpType = "list-insert"
	OpListDelete  OpType = "list-delete"
	OpListReplace OpType = "list-replace"
	OpListMove    OpType = "list-move"
	OpMapSet      OpType = "map-set"
	OpMapDelete   OpType = "map-delete"
	OpMapBatch    OpType = "map-batch"
)

// ErrInvalidOperation is returned when an operation fails validation or
// cannot be applied to the current value.
var ErrInvalidOperation = errors.New("invalid operation")

// Operation is the wire and in-memory representation of a single edit.
// Every field beyond the base five (id, clientId, baseVersion, type,
// timestamp) is optional and only meaningful for a subset of Type
// values. MarshalJSON/UnmarshalJSON keep this flat layout and add only
// the Extra passthrough for unrecognized fields.
type Operation struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	BaseVersion int64  `json:"baseVersion"`
	Type        OpType `json:"type"`
	Timestamp   int64  `json:"timestamp"`

	// text-insert / text-delete / text-retain
	Position   *int                   `json:"position,omitempty"`
	Text       *string                `json:"text,omitempty"`
	Length     *int                   `json:"length,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// list-*
	Index       *int        `json:"index,omitempty"`
	Item        interface{} `json:"item,omitempty"`
	Count       *int        `json:"count,omitempty"`
	TargetIndex *int        `json:"targetIndex,omitempty"`

	// map-*
	Key           *string     `json:"key,omitempty"`
	Value         interface{} `json:"value,omitempty"`
	PreviousValue interface{} `json:"previousValue,omitempty"`
	Operations    []Operation `json:"operations,omitempty"`

	// Extra captures any wire fields this version of Operation doesn't
	// recognize, keyed by their original JSON name, so additive fields
	// from a newer sender round-trip through transform/apply instead of
	// being dropped.
	Extra map[string]json.RawMessage `json:"-"`

	// noop marks an operation transformed away to a zero-effect
	// placeholder (e.g. a losing list-move or a fully-overlapped
	// delete); it is still applied (as a no-op) so appliedVersion
	// accounting in the authority stays correct .
	noop bool
}

// knownOperationFields lists every JSON name Operation's tagged fields
// use, so UnmarshalJSON can route everything else into Extra.
var knownOperationFields = map[string]bool{
	"id": true, "clientId": true, "baseVersion": true, "type": true,
	"timestamp": true, "position": true, "text": true, "length": true,
	"attributes": true, "index": true, "item": true, "count": true,
	"targetIndex": true, "key": true, "value": true, "previousValue": true,
	"operations": true,
}

// IsNoop reports whether this operation has been transformed into a
// zero-effect placeholder.
func (op Operation) IsNoop() bool { return op.noop }

// AsNoop returns a copy of op marked as a no-op.
func (op Operation) AsNoop() Operation {
	op.noop = true
	return op
}

func (op Operation) clone() Operation {
	c := op
	if op.Position != nil {
		p := *op.Position
		c.Position = &p
	}
	if op.Text != nil {
		t := *op.Text
		c.Text = &t
	}
	if op.Length != nil {
		l := *op.Length
		c.Length = &l
	}
	if op.Index != nil {
		i := *op.Index
		c.Index = &i
	}
	if op.Count != nil {
		n := *op.Count
		c.Count = &n
	}
	if op.TargetIndex != nil {
		t := *op.TargetIndex
		c.TargetIndex = &t
	}
	if op.Key != nil {
		k := *op.Key
		c.Key = &k
	}
	if op.Attributes != nil {
		m := make(map[string]interface{}, len(op.Attributes))
		for k, v := range op.Attributes {
			m[k] = v
		}
		c.Attributes = m
	}
	if op.Operations != nil {
		subs := make([]Operation, len(op.Operations))
		copy(subs, op.Operations)
		c.Operations = subs
	}
	if op.Extra != nil {
		m := make(map[string]json.RawMessage, len(op.Extra))
		for k, v := range op.Extra {
			m[k] = v
		}
		c.Extra = m
	}
	return c
}

func (op Operation) pos() int {
	if op.Position == nil {
		return 0
	}
	return *op.Position
}

func (op Operation) textLen() int {
	if op.Text == nil {
		return 0
	}
	return len([]rune(*op.Text))
}

func (op Operation) delLen() int {
	if op.Length == nil {
		return 0
	}
	return *op.Length
}

func (op Operation) idx() int {
	if op.Index == nil {
		return 0
	}
	return *op.Index
}

func (op Operation) cnt() int {
	if op.Count == nil {
		return 1
	}
	return *op.Count
}

// greaterTuple reports whether op's (timestamp, clientID) tuple is
// strictly greater than other's, the total order used for
// tie-breaking. Used two ways at call sites: for
// position ties (insert/insert) the operation with the greater tuple
// shifts forward; for same-key/same-index conflicts (set/set,
// delete/delete, replace/replace, move/move) the operation with the
// greater tuple wins and the other becomes a no-op.
func greaterTuple(op, other Operation) bool {
	if op.Timestamp != other.Timestamp {
		return op.Timestamp > other.Timestamp
	}
	return op.ClientID > other.ClientID
}

// Transform produces (A', B') such that applying B then A', and
// applying A then B', converge to the same result (TP1). A and B must
// share the same baseVersion.
func Transform(a, b Operation) (Operation, Operation, error) {
	switch {
	case isTextOp(a.Type) && isTextOp(b.Type):
		return transformText(a, b)
	case isListOp(a.Type) && isListOp(b.Type):
		return transformList(a, b)
	case isMapOp(a.Type) && isMapOp(b.Type):
		return transformMap(a, b)
	default:
		return a, b, fmt.Errorf("%w: cannot transform %s against %s", ErrInvalidOperation, a.Type, b.Type)
	}
}

func isTextOp(t OpType) bool {
	return t == OpTextInsert || t == OpTextDelete || t == OpTextRetain
}

func isListOp(t OpType) bool {
	return t == OpListInsert || t == OpListDelete || t == OpListReplace || t == OpListMove
}

func isMapOp(t OpType) bool {
	return t == OpMapSet || t == OpMapDelete || t == OpMapBatch
}

// Conflicts reports whether two operations' affected ranges overlap,
// "conflict iff affected ranges overlap" rule. A
// zero-width insert range still counts as occupying its position.
func Conflicts(a, b Operation) bool {
	switch {
	case isTextOp(a.Type) && isTextOp(b.Type):
		aS, aE := textRange(a)
		bS, bE := textRange(b)
		return rangesOverlap(aS, aE, bS, bE)
	case isListOp(a.Type) && isListOp(b.Type):
		aS, aE := listRange(a)
		bS, bE := listRange(b)
		return rangesOverlap(aS, aE, bS, bE)
	case isMapOp(a.Type) && isMapOp(b.Type):
		return mapKeysOverlap(a, b)
	}
	return false
}

func rangesOverlap(aS, aE, bS, bE int) bool {
	if aS == aE {
		return bS <= aS && aS <= bE
	}
	if bS == bE {
		return aS <= bS && bS <= aE
	}
	return aS < bE && bS < aE
}

func textRange(op Operation) (int, int) {
	p := op.pos()
	switch op.Type {
	case OpTextInsert:
		return p, p
	default:
		return p, p + op.delLen()
	}
}

func listRange(op Operation) (int, int) {
	i := op.idx()
	switch op.Type {
	case OpListInsert:
		return i, i
	case OpListDelete:
		return i, i + op.cnt()
	default: // replace, move
		return i, i + 1
	}
}

func mapKeysOverlap(a, b Operation) bool {
	aKeys := keysOf(a)
	bKeys := keysOf(b)
	for k := range aKeys {
		if bKeys[k] {
			return true
		}
	}
	return false
}

func keysOf(op Operation) map[string]bool {
	if op.Type == OpMapBatch {
		keys := make(map[string]bool, len(op.Operations))
		for _, sub := range op.Operations {
			if sub.Key != nil {
				keys[*sub.Key] = true
			}
		}
		return keys
	}
	if op.Key != nil {
		return map[string]bool{*op.Key: true}
	}
	return nil
}

// Validate performs the argument checks requires before an
// operation is constructed or applied.
func Validate(op Operation) error {
	switch op.Type {
	case OpTextInsert:
		if op.Position == nil || *op.Position < 0 {
			return fmt.Errorf("%w: text-insert requires non-negative position", ErrInvalidOperation)
		}
		if op.Text == nil || *op.Text == "" {
			return fmt.Errorf("%w: text-insert requires non-empty text", ErrInvalidOperation)
		}
	case OpTextDelete:
		if op.Position == nil || *op.Position < 0 {
			return fmt.Errorf("%w: text-delete requires non-negative position", ErrInvalidOperation)
		}
		if op.Length == nil || *op.Length <= 0 {
			return fmt.Errorf("%w: text-delete requires positive length", ErrInvalidOperation)
		}
	case OpTextRetain:
		if op.Position == nil || *op.Position < 0 {
			return fmt.Errorf("%w: text-retain requires non-negative position", ErrInvalidOperation)
		}
	case OpListInsert:
		if op.Index == nil || *op.Index < 0 {
			return fmt.Errorf("%w: list-insert requires non-negative index", ErrInvalidOperation)
		}
	case OpListDelete:
		if op.Index == nil || *op.Index < 0 {
			return fmt.Errorf("%w: list-delete requires non-negative index", ErrInvalidOperation)
		}
	case OpListReplace:
		if op.Index == nil || *op.Index < 0 {
			return fmt.Errorf("%w: list-replace requires non-negative index", ErrInvalidOperation)
		}
	case OpListMove:
		if op.Index == nil || op.TargetIndex == nil {
			return fmt.Errorf("%w: list-move requires index and targetIndex", ErrInvalidOperation)
		}
		if *op.Index == *op.TargetIndex {
			return fmt.Errorf("%w: list-move requires distinct source and target", ErrInvalidOperation)
		}
	case OpMapSet:
		if op.Key == nil || *op.Key == "" {
			return fmt.Errorf("%w: map-set requires a non-empty string key", ErrInvalidOperation)
		}
	case OpMapDelete:
		if op.Key == nil || *op.Key == "" {
			return fmt.Errorf("%w: map-delete requires a non-empty string key", ErrInvalidOperation)
		}
	case OpMapBatch:
		if len(op.Operations) == 0 {
			return fmt.Errorf("%w: map-batch requires at least one sub-operation", ErrInvalidOperation)
		}
		for _, sub := range op.Operations {
			if err := Validate(sub); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.Type)
	}
	return nil
}

// MarshalJSON preserves the wire layout regardless of which optional
// fields are set, and re-emits any Extra fields captured off an
// unrecognized wire payload alongside the known ones.
func (op Operation) MarshalJSON() ([]byte, error) {
	type alias Operation
	known, err := json.Marshal(alias(op))
	if err != nil {
		return nil, err
	}
	if len(op.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(op.Extra)+8)
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range op.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON populates Operation's known fields and captures every
// other field present in raw into Extra, so a payload carrying
// additive fields this version doesn't recognize survives a
// transform/apply round-trip instead of being silently dropped.
func (op *Operation) UnmarshalJSON(raw []byte) error {
	type alias Operation
	var a alias
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	for name := range knownOperationFields {
		delete(all, name)
	}

	*op = Operation(a)
	if len(all) > 0 {
		op.Extra = all
	}
	return nil
}
