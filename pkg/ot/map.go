package ot

import "fmt"

// transformMap implements the map transform rules: keys are
// independent (distinct-key operations never transform each
// other); for the same key, set/set and delete/delete resolve by
// (timestamp, clientID) with the loser becoming a no-op; set/delete
// resolves by the set winning and rewriting previousValue; a
// map-batch transforms as a sequence against the opposing operation
// (or, when the opponent is itself a batch, against each of its
// sub-operations in order).
func transformMap(a, b Operation) (Operation, Operation, error) {
	if a.Type == OpMapBatch || b.Type == OpMapBatch {
		return transformMapBatch(a, b)
	}
	if !mapKeysOverlap(a, b) {
		return a, b, nil
	}
	switch {
	case a.Type == OpMapSet && b.Type == OpMapSet:
		return transformSetSet(a, b)
	case a.Type == OpMapDelete && b.Type == OpMapDelete:
		return transformDeleteDeleteMap(a, b)
	case a.Type == OpMapSet && b.Type == OpMapDelete:
		aPrime, bPrime := transformSetDelete(a, b)
		return aPrime, bPrime, nil
	case a.Type == OpMapDelete && b.Type == OpMapSet:
		bPrime, aPrime := transformSetDelete(b, a)
		return aPrime, bPrime, nil
	}
	return a, b, fmt.Errorf("%w: unreachable map transform %s/%s", ErrInvalidOperation, a.Type, b.Type)
}

func transformSetSet(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	if greaterTuple(a, b) {
		bPrime = bPrime.AsNoop()
	} else {
		aPrime = aPrime.AsNoop()
	}
	return aPrime, bPrime, nil
}

func transformDeleteDeleteMap(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	if greaterTuple(a, b) {
		bPrime = bPrime.AsNoop()
	} else {
		aPrime = aPrime.AsNoop()
	}
	return aPrime, bPrime, nil
}

// transformSetDelete transforms a set against a concurrent delete of
// the same key: the set wins (resurrects the key) and its
// previousValue is rewritten to nil/undefined; the delete is rewritten
// to carry the set's value as its previousValue, since from the
// delete's perspective it is now deleting what the set just wrote
// (transforms still applied in canonical order by the authority).
func transformSetDelete(set, del Operation) (Operation, Operation) {
	setPrime := set.clone()
	delPrime := del.clone()
	setPrime.PreviousValue = nil
	delPrime.PreviousValue = set.Value
	return setPrime, delPrime
}

// transformMapBatch transforms a batch against its opponent by
// transforming each sub-operation in turn; opposing a batch means
// transforming against each sub-op of that batch in order.
func transformMapBatch(a, b Operation) (Operation, Operation, error) {
	if a.Type == OpMapBatch && b.Type == OpMapBatch {
		aSubs := append([]Operation{}, a.Operations...)
		bSubs := append([]Operation{}, b.Operations...)
		for i := range aSubs {
			for j := range bSubs {
				na, nb, err := transformMapOrPassthrough(aSubs[i], bSubs[j])
				if err != nil {
					return a, b, err
				}
				aSubs[i], bSubs[j] = na, nb
			}
		}
		aPrime := a.clone()
		aPrime.Operations = aSubs
		bPrime := b.clone()
		bPrime.Operations = bSubs
		return aPrime, bPrime, nil
	}
	if a.Type == OpMapBatch {
		subs := append([]Operation{}, a.Operations...)
		bPrime := b.clone()
		for i := range subs {
			ns, nb, err := transformMapOrPassthrough(subs[i], bPrime)
			if err != nil {
				return a, b, err
			}
			subs[i] = ns
			bPrime = nb
		}
		aPrime := a.clone()
		aPrime.Operations = subs
		return aPrime, bPrime, nil
	}
	// b is the batch
	bPrime, aPrime, err := transformMapBatch(b, a)
	return aPrime, bPrime, err
}

func transformMapOrPassthrough(a, b Operation) (Operation, Operation, error) {
	if !mapKeysOverlap(a, b) {
		return a, b, nil
	}
	switch {
	case a.Type == OpMapSet && b.Type == OpMapSet:
		return transformSetSet(a, b)
	case a.Type == OpMapDelete && b.Type == OpMapDelete:
		return transformDeleteDeleteMap(a, b)
	case a.Type == OpMapSet && b.Type == OpMapDelete:
		aPrime, bPrime := transformSetDelete(a, b)
		return aPrime, bPrime, nil
	case a.Type == OpMapDelete && b.Type == OpMapSet:
		bPrime, aPrime := transformSetDelete(b, a)
		return aPrime, bPrime, nil
	}
	return a, b, nil
}

// ComposeMap merges two consecutive same-author map operations on the
// same key into the later one (last-write absorbs the earlier write).
func ComposeMap(a, b Operation) (Operation, bool) {
	if a.ClientID != b.ClientID {
		return Operation{}, false
	}
	if a.Key == nil || b.Key == nil || *a.Key != *b.Key {
		return Operation{}, false
	}
	if (a.Type == OpMapSet || a.Type == OpMapDelete) && (b.Type == OpMapSet || b.Type == OpMapDelete) {
		merged := b.clone()
		merged.PreviousValue = a.PreviousValue
		return merged, true
	}
	return Operation{}, false
}

// ApplyMap applies a map operation to m, returning the (possibly same,
// mutated) map. Callers own m and must pass a value they're prepared
// to have mutated and returned.
func ApplyMap(m map[string]interface{}, op Operation) (map[string]interface{}, error) {
	if m == nil {
		m = make(map[string]interface{})
	}
	if op.IsNoop() && op.Type != OpMapBatch {
		return m, nil
	}
	switch op.Type {
	case OpMapSet:
		if op.Key == nil {
			return m, fmt.Errorf("%w: map-set missing key", ErrInvalidOperation)
		}
		m[*op.Key] = op.Value
		return m, nil
	case OpMapDelete:
		if op.Key == nil {
			return m, fmt.Errorf("%w: map-delete missing key", ErrInvalidOperation)
		}
		delete(m, *op.Key)
		return m, nil
	case OpMapBatch:
		for _, sub := range op.Operations {
			if sub.IsNoop() {
				continue
			}
			var err error
			m, err = ApplyMap(m, sub)
			if err != nil {
				return m, err
			}
		}
		return m, nil
	default:
		return m, fmt.Errorf("%w: not a map operation: %s", ErrInvalidOperation, op.Type)
	}
}
