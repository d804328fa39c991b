package ot

import "fmt"

// transformList implements the list transform matrix. The shape
// mirrors transformText's delete/delete range arithmetic,
// generalized from character offsets to item counts, plus the
// list-move rules that have no text analogue.
func transformList(a, b Operation) (Operation, Operation, error) {
	switch a.Type {
	case OpListInsert:
		switch b.Type {
		case OpListInsert:
			return transformListInsertInsert(a, b)
		case OpListDelete:
			ap, bp := transformListInsertDelete(a, b)
			return ap, bp, nil
		case OpListReplace:
			return transformListInsertVsIndexed(a, b)
		case OpListMove:
			return transformListInsertMove(a, b)
		}
	case OpListDelete:
		switch b.Type {
		case OpListInsert:
			bp, ap := transformListInsertDelete(b, a)
			return ap, bp, nil
		case OpListDelete:
			return transformListDeleteDelete(a, b)
		case OpListReplace:
			ap, bp := transformListDeleteVsIndexed(a, b)
			return ap, bp, nil
		case OpListMove:
			return transformListDeleteMove(a, b)
		}
	case OpListReplace:
		switch b.Type {
		case OpListInsert:
			bp, ap, err := transformListInsertVsIndexed(b, a)
			return ap, bp, err
		case OpListDelete:
			bp, ap := transformListDeleteVsIndexed(b, a)
			return ap, bp, nil
		case OpListReplace:
			return transformListReplaceReplace(a, b)
		case OpListMove:
			return transformListMoveVsIndexed(b, a, true)
		}
	case OpListMove:
		switch b.Type {
		case OpListInsert:
			bp, ap, err := transformListInsertMove(b, a)
			return ap, bp, err
		case OpListDelete:
			bp, ap, err := transformListDeleteMove(b, a)
			return ap, bp, err
		case OpListReplace:
			return transformListMoveVsIndexed(a, b, false)
		case OpListMove:
			return transformListMoveMove(a, b)
		}
	}
	return a, b, fmt.Errorf("%w: unreachable list transform %s/%s", ErrInvalidOperation, a.Type, b.Type)
}

func transformListInsertInsert(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	ai, bi := a.idx(), b.idx()
	switch {
	case ai < bi:
		bPrime.Index = intPtr(bi + 1)
	case ai > bi:
		aPrime.Index = intPtr(ai + 1)
	default:
		if greaterTuple(a, b) {
			aPrime.Index = intPtr(ai + 1)
		} else {
			bPrime.Index = intPtr(bi + 1)
		}
	}
	return aPrime, bPrime, nil
}

func transformListInsertDelete(ins, del Operation) (Operation, Operation) {
	insPrime, delPrime := ins.clone(), del.clone()
	ii := ins.idx()
	di, dc := del.idx(), del.cnt()
	switch {
	case ii <= di:
		delPrime.Index = intPtr(di + 1)
	case ii >= di+dc:
		insPrime.Index = intPtr(ii - dc)
	default:
		insPrime.Index = intPtr(di)
		delPrime.Count = intPtr(dc + 1)
	}
	return insPrime, delPrime
}

func transformListDeleteDelete(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	aS, aC := a.idx(), a.cnt()
	bS, bC := b.idx(), b.cnt()
	aE, bE := aS+aC, bS+bC

	switch {
	case aE <= bS:
		bPrime.Index = intPtr(bS - aC)
	case bE <= aS:
		aPrime.Index = intPtr(aS - bC)
	default:
		overlapStart := max(aS, bS)
		overlapEnd := min(aE, bE)
		overlap := overlapEnd - overlapStart

		newIdx := min(aS, bS)
		aPrime.Index = intPtr(newIdx)
		aPrime.Count = intPtr(maxInt(aC-overlap, 0))
		bPrime.Index = intPtr(newIdx)
		bPrime.Count = intPtr(maxInt(bC-overlap, 0))

		if aC-overlap <= 0 {
			aPrime = aPrime.AsNoop()
		}
		if bC-overlap <= 0 {
			bPrime = bPrime.AsNoop()
		}
	}
	return aPrime, bPrime, nil
}

// transformListInsertVsIndexed transforms an insert against a
// single-index operation (replace) at a distinct index.
func transformListInsertVsIndexed(ins, other Operation) (Operation, Operation, error) {
	insPrime, otherPrime := ins.clone(), other.clone()
	ii, oi := ins.idx(), other.idx()
	if ii <= oi {
		otherPrime.Index = intPtr(oi + 1)
	} else {
		insPrime.Index = intPtr(ii) // unaffected, already correct
	}
	return insPrime, otherPrime, nil
}

func transformListDeleteVsIndexed(del, other Operation) (Operation, Operation) {
	delPrime, otherPrime := del.clone(), other.clone()
	di, dc := del.idx(), del.cnt()
	oi := other.idx()
	switch {
	case oi < di:
		// unaffected
	case oi >= di+dc:
		otherPrime.Index = intPtr(oi - dc)
	default:
		// the replaced item was concurrently deleted: the replace
		// becomes a no-op, the delete is unaffected.
		otherPrime = otherPrime.AsNoop()
	}
	return delPrime, otherPrime
}

func transformListReplaceReplace(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	if a.idx() != b.idx() {
		return aPrime, bPrime, nil
	}
	if greaterTuple(a, b) {
		bPrime = bPrime.AsNoop()
	} else {
		aPrime = aPrime.AsNoop()
	}
	return aPrime, bPrime, nil
}

// transformListInsertMove transforms an insert against a concurrent
// move.
func transformListInsertMove(ins, mv Operation) (Operation, Operation, error) {
	insPrime, mvPrime := ins.clone(), mv.clone()
	ii := ins.idx()
	s, t := mv.idx(), *mv.TargetIndex

	// Shift the move's endpoints to account for the insert, mirroring
	// transformListInsertDelete's shape since an insert just shifts
	// indices at or after its own index.
	shift := func(i int) int {
		if ii <= i {
			return i + 1
		}
		return i
	}
	newS, newT := shift(s), shift(t)
	mvPrime.Index = intPtr(newS)
	mvPrime.TargetIndex = intPtr(newT)

	// The insert's own index shifts if it lands inside the moved gap
	// opened up by the move; for a concurrent (unordered) pair we only
	// need insPrime.Index unaffected by a move of other items, so it is
	// left as-is: the move relocates existing items, it does not change
	// how many items precede ii inside this operation's effective base.
	return insPrime, mvPrime, nil
}

func transformListDeleteMove(del, mv Operation) (Operation, Operation, error) {
	delPrime, mvPrime := del.clone(), mv.clone()
	di, dc := del.idx(), del.cnt()
	s, t := mv.idx(), *mv.TargetIndex

	if s >= di && s < di+dc {
		// source of the move was concurrently deleted: move is a no-op.
		mvPrime = mvPrime.AsNoop()
		return delPrime, mvPrime, nil
	}

	shift := func(i int) int {
		if i >= di+dc {
			return i - dc
		}
		if i >= di {
			return di
		}
		return i
	}
	mvPrime.Index = intPtr(shift(s))
	mvPrime.TargetIndex = intPtr(shift(t))
	return delPrime, mvPrime, nil
}

// transformListMoveVsIndexed transforms a move against a replace at a
// single index. moveIsA indicates which slot of the returned pair the
// move occupies.
func transformListMoveVsIndexed(mv, other Operation, moveIsA bool) (Operation, Operation, error) {
	mvPrime, otherPrime := mv.clone(), other.clone()
	s := mv.idx()
	oi := other.idx()
	if oi == s {
		// item being replaced was concurrently relocated: replace still
		// applies, but at the move's target index.
		otherPrime.Index = intPtr(*mv.TargetIndex)
	}
	if moveIsA {
		return mvPrime, otherPrime, nil
	}
	return otherPrime, mvPrime, nil
}

// transformListMoveMove implements atomic-relocation
// rule: a concurrent operation on index i transforms according to
// whether the move is forward (s<t) or backward (s>t); if the source
// item was concurrently deleted the move becomes a no-op. For two
// concurrent moves, each move is treated as "a concurrent operation on
// index s" against the other.
func transformListMoveMove(a, b Operation) (Operation, Operation, error) {
	aPrime, bPrime := a.clone(), b.clone()
	as, at := a.idx(), *a.TargetIndex
	bs, bt := b.idx(), *b.TargetIndex

	if as == bs {
		// Same item targeted by both: loser's move is a no-op.
		if greaterTuple(a, b) {
			bPrime = bPrime.AsNoop()
		} else {
			aPrime = aPrime.AsNoop()
		}
		return aPrime, bPrime, nil
	}

	newBS, newBT := applyMoveShift(as, at, bs), applyMoveShift(as, at, bt)
	bPrime.Index = intPtr(newBS)
	bPrime.TargetIndex = intPtr(newBT)

	newAS, newAT := applyMoveShift(bs, bt, as), applyMoveShift(bs, bt, at)
	aPrime.Index = intPtr(newAS)
	aPrime.TargetIndex = intPtr(newAT)

	return aPrime, bPrime, nil
}

// applyMoveShift computes how index i shifts once a move from s to t
// has been applied.
func applyMoveShift(s, t, i int) int {
	if i == s {
		return t
	}
	if s < t {
		if i > s && i <= t {
			return i - 1
		}
		return i
	}
	// s > t (backward move)
	if i >= t && i < s {
		return i + 1
	}
	return i
}

// ComposeList merges two consecutive same-author list operations when
// eligible: two deletes at the same index. List inserts carry a single
// item each and are never merged.
func ComposeList(a, b Operation) (Operation, bool) {
	if a.ClientID != b.ClientID {
		return Operation{}, false
	}
	if a.Type == OpListDelete && b.Type == OpListDelete && a.idx() == b.idx() {
		merged := a.clone()
		count := a.cnt() + b.cnt()
		merged.Count = &count
		return merged, true
	}
	return Operation{}, false
}

// ApplyList applies a list operation to items, returning the new slice.
func ApplyList(items []interface{}, op Operation) ([]interface{}, error) {
	switch op.Type {
	case OpListInsert:
		i := op.idx()
		if i < 0 || i > len(items) {
			return items, fmt.Errorf("%w: list-insert index %d out of range [0,%d]", ErrInvalidOperation, i, len(items))
		}
		out := make([]interface{}, 0, len(items)+1)
		out = append(out, items[:i]...)
		out = append(out, op.Item)
		out = append(out, items[i:]...)
		return out, nil
	case OpListDelete:
		if op.IsNoop() {
			return items, nil
		}
		i, c := op.idx(), op.cnt()
		if i < 0 || c < 0 || i+c > len(items) {
			return items, fmt.Errorf("%w: list-delete range [%d,%d) out of range [0,%d]", ErrInvalidOperation, i, i+c, len(items))
		}
		out := make([]interface{}, 0, len(items)-c)
		out = append(out, items[:i]...)
		out = append(out, items[i+c:]...)
		return out, nil
	case OpListReplace:
		if op.IsNoop() {
			return items, nil
		}
		i := op.idx()
		if i < 0 || i >= len(items) {
			return items, fmt.Errorf("%w: list-replace index %d out of range [0,%d)", ErrInvalidOperation, i, len(items))
		}
		out := make([]interface{}, len(items))
		copy(out, items)
		out[i] = op.Item
		return out, nil
	case OpListMove:
		if op.IsNoop() {
			return items, nil
		}
		s, t := op.idx(), *op.TargetIndex
		if s < 0 || s >= len(items) || t < 0 || t >= len(items) {
			return items, fmt.Errorf("%w: list-move out of range source=%d target=%d len=%d", ErrInvalidOperation, s, t, len(items))
		}
		out := make([]interface{}, len(items))
		copy(out, items)
		item := out[s]
		out = append(out[:s], out[s+1:]...)
		rebuilt := make([]interface{}, 0, len(items))
		rebuilt = append(rebuilt, out[:t]...)
		rebuilt = append(rebuilt, item)
		rebuilt = append(rebuilt, out[t:]...)
		return rebuilt, nil
	default:
		return items, fmt.Errorf("%w: not a list operation: %s", ErrInvalidOperation, op.Type)
	}
}
