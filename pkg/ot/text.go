package ot

import "fmt"

// transformText implements the text transform matrix: insert/insert,
// insert/delete, and delete/delete, each adjusting positions so applying
// a then b' yields the same result as b then a'. Tie-breaking uses
// (timestamp, clientID) rather than clientID alone, and
// overlapping-delete residuals are computed precisely rather than
// assumed non-negative.
func transformText(a, b Operation) (Operation, Operation, error) {
	switch a.Type {
	case OpTextInsert:
		switch b.Type {
		case OpTextInsert:
			return transformInsertInsert(a, b)
		case OpTextDelete:
			ap, bp := transformInsertDelete(a, b)
			return ap, bp, nil
		case OpTextRetain:
			return a, mergeRetainAttrs(b, a), nil
		}
	case OpTextDelete:
		switch b.Type {
		case OpTextInsert:
			bp, ap := transformInsertDelete(b, a)
			return ap, bp, nil
		case OpTextDelete:
			return transformDeleteDelete(a, b)
		case OpTextRetain:
			return a, mergeRetainAttrs(b, a), nil
		}
	case OpTextRetain:
		switch b.Type {
		case OpTextRetain:
			return mergeRetainAttrs(a, b), mergeRetainAttrs(b, a), nil
		default:
			ap, bp, err := transformText(b, a)
			return bp, ap, err
		}
	}
	return a, b, fmt.Errorf("%w: unreachable text transform %s/%s", ErrInvalidOperation, a.Type, b.Type)
}

// mergeRetainAttrs merges attribute maps last-writer-wins on key, per
// ("attributes... merged by last-writer-wins on key").
// other is treated as having been applied first.
func mergeRetainAttrs(op, other Operation) Operation {
	if op.Type != OpTextRetain || other.Attributes == nil {
		return op
	}
	out := op.clone()
	if out.Attributes == nil {
		out.Attributes = make(map[string]interface{}, len(other.Attributes))
	}
	for k, v := range other.Attributes {
		if _, already := out.Attributes[k]; !already {
			out.Attributes[k] = v
		}
	}
	return out
}

func transformInsertInsert(a, b Operation) (Operation, Operation, error) {
	aPrime := a.clone()
	bPrime := b.clone()

	ap, bp := a.pos(), b.pos()
	switch {
	case ap < bp:
		bPrime.Position = intPtr(bp + a.textLen())
	case ap > bp:
		aPrime.Position = intPtr(ap + b.textLen())
	default:
		// Shift iff A's (ts,cid) > B's — the operation with the
		// greater tuple shifts forward.
		if greaterTuple(a, b) {
			aPrime.Position = intPtr(ap + b.textLen())
		} else {
			bPrime.Position = intPtr(bp + a.textLen())
		}
	}
	return aPrime, bPrime, nil
}

// transformInsertDelete transforms an insert against a concurrent
// delete. Returns (insert', delete').
func transformInsertDelete(ins, del Operation) (Operation, Operation) {
	insPrime := ins.clone()
	delPrime := del.clone()

	ip := ins.pos()
	dp, dl := del.pos(), del.delLen()

	switch {
	case ip <= dp:
		delPrime.Position = intPtr(dp + ins.textLen())
	case ip >= dp+dl:
		insPrime.Position = intPtr(ip - dl)
	default:
		insPrime.Position = intPtr(dp)
		delPrime.Length = intPtr(dl + ins.textLen())
	}
	return insPrime, delPrime
}

func transformDeleteDelete(a, b Operation) (Operation, Operation, error) {
	aPrime := a.clone()
	bPrime := b.clone()

	aS, aL := a.pos(), a.delLen()
	bS, bL := b.pos(), b.delLen()
	aE, bE := aS+aL, bS+bL

	switch {
	case aE <= bS:
		bPrime.Position = intPtr(bS - aL)
	case bE <= aS:
		aPrime.Position = intPtr(aS - bL)
	default:
		overlapStart := max(aS, bS)
		overlapEnd := min(aE, bE)
		overlap := overlapEnd - overlapStart

		aResidual := aL - overlap
		bResidual := bL - overlap

		newPos := min(aS, bS)
		aPrime.Position = intPtr(newPos)
		aPrime.Length = intPtr(maxInt(aResidual, 0))
		bPrime.Position = intPtr(newPos)
		bPrime.Length = intPtr(maxInt(bResidual, 0))

		if aResidual <= 0 {
			aPrime = aPrime.AsNoop()
		}
		if bResidual <= 0 {
			bPrime = bPrime.AsNoop()
		}
	}
	return aPrime, bPrime, nil
}

// ComposeText merges two consecutive same-author text operations when
// eligible: two inserts where b starts at a's end, or two deletes at
// the same position. Returns (merged, true) or (Operation{}, false)
// when they cannot merge.
func ComposeText(a, b Operation) (Operation, bool) {
	if a.ClientID != b.ClientID {
		return Operation{}, false
	}
	if a.Type == OpTextInsert && b.Type == OpTextInsert {
		if a.pos()+a.textLen() == b.pos() {
			merged := a.clone()
			text := *a.Text + *b.Text
			merged.Text = &text
			return merged, true
		}
	}
	if a.Type == OpTextDelete && b.Type == OpTextDelete && a.pos() == b.pos() {
		merged := a.clone()
		length := a.delLen() + b.delLen()
		merged.Length = &length
		return merged, true
	}
	return Operation{}, false
}

// ApplyText applies a text operation to s, returning the new string.
func ApplyText(s string, op Operation) (string, error) {
	r := []rune(s)
	switch op.Type {
	case OpTextInsert:
		p := op.pos()
		if p < 0 || p > len(r) {
			return s, fmt.Errorf("%w: insert position %d out of range [0,%d]", ErrInvalidOperation, p, len(r))
		}
		out := make([]rune, 0, len(r)+op.textLen())
		out = append(out, r[:p]...)
		out = append(out, []rune(*op.Text)...)
		out = append(out, r[p:]...)
		return string(out), nil
	case OpTextDelete:
		p, l := op.pos(), op.delLen()
		if op.IsNoop() || l == 0 {
			return s, nil
		}
		if p < 0 || l < 0 || p+l > len(r) {
			return s, fmt.Errorf("%w: delete range [%d,%d) out of range [0,%d]", ErrInvalidOperation, p, p+l, len(r))
		}
		out := make([]rune, 0, len(r)-l)
		out = append(out, r[:p]...)
		out = append(out, r[p+l:]...)
		return string(out), nil
	case OpTextRetain:
		return s, nil
	default:
		return s, fmt.Errorf("%w: not a text operation: %s", ErrInvalidOperation, op.Type)
	}
}

func intPtr(i int) *int { return &i }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int { return max(a, b) }
