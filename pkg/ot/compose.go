package ot

// Compose merges two consecutive same-author operations into one when
// eligible, dispatching to the per-kind composer. Returns (merged,
// true) when a.Type and b.Type allow merging, else (Operation{},
// false).
func Compose(a, b Operation) (Operation, bool) {
	switch {
	case isTextOp(a.Type) && isTextOp(b.Type):
		return ComposeText(a, b)
	case isListOp(a.Type) && isListOp(b.Type):
		return ComposeList(a, b)
	case isMapOp(a.Type) && isMapOp(b.Type):
		return ComposeMap(a, b)
	}
	return Operation{}, false
}

// ComposeAll folds a sequence of same-author operations by repeatedly
// merging adjacent mergeable pairs, left to right.
func ComposeAll(ops []Operation) []Operation {
	if len(ops) == 0 {
		return ops
	}
	out := make([]Operation, 0, len(ops))
	cur := ops[0]
	for _, next := range ops[1:] {
		if merged, ok := Compose(cur, next); ok {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}
