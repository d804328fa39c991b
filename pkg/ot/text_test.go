package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textIns(pos int, text, client string, ts int64) Operation {
	return Operation{Type: OpTextInsert, Position: intPtr(pos), Text: &text, ClientID: client, Timestamp: ts}
}

func textDel(pos, length int, client string, ts int64) Operation {
	return Operation{Type: OpTextDelete, Position: intPtr(pos), Length: intPtr(length), ClientID: client, Timestamp: ts}
}

// TestTP1Convergence checks Transformation Property 1:
// apply(B); apply(T(A,B)) == apply(A); apply(T(B,A)).
func TestTP1Convergence(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		a, b Operation
	}{
		{"scenario1 concurrent inserts no overlap", "AC", textIns(1, "B", "c1", 100), textIns(2, "D", "c2", 100)},
		{"scenario2 concurrent insert same position", "", textIns(0, "X", "a", 100), textIns(0, "Y", "b", 100)},
		{"disjoint deletes", "abcdefgh", textDel(0, 2, "c1", 100), textDel(5, 2, "c2", 100)},
		{"overlapping deletes scenario4", "abcdef", textDel(1, 3, "c1", 100), textDel(2, 3, "c2", 100)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			aPrime, bPrime, err := Transform(tc.a, tc.b)
			require.NoError(t, err)
			bPrime2, aPrime2, err := Transform(tc.b, tc.a)
			require.NoError(t, err)

			left, err := ApplyText(tc.doc, tc.b)
			require.NoError(t, err)
			left, err = ApplyText(left, aPrime)
			require.NoError(t, err)

			right, err := ApplyText(tc.doc, tc.a)
			require.NoError(t, err)
			right, err = ApplyText(right, bPrime2)
			require.NoError(t, err)

			assert.Equal(t, left, right, "TP1 convergence failed for %s", tc.name)
			_ = bPrime
			_ = aPrime2
		})
	}
}

// TestScenario1ConcurrentInsertNoOverlap mirrors scenario 1.
func TestScenario1ConcurrentInsertNoOverlap(t *testing.T) {
	doc := "AC"
	c1 := textIns(1, "B", "c1", 100)
	doc, err := ApplyText(doc, c1)
	require.NoError(t, err)
	assert.Equal(t, "ABC", doc)

	c2 := textIns(2, "D", "c2", 100)
	c2Prime, _, err := Transform(c2, c1)
	require.NoError(t, err)
	doc, err = ApplyText(doc, c2Prime)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", doc)
}

// TestScenario2TieBreak mirrors scenario 2.
func TestScenario2TieBreak(t *testing.T) {
	doc := ""
	c1 := textIns(0, "X", "a", 100)
	c2 := textIns(0, "Y", "b", 100)

	doc, err := ApplyText(doc, c1)
	require.NoError(t, err)
	assert.Equal(t, "X", doc)

	c2Prime, _, err := Transform(c2, c1)
	require.NoError(t, err)
	doc, err = ApplyText(doc, c2Prime)
	require.NoError(t, err)
	assert.Equal(t, "XY", doc)
}

// TestScenario3InsertInsideConcurrentDelete mirrors scenario 3.
func TestScenario3InsertInsideConcurrentDelete(t *testing.T) {
	doc := "hello"
	c1 := textDel(1, 3, "c1", 100)
	doc, err := ApplyText(doc, c1)
	require.NoError(t, err)
	assert.Equal(t, "ho", doc)

	c2 := textIns(3, "X", "c2", 100)
	c2Prime, _, err := Transform(c2, c1)
	require.NoError(t, err)
	doc, err = ApplyText(doc, c2Prime)
	require.NoError(t, err)
	assert.Equal(t, "hXo", doc)
}

// TestScenario4OverlappingDeletes mirrors scenario 4.
func TestScenario4OverlappingDeletes(t *testing.T) {
	doc := "abcdef"
	c1 := textDel(1, 3, "c1", 100)
	doc, err := ApplyText(doc, c1)
	require.NoError(t, err)
	assert.Equal(t, "aef", doc)

	c2 := textDel(2, 3, "c2", 100)
	c2Prime, _, err := Transform(c2, c1)
	require.NoError(t, err)
	doc, err = ApplyText(doc, c2Prime)
	require.NoError(t, err)
	assert.Equal(t, "af", doc)
}

func TestComposeTextInserts(t *testing.T) {
	a := textIns(0, "ab", "c1", 100)
	b := textIns(2, "cd", "c1", 101)
	merged, ok := ComposeText(a, b)
	require.True(t, ok)
	assert.Equal(t, "abcd", *merged.Text)
}

func TestComposeTextDeletes(t *testing.T) {
	a := textDel(0, 2, "c1", 100)
	b := textDel(0, 3, "c1", 101)
	merged, ok := ComposeText(a, b)
	require.True(t, ok)
	assert.Equal(t, 5, *merged.Length)
}

func TestValidateText(t *testing.T) {
	assert.Error(t, Validate(textIns(-1, "x", "c1", 1)))
	empty := ""
	assert.Error(t, Validate(Operation{Type: OpTextInsert, Position: intPtr(0), Text: &empty}))
	assert.Error(t, Validate(textDel(0, 0, "c1", 1)))
}

func TestApplyTextOutOfRange(t *testing.T) {
	_, err := ApplyText("abc", textIns(10, "x", "c1", 1))
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = ApplyText("abc", textDel(2, 5, "c1", 1))
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestConflictsText(t *testing.T) {
	assert.True(t, Conflicts(textDel(1, 3, "a", 1), textDel(2, 2, "b", 1)))
	assert.False(t, Conflicts(textDel(0, 1, "a", 1), textDel(5, 1, "b", 1)))
	assert.True(t, Conflicts(textIns(2, "x", "a", 1), textDel(1, 3, "b", 1)))
}
