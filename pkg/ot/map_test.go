package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapSet(key string, value interface{}, client string, ts int64) Operation {
	return Operation{Type: OpMapSet, Key: &key, Value: value, ClientID: client, Timestamp: ts}
}

func mapDel(key string, client string, ts int64) Operation {
	return Operation{Type: OpMapDelete, Key: &key, ClientID: client, Timestamp: ts}
}

// TestScenario5SetVsDelete mirrors scenario 5: a delete transformed
// against an already-applied set of the same key carries the set's
// value as its previousValue and still removes the key.
func TestScenario5SetVsDelete(t *testing.T) {
	m := map[string]interface{}{"x": 1.0}

	c1 := mapSet("x", 2.0, "c1", 100)
	m, err := ApplyMap(m, c1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m["x"])

	c2 := mapDel("x", "c2", 101)
	_, c2Prime, err := Transform(c1, c2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c2Prime.PreviousValue)

	m, err = ApplyMap(m, c2Prime)
	require.NoError(t, err)
	_, exists := m["x"]
	assert.False(t, exists)
}

func TestMapIndependentKeysNeverTransform(t *testing.T) {
	a := mapSet("a", 1, "c1", 100)
	b := mapSet("b", 2, "c2", 100)
	aPrime, bPrime, err := Transform(a, b)
	require.NoError(t, err)
	assert.Equal(t, a, aPrime)
	assert.Equal(t, b, bPrime)
}

func TestMapSetSetConflictLoserNoop(t *testing.T) {
	a := mapSet("x", "A", "c1", 100)
	b := mapSet("x", "B", "c2", 200)
	aPrime, bPrime, err := Transform(a, b)
	require.NoError(t, err)
	assert.True(t, aPrime.IsNoop())
	assert.False(t, bPrime.IsNoop())
}

func TestMapBatchTransformsAgainstEachSubOp(t *testing.T) {
	batch := Operation{
		Type: OpMapBatch,
		Operations: []Operation{
			mapSet("x", 1, "c1", 100),
			mapSet("y", 2, "c1", 100),
		},
		ClientID:  "c1",
		Timestamp: 100,
	}
	other := mapSet("x", 99, "c2", 200)

	batchPrime, otherPrime, err := Transform(batch, other)
	require.NoError(t, err)
	assert.True(t, batchPrime.Operations[0].IsNoop(), "x sub-op should lose to later timestamp")
	assert.False(t, batchPrime.Operations[1].IsNoop())
	assert.False(t, otherPrime.IsNoop())
}

func TestApplyMapBatch(t *testing.T) {
	m := map[string]interface{}{}
	batch := Operation{
		Type: OpMapBatch,
		Operations: []Operation{
			mapSet("a", 1, "c1", 1),
			mapSet("b", 2, "c1", 1),
		},
	}
	m, err := ApplyMap(m, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, m["a"])
	assert.Equal(t, 2, m["b"])
}

func TestValidateMapSetRequiresKey(t *testing.T) {
	err := Validate(Operation{Type: OpMapSet})
	assert.ErrorIs(t, err, ErrInvalidOperation)
}
