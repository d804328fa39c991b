package shared

import (
	"testing"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedTextInsertAndDelete(t *testing.T) {
	text := NewSharedText("c1")
	_, err := text.Insert(0, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", text.Value())
	assert.Equal(t, int64(1), text.Version())

	_, err = text.Delete(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "ello", text.Value())
	assert.Equal(t, int64(2), text.Version())
}

func TestSharedTextInvalidOperation(t *testing.T) {
	text := NewSharedText("c1")
	_, err := text.Insert(-1, "x", nil)
	assert.Error(t, err)

	_, err = text.Insert(0, "", nil)
	assert.Error(t, err)
}

func TestSharedTextSnapshotRoundTrip(t *testing.T) {
	text := NewSharedText("c1")
	_, _ = text.Insert(0, "hello world", nil)
	snap := text.ToSnapshot()

	other := NewSharedText("c2")
	other.FromSnapshot(snap)
	assert.Equal(t, text.Value(), other.Value())
	assert.Equal(t, text.Version(), other.Version())
}

func TestSharedTextGenerateOperations(t *testing.T) {
	text := NewSharedText("c1")
	_, _ = text.Insert(0, "hello", nil)

	ops := text.GenerateOperations("help")
	// "hel" common prefix, delete "lo" insert "p"
	require.Len(t, ops, 2)
	assert.Equal(t, "text-delete", string(ops[0].Type))
	assert.Equal(t, "text-insert", string(ops[1].Type))
	// insert's baseVersion must account for the delete's effect.
	assert.Equal(t, ops[0].BaseVersion+1, ops[1].BaseVersion)
}

func TestSharedListInsertDeleteMove(t *testing.T) {
	list := NewSharedList("c1")
	_, err := list.Insert(0, "a")
	require.NoError(t, err)
	_, err = list.Insert(1, "b")
	require.NoError(t, err)
	_, err = list.Insert(2, "c")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, list.Value())

	_, err = list.Move(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b", "c", "a"}, list.Value())

	_, err = list.Delete(0, 1)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"c", "a"}, list.Value())
}

func TestSharedListEvents(t *testing.T) {
	list := NewSharedList("c1")
	var gotInsert bool
	list.On(EventInsert, func(e Event) { gotInsert = true })
	_, err := list.Insert(0, "x")
	require.NoError(t, err)
	assert.True(t, gotInsert)
}

func TestSharedMapSetDeleteBatch(t *testing.T) {
	m := NewSharedMap("c1")
	_, err := m.Set("x", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Value()["x"])

	_, err = m.Delete("x")
	require.NoError(t, err)
	_, exists := m.Value()["x"]
	assert.False(t, exists)

	keyA, keyB := "a", "b"
	_, err = m.Batch([]ot.Operation{
		{Type: ot.OpMapSet, Key: &keyA, Value: 1},
		{Type: ot.OpMapSet, Key: &keyB, Value: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Value()["a"])
	assert.Equal(t, 2, m.Value()["b"])
}

func TestSharedMapVersionMonotonic(t *testing.T) {
	m := NewSharedMap("c1")
	_, _ = m.Set("a", 1)
	v1 := m.Version()
	_, _ = m.Set("b", 2)
	v2 := m.Version()
	assert.Greater(t, v2, v1)
}
