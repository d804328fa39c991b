package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

func TestSaveAndLoadDocumentRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, persistence.DocumentState{ID: "doc-1", Kind: "text", Value: "AC", Version: 1}))

	state, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "AC", state.Value)
	assert.Equal(t, int64(1), state.Version)
	assert.False(t, state.CreatedAt.IsZero())
}

func TestLoadDocumentReturnsNilWhenAbsent(t *testing.T) {
	s := New()
	state, err := s.LoadDocument(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestLoadOperationsFiltersBySinceVersion(t *testing.T) {
	s := New()
	ctx := context.Background()

	pos := 0
	text := "a"
	op := ot.Operation{ID: "op-1", ClientID: "c1", Type: ot.OpTextInsert, Position: &pos, Text: &text}

	require.NoError(t, s.SaveOperation(ctx, "doc-1", op, 1))
	require.NoError(t, s.SaveOperation(ctx, "doc-1", op, 2))
	require.NoError(t, s.SaveOperation(ctx, "doc-1", op, 3))

	ops, err := s.LoadOperations(ctx, "doc-1", 1)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestDeleteDocumentRemovesSnapshotAndOperations(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, persistence.DocumentState{ID: "doc-1", Kind: "text", Value: "", Version: 0}))
	require.NoError(t, s.DeleteDocument(ctx, "doc-1"))

	state, err := s.LoadDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestListDocumentsIsSorted(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, persistence.DocumentState{ID: "doc-b", Kind: "text"}))
	require.NoError(t, s.SaveDocument(ctx, persistence.DocumentState{ID: "doc-a", Kind: "text"}))

	ids, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-a", "doc-b"}, ids)
}
