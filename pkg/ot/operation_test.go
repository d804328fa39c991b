package ot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationUnmarshalCapturesUnknownFieldsIntoExtra(t *testing.T) {
	raw := []byte(`{
		"id": "op-1",
		"clientId": "c1",
		"baseVersion": 0,
		"type": "text-insert",
		"timestamp": 100,
		"position": 0,
		"text": "x",
		"priority": 3,
		"origin": "mobile-app"
	}`)

	var op Operation
	require.NoError(t, json.Unmarshal(raw, &op))

	assert.Equal(t, "op-1", op.ID)
	assert.Equal(t, 0, *op.Position)
	require.Len(t, op.Extra, 2)
	assert.JSONEq(t, `3`, string(op.Extra["priority"]))
	assert.JSONEq(t, `"mobile-app"`, string(op.Extra["origin"]))
}

func TestOperationMarshalReemitsExtraFields(t *testing.T) {
	pos := 0
	text := "x"
	op := Operation{
		ID: "op-1", ClientID: "c1", Type: OpTextInsert, Position: &pos, Text: &text,
		Extra: map[string]json.RawMessage{"origin": json.RawMessage(`"mobile-app"`)},
	}

	out, err := json.Marshal(op)
	require.NoError(t, err)

	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &roundTripped))
	assert.Equal(t, "mobile-app", roundTripped["origin"])
	assert.Equal(t, "op-1", roundTripped["id"])
}

func TestOperationExtraSurvivesTransform(t *testing.T) {
	a := textIns(1, "B", "c1", 100)
	a.Extra = map[string]json.RawMessage{"origin": json.RawMessage(`"mobile-app"`)}
	b := textIns(2, "D", "c2", 100)

	aPrime, _, err := Transform(a, b)
	require.NoError(t, err)
	require.NotNil(t, aPrime.Extra)
	assert.JSONEq(t, `"mobile-app"`, string(aPrime.Extra["origin"]))
}
