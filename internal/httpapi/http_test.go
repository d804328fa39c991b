package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanemc/real-time-collaboration-sdk/internal/auth"
	"github.com/lanemc/real-time-collaboration-sdk/internal/coordinator"
	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence/memory"
)

func TestHealthReportsOK(t *testing.T) {
	coord := coordinator.New(coordinator.Config{Auth: auth.NewStaticGate(), Store: memory.New()})
	defer coord.Shutdown(context.Background())

	srv := httptest.NewServer(Handler(coord))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestListDocumentsIsEmptyBeforeAnyJoin(t *testing.T) {
	coord := coordinator.New(coordinator.Config{Auth: auth.NewStaticGate(), Store: memory.New()})
	defer coord.Shutdown(context.Background())

	srv := httptest.NewServer(Handler(coord))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/documents")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body["documents"])
}

func TestGetDocumentNotFound(t *testing.T) {
	coord := coordinator.New(coordinator.Config{Auth: auth.NewStaticGate(), Store: memory.New()})
	defer coord.Shutdown(context.Background())

	srv := httptest.NewServer(Handler(coord))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/documents/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
