// Package httpapi implements the read-only HTTP surface beside the
// WebSocket endpoint: health, document introspection, and Prometheus
// metrics, backed by the coordinator's document authority registry.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lanemc/real-time-collaboration-sdk/internal/coordinator"
)

// documentRegistry is the subset of *coordinator.Coordinator this
// package depends on, kept narrow so handlers are easy to test.
type documentRegistry interface {
	ListDocumentIDs() []string
	Authority(id string) (authoritySummary, bool)
	ConnectedClientCount() int
	ActiveDocumentCount() int
}

// authoritySummary is the read-only view of a document authority the
// /documents endpoints expose.
type authoritySummary interface {
	ID() string
	Version() int64
	ClientCount() int64
	CreatedAt() time.Time
}

// coordinatorAdapter narrows *coordinator.Coordinator to documentRegistry
// without forcing the coordinator package to know about this one.
type coordinatorAdapter struct {
	c *coordinator.Coordinator
}

func (a coordinatorAdapter) ListDocumentIDs() []string { return a.c.ListDocumentIDs() }
func (a coordinatorAdapter) ConnectedClientCount() int { return a.c.ConnectedClientCount() }
func (a coordinatorAdapter) ActiveDocumentCount() int  { return a.c.ActiveDocumentCount() }
func (a coordinatorAdapter) Authority(id string) (authoritySummary, bool) {
	return a.c.Authority(id)
}

type documentSummary struct {
	ID          string    `json:"id"`
	Version     int64     `json:"version"`
	ClientCount int64     `json:"clientCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Handler returns the http.Handler serving /health, /documents,
// /documents/{id}, and /metrics for coord.
func Handler(coord *coordinator.Coordinator) http.Handler {
	reg := coordinatorAdapter{c: coord}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/documents", handleListDocuments(reg))
	mux.HandleFunc("/documents/", handleGetDocument(reg))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleListDocuments(reg documentRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := reg.ListDocumentIDs()
		summaries := make([]documentSummary, 0, len(ids))
		for _, id := range ids {
			a, ok := reg.Authority(id)
			if !ok {
				continue
			}
			summaries = append(summaries, toSummary(a))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"documents":         summaries,
			"connectedClients":  reg.ConnectedClientCount(),
			"activeDocumentCnt": reg.ActiveDocumentCount(),
		})
	}
}

func handleGetDocument(reg documentRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/documents/"):]
		if id == "" {
			http.NotFound(w, r)
			return
		}
		a, ok := reg.Authority(id)
		if !ok {
			http.Error(w, "document not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toSummary(a))
	}
}

func toSummary(a authoritySummary) documentSummary {
	return documentSummary{
		ID:          a.ID(),
		Version:     a.Version(),
		ClientCount: a.ClientCount(),
		CreatedAt:   a.CreatedAt(),
	}
}
