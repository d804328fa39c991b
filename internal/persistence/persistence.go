// Package persistence defines the storage contract a Document Authority
// calls on the hot path, and the concrete adapters satisfying it.
package persistence

import (
	"context"
	"time"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// DocumentState is the durable snapshot of a document: its kind,
// current value, and version.
type DocumentState struct {
	ID        string      `json:"id" db:"id"`
	Kind      string      `json:"kind" db:"kind"`
	Value     interface{} `json:"value" db:"-"`
	Version   int64       `json:"version" db:"version"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// Store is the persistence contract a host must satisfy. Every call is
// best-effort from the caller's perspective: errors are logged by the
// caller and never propagated to clients, since the in-memory Document
// Authority state remains authoritative.
type Store interface {
	SaveDocument(ctx context.Context, state DocumentState) error
	LoadDocument(ctx context.Context, id string) (*DocumentState, error)
	SaveOperation(ctx context.Context, documentID string, op ot.Operation, appliedVersion int64) error
	LoadOperations(ctx context.Context, documentID string, sinceVersion int64) ([]ot.Operation, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context) ([]string, error)
}
