// Package postgres implements persistence.Store on top of sqlx and
// lib/pq, following a query/scan/return-empty-slice repository
// convention and leaning on sqlx's Get/Select to cut the manual Scan
// boilerplate a bare database/sql repository would need.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"

	"github.com/lanemc/real-time-collaboration-sdk/internal/persistence"
)

// Store is a Postgres-backed persistence.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn and verifies schema presence is the caller's
// responsibility (see Migrate).
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the documents and document_operations tables if they
// do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	value      JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_operations (
	id              BIGSERIAL PRIMARY KEY,
	document_id     TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	applied_version BIGINT NOT NULL,
	operation       JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS document_operations_doc_version_idx
	ON document_operations (document_id, applied_version);
`

type documentRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Value     []byte    `db:"value"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SaveDocument upserts the document's snapshot.
func (s *Store) SaveDocument(ctx context.Context, state persistence.DocumentState) error {
	valueJSON, err := json.Marshal(state.Value)
	if err != nil {
		return fmt.Errorf("marshal document value: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, kind, value, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET value = EXCLUDED.value, version = EXCLUDED.version, updated_at = now()
	`, state.ID, state.Kind, valueJSON, state.Version)
	return err
}

// LoadDocument returns the stored snapshot, or nil if absent.
func (s *Store) LoadDocument(ctx context.Context, id string) (*persistence.DocumentState, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, kind, value, version, created_at, updated_at
		FROM documents WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return nil, fmt.Errorf("unmarshal document value: %w", err)
	}
	return &persistence.DocumentState{
		ID:        row.ID,
		Kind:      row.Kind,
		Value:     value,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// SaveOperation appends op to the document's operation log.
func (s *Store) SaveOperation(ctx context.Context, documentID string, op ot.Operation, appliedVersion int64) error {
	opJSON, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_operations (document_id, applied_version, operation)
		VALUES ($1, $2, $3)
	`, documentID, appliedVersion, opJSON)
	return err
}

// LoadOperations returns every operation applied after sinceVersion, in
// applied order.
func (s *Store) LoadOperations(ctx context.Context, documentID string, sinceVersion int64) ([]ot.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation FROM document_operations
		WHERE document_id = $1 AND applied_version > $2
		ORDER BY applied_version ASC
	`, documentID, sinceVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []ot.Operation{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var op ot.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("unmarshal operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteDocument removes a document's snapshot; its operation log is
// removed by the ON DELETE CASCADE foreign key.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	return err
}

// ListDocuments returns every known document ID.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM documents ORDER BY id ASC`)
	return ids, err
}
