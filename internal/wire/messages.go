// Package wire defines the JSON message envelope exchanged over the
// WebSocket transport at /ws: one struct covering the full message-type
// table, with one optional field per payload shape instead of a single
// catch-all Data interface{} field carrying every message type.
package wire

import (
	"github.com/lanemc/real-time-collaboration-sdk/internal/auth"
	"github.com/lanemc/real-time-collaboration-sdk/pkg/ot"
)

// Kind identifies the value shape a document holds (three
// Shared Data Type kinds), shared by the authority, session, and
// coordinator packages so a document's kind round-trips as one string
// everywhere it is named.
type Kind string

const (
	KindText Kind = "text"
	KindList Kind = "list"
	KindMap  Kind = "map"
)

// Type enumerates every wire message type, client- and server-bound.
type Type string

const (
	// Client → Server
	TypeAuthenticate   Type = "authenticate"
	TypeJoinDocument   Type = "join_document"
	TypeLeaveDocument  Type = "leave_document"
	TypeOperation      Type = "operation"
	TypePresenceUpdate Type = "presence_update"
	TypePing           Type = "ping"

	// Server → Client
	TypeAuthRequired    Type = "auth_required"
	TypeAuthSuccess     Type = "auth_success"
	TypeAuthFailed      Type = "auth_failed"
	TypeDocumentJoined  Type = "document_joined"
	TypeDocumentLeft    Type = "document_left"
	TypeDocumentState   Type = "document_state"
	TypeOperationApp    Type = "operation_applied"
	TypeOperationFailed Type = "operation_failed"
	TypePresenceState   Type = "presence_state"
	TypeUserJoined      Type = "user_joined"
	TypeUserLeft        Type = "user_left"
	TypeError           Type = "error"
	TypePong            Type = "pong"
)

// Error codes, "Error codes".
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	CodeInvalidOperation = "INVALID_OPERATION"
	CodeRateLimited      = "RATE_LIMITED"
	CodeServerError      = "SERVER_ERROR"
)

// Cursor is a client's text position plus optional selection range.
type Cursor struct {
	Position  int    `json:"position"`
	Selection *[2]int `json:"selection,omitempty"`
}

// Presence is the soft, ephemeral per-client awareness state broadcast
// within a document, "Presence".
type Presence struct {
	ClientID string  `json:"clientId"`
	UserID   string  `json:"userId,omitempty"`
	Name     string  `json:"name,omitempty"`
	Avatar   string  `json:"avatar,omitempty"`
	Cursor   *Cursor `json:"cursor,omitempty"`
	LastSeen int64   `json:"lastSeen"`
	IsOnline bool    `json:"isOnline"`
}

// ErrorPayload is the body of an `error` message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is the single envelope every wire message marshals to/from.
// Only the fields relevant to Type are populated; the rest round-trip
// as absent (omitempty) rather than null.
type Message struct {
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id,omitempty"`

	// authenticate / auth_success / auth_failed
	ClientID   string           `json:"clientId,omitempty"`
	Token      string           `json:"token,omitempty"`
	ClientInfo *auth.ClientInfo `json:"clientInfo,omitempty"`
	Reason     string           `json:"reason,omitempty"`

	// join_document / document_joined / document_left / document_state
	DocumentID string      `json:"documentId,omitempty"`
	Schema     string      `json:"schema,omitempty"`
	Version    int64       `json:"version,omitempty"`
	State      interface{} `json:"state,omitempty"`
	Users      []Presence  `json:"users,omitempty"`

	// operation / operation_applied / operation_failed
	Operation   *ot.Operation `json:"operation,omitempty"`
	OperationID string        `json:"operationId,omitempty"`

	// presence_update / presence_state
	Presence  *Presence  `json:"presence,omitempty"`
	Presences []Presence `json:"presences,omitempty"`

	// error
	Error *ErrorPayload `json:"error,omitempty"`
}
