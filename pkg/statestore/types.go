package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no state record exists for a kind/name pair.
// A missing record is normal for a first invocation, so callers start from
// an empty state rather than failing.
var ErrNotFound = errors.New("state record not found")

// StateRecord is one persisted entity state. Document is the JSON-encoded
// entity.State, stored opaquely and handed back verbatim on the next
// invocation for the same kind/name pair.
type StateRecord struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Document  string    `json:"document"` // JSON blob
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InvocationRecord is one audit trail entry for a lifecycle invocation.
type InvocationRecord struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Operation    string    `json:"operation"`
	Outcome      string    `json:"outcome"` // success, error, not_ready
	Error        *string   `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer. Implementations
// also satisfy secrets.Store so entities and the host share one database.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// State operations
	UpsertState(ctx context.Context, record *StateRecord) error
	GetState(ctx context.Context, kind, name string) (*StateRecord, error)
	ListStates(ctx context.Context, limit, offset int) ([]*StateRecord, error)
	DeleteState(ctx context.Context, kind, name string) error

	// Secret operations (secrets.Store)
	Get(ctx context.Context, name string) (string, error)
	Set(ctx context.Context, name string, value string) error
	Remove(ctx context.Context, name string) error

	// Invocation audit operations
	AppendInvocation(ctx context.Context, record *InvocationRecord) error
	ListInvocations(ctx context.Context, kind *string, name *string, limit, offset int) ([]*InvocationRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
