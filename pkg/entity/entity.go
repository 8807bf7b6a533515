package entity

import (
	"context"

	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// Doer executes provider API calls. Satisfied by *transport.Client; tests
// substitute a scripted fake.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// ActionFunc is a provider-specific custom operation invoked by the host
// scheduler outside the standard lifecycle (snapshot, verification status,
// credential rotation). Actions follow the same at-least-once contract as
// the lifecycle operations and must leave State internally consistent
// regardless of partial provider failure mid-action.
type ActionFunc func(ctx context.Context, def *Definition, st *State) error

// Entity is the unit of management: one Definition/State pair plus the
// lifecycle methods driven by the host scheduler. Every operation must be
// safe to invoke more than once for the same Definition/State pair; the
// scheduler guarantees calls for one entity instance are fully sequential.
type Entity interface {
	// Create looks the resource up by its natural key and adopts it when
	// found; otherwise it issues the provider create call. Either way the
	// state ends up holding enough identifying data for later operations.
	Create(ctx context.Context, def *Definition, st *State) error

	// Update applies the minimal set of changed fields to the provider.
	// With no identifier in state it delegates to Create. A change to a
	// field the provider cannot update in place is surfaced as an error,
	// never silently ignored.
	Update(ctx context.Context, def *Definition, st *State) error

	// Delete removes the provider resource and clears state. An adopted
	// resource is never deleted on the provider side; a not-found response
	// is success, since absence is the goal state.
	Delete(ctx context.Context, def *Definition, st *State) error

	// CheckReadiness reports whether the resource has reached its ready
	// condition. Called repeatedly by the host scheduler on the declared
	// ReadinessPolicy schedule; the entity does not track attempt counts.
	CheckReadiness(ctx context.Context, def *Definition, st *State) (bool, error)

	// Readiness declares the polling schedule for CheckReadiness.
	Readiness() ReadinessPolicy

	// Actions returns the registry of custom operations by name.
	Actions() map[string]ActionFunc
}
