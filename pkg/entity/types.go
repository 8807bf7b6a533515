package entity

import (
	"time"
)

// Definition is the desired configuration for one resource instance.
// It is supplied fresh by the host scheduler on every reconcile cycle and
// must be treated as read-only within a cycle. Connection references to
// other entities arrive already resolved to scalar values inside Properties.
type Definition struct {
	// Name is the natural key of the resource (unique per kind).
	Name string `json:"name" yaml:"name" validate:"required"`

	// Kind selects the entity implementation that manages this definition.
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	// Properties holds provider-specific desired configuration.
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Secrets maps a role (e.g. "admin-password") to a secret store name.
	// Entries may be caller-supplied credentials or names the entity
	// generates values for during create.
	Secrets map[string]string `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// Property returns a string-typed property value, or "" when absent.
func (d *Definition) Property(key string) string {
	if d.Properties == nil {
		return ""
	}
	if v, ok := d.Properties[key].(string); ok {
		return v
	}
	return ""
}

// State is the persisted observation document for one resource instance.
// It is the only data carried between reconcile cycles: everything needed
// to resume readiness polling or deletion after a process restart must be
// in here. State is owned exclusively by one entity instance and mutated
// only by its own lifecycle methods.
type State struct {
	// ID is the provider-assigned identifier of the resource.
	ID string `json:"id,omitempty"`

	// Existing is true when this entity adopted a pre-existing resource
	// instead of creating it. An adopted resource is never deleted on the
	// provider side; delete only forgets the local reference.
	Existing bool `json:"existing"`

	// OperationName marks a pending asynchronous provider operation.
	// While set, CheckReadiness polls the operation endpoint before
	// inspecting the resource itself.
	OperationName string `json:"operation_name,omitempty"`

	// Observed holds provider-reported fields consumed by other entities
	// (address, port, status and the like).
	Observed map[string]any `json:"observed,omitempty"`
}

// HasIdentifier reports whether the state references a provider resource.
func (s *State) HasIdentifier() bool {
	return s.ID != ""
}

// SetObserved records a provider-reported field.
func (s *State) SetObserved(key string, value any) {
	if s.Observed == nil {
		s.Observed = make(map[string]any)
	}
	s.Observed[key] = value
}

// ObservedString returns a string-typed observed field, or "" when absent.
func (s *State) ObservedString(key string) string {
	if s.Observed == nil {
		return ""
	}
	if v, ok := s.Observed[key].(string); ok {
		return v
	}
	return ""
}

// Clear resets the state after a successful delete.
func (s *State) Clear() {
	s.ID = ""
	s.Existing = false
	s.OperationName = ""
	s.Observed = nil
}

// ReadinessPolicy declares the polling schedule an entity expects the host
// scheduler to apply to CheckReadiness. The entity itself never tracks
// attempt counts; exhaustion is the scheduler's call.
type ReadinessPolicy struct {
	// Period is the interval between readiness checks.
	Period time.Duration `json:"period"`

	// InitialDelay is the wait before the first check.
	InitialDelay time.Duration `json:"initial_delay"`

	// Attempts is the maximum number of checks before the cycle is
	// reported failed.
	Attempts int `json:"attempts"`
}

// DefaultReadiness is the policy entities fall back to when they do not
// declare one of their own.
var DefaultReadiness = ReadinessPolicy{
	Period:       30 * time.Second,
	InitialDelay: 10 * time.Second,
	Attempts:     40,
}
