package entity

import (
	"context"
	"errors"
	"testing"
)

// stubEntity records which lifecycle method was invoked
type stubEntity struct {
	invoked string
	ready   bool
	actions map[string]ActionFunc
}

func (s *stubEntity) Create(context.Context, *Definition, *State) error {
	s.invoked = "create"
	return nil
}

func (s *stubEntity) Update(context.Context, *Definition, *State) error {
	s.invoked = "update"
	return nil
}

func (s *stubEntity) Delete(context.Context, *Definition, *State) error {
	s.invoked = "delete"
	return nil
}

func (s *stubEntity) CheckReadiness(context.Context, *Definition, *State) (bool, error) {
	s.invoked = "check-readiness"
	return s.ready, nil
}

func (s *stubEntity) Readiness() ReadinessPolicy {
	return DefaultReadiness
}

func (s *stubEntity) Actions() map[string]ActionFunc {
	if s.actions == nil {
		return map[string]ActionFunc{}
	}
	return s.actions
}

func newTestDispatcher(t *testing.T, kind string, e Entity) *Dispatcher {
	t.Helper()
	d := NewDispatcher(nil, nil, nil)
	if err := d.Register(kind, e); err != nil {
		t.Fatalf("failed to register entity: %v", err)
	}
	return d
}

// TestDispatchStandardOperations tests routing of the lifecycle names
func TestDispatchStandardOperations(t *testing.T) {
	for _, op := range []string{OpCreate, OpUpdate, OpDelete} {
		stub := &stubEntity{}
		d := newTestDispatcher(t, "database", stub)

		def := &Definition{Name: "db1", Kind: "database"}
		if err := d.Invoke(context.Background(), op, def, &State{}); err != nil {
			t.Fatalf("%s failed: %v", op, err)
		}
		if stub.invoked != op {
			t.Errorf("expected %s invoked, got %s", op, stub.invoked)
		}
	}
}

// TestDispatchReadinessMapsPendingToError tests that a pending readiness
// check surfaces as a not-ready classified error
func TestDispatchReadinessMapsPendingToError(t *testing.T) {
	stub := &stubEntity{ready: false}
	d := newTestDispatcher(t, "database", stub)
	def := &Definition{Name: "db1", Kind: "database"}

	err := d.Invoke(context.Background(), OpCheckReadiness, def, &State{})
	if !IsNotReady(err) {
		t.Errorf("expected not-ready error, got %v", err)
	}

	stub.ready = true
	if err := d.Invoke(context.Background(), OpCheckReadiness, def, &State{}); err != nil {
		t.Errorf("expected success when ready, got %v", err)
	}
}

// TestDispatchCustomAction tests routing to the action registry
func TestDispatchCustomAction(t *testing.T) {
	called := false
	stub := &stubEntity{actions: map[string]ActionFunc{
		"create-snapshot": func(context.Context, *Definition, *State) error {
			called = true
			return nil
		},
	}}
	d := newTestDispatcher(t, "database", stub)
	def := &Definition{Name: "db1", Kind: "database"}

	if err := d.Invoke(context.Background(), "create-snapshot", def, &State{}); err != nil {
		t.Fatalf("action failed: %v", err)
	}
	if !called {
		t.Error("expected action to run")
	}
}

// TestDispatchUnknownAction tests the unknown-action error code
func TestDispatchUnknownAction(t *testing.T) {
	d := newTestDispatcher(t, "database", &stubEntity{})
	def := &Definition{Name: "db1", Kind: "database"}

	err := d.Invoke(context.Background(), "rotate-credentials", def, &State{})
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Code != ErrCodeUnknownAction {
		t.Errorf("expected %s, got %v", ErrCodeUnknownAction, err)
	}
}

// TestDispatchUnknownKind tests the unknown-kind error code
func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	def := &Definition{Name: "db1", Kind: "database"}

	err := d.Invoke(context.Background(), OpCreate, def, &State{})
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Code != ErrCodeUnknownKind {
		t.Errorf("expected %s, got %v", ErrCodeUnknownKind, err)
	}
}

// TestRegisterDuplicateKind tests double registration rejection
func TestRegisterDuplicateKind(t *testing.T) {
	d := newTestDispatcher(t, "database", &stubEntity{})
	if err := d.Register("database", &stubEntity{}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

// TestKindsSorted tests the sorted kind listing
func TestKindsSorted(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	for _, kind := range []string{"dns-record", "database", "bucket"} {
		if err := d.Register(kind, &stubEntity{}); err != nil {
			t.Fatalf("register %s: %v", kind, err)
		}
	}

	kinds := d.Kinds()
	want := []string{"bucket", "database", "dns-record"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d kinds, got %d", len(want), len(kinds))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}
