package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/secrets"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// fakeDoer is a scripted provider API. Each route maps to a queue of
// responses consumed in order; the last response sticks.
type fakeDoer struct {
	responses map[string][]fakeResponse
	calls     []string
	bodies    map[string][]map[string]any
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		responses: make(map[string][]fakeResponse),
		bodies:    make(map[string][]map[string]any),
	}
}

func (f *fakeDoer) on(method, path string, status int, body string) {
	key := method + " " + path
	f.responses[key] = append(f.responses[key], fakeResponse{status: status, body: body})
}

func (f *fakeDoer) Do(_ context.Context, req transport.Request) (*transport.Response, error) {
	key := req.Method + " " + req.Path
	f.calls = append(f.calls, key)
	if req.Body != nil {
		if m, ok := req.Body.(map[string]any); ok {
			f.bodies[key] = append(f.bodies[key], m)
		}
	}

	queue := f.responses[key]
	if len(queue) == 0 {
		return nil, &transport.Error{
			Code:   transport.ErrorCodeResourceNotFound,
			Status: http.StatusNotFound,
			Reason: "Not Found",
			Body:   fmt.Sprintf(`{"message":"no script for %s"}`, key),
		}
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.responses[key] = queue[1:]
	}

	if resp.status >= 400 {
		return nil, &transport.Error{
			Code:   transport.ClassifyStatus(resp.status),
			Status: resp.status,
			Reason: http.StatusText(resp.status),
			Body:   resp.body,
		}
	}

	var obj map[string]any
	if resp.body != "" {
		if err := json.Unmarshal([]byte(resp.body), &obj); err != nil {
			return nil, err
		}
	}
	return &transport.Response{StatusCode: resp.status, Body: obj, Raw: []byte(resp.body)}, nil
}

// countCalls counts scripted calls matching a route
func (f *fakeDoer) countCalls(method, path string) int {
	key := method + " " + path
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

// databaseSpec is the test entity: an async database resource with a
// generated admin credential.
func databaseSpec() Spec {
	return Spec{
		Kind: "database",
		CollectionPath: func(*Definition) string {
			return "/v1/databases"
		},
		ResourcePath: func(_ *Definition, id string) string {
			return "/v1/databases/" + id
		},
		CreateBody: func(def *Definition, creds map[string]string) (map[string]any, error) {
			body := map[string]any{"name": def.Name}
			for k, v := range def.Properties {
				body[k] = v
			}
			if pw, ok := creds["admin-password"]; ok {
				body["admin_password"] = pw
			}
			return body, nil
		},
		ImmutableFields: []string{"region"},
		ExtractOperation: func(body map[string]any) string {
			op, _ := body["operation"].(string)
			return op
		},
		OperationPath: func(_ *Definition, operation string) string {
			return "/v1/operations/" + operation
		},
		OperationStatus: func(body map[string]any) (OperationStatus, string) {
			status, _ := body["status"].(string)
			detail, _ := body["message"].(string)
			switch status {
			case "succeeded":
				return OperationSucceeded, detail
			case "failed":
				return OperationFailed, detail
			default:
				return OperationPending, detail
			}
		},
		StatusField:          "status",
		ReadyValues:          []string{"active"},
		GeneratedSecretRoles: []string{"admin-password"},
		Observe: func(body map[string]any, st *State) {
			for _, field := range []string{"host", "region", "size"} {
				if v, ok := body[field]; ok {
					st.SetObserved(field, v)
				}
			}
		},
		Retry: transport.RetryConfig{
			Interval:    time.Millisecond,
			MaxAttempts: 3,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		},
	}
}

func newTestBase(t *testing.T, doer Doer, store secrets.Store) *Base {
	t.Helper()
	base, err := NewBase(databaseSpec(), doer, store, nil, nil)
	if err != nil {
		t.Fatalf("failed to create base entity: %v", err)
	}
	return base
}

func dbDefinition() *Definition {
	return &Definition{
		Name: "db1",
		Kind: "database",
		Properties: map[string]any{
			"region": "us-east-1",
			"size":   "small",
		},
		Secrets: map[string]string{
			"admin-password": "db1-admin-password",
		},
	}
}

// TestCreateIsIdempotent tests that a repeated create after a crash issues
// no second provider create
func TestCreateIsIdempotent(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)
	doer.on(http.MethodPost, "/v1/databases", 201, `{"id":"abc123","status":"provisioning"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"provisioning"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	def := dbDefinition()
	st := &State{}
	ctx := context.Background()

	if err := base.Create(ctx, def, st); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if st.ID != "abc123" {
		t.Fatalf("expected id abc123, got %q", st.ID)
	}
	if st.Existing {
		t.Error("freshly created resource must not be marked existing")
	}

	// Simulate the at-least-once re-invocation with the persisted state.
	if err := base.Create(ctx, def, st); err != nil {
		t.Fatalf("repeat create failed: %v", err)
	}
	if st.Existing {
		t.Error("repeat create of our own resource must not flip existing")
	}
	if n := doer.countCalls(http.MethodPost, "/v1/databases"); n != 1 {
		t.Errorf("expected exactly 1 provider create, got %d", n)
	}
}

// TestCreateAdoptsPreExisting tests adoption by natural key
func TestCreateAdoptsPreExisting(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 200, `{"id":"legacy-42","status":"active"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{}

	if err := base.Create(context.Background(), dbDefinition(), st); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !st.Existing {
		t.Error("expected adopted resource to be marked existing")
	}
	if st.ID != "legacy-42" {
		t.Errorf("expected adopted id legacy-42, got %q", st.ID)
	}
	if n := doer.countCalls(http.MethodPost, "/v1/databases"); n != 0 {
		t.Errorf("adoption must not create, got %d creates", n)
	}
}

// TestDeleteAdoptedOnlyForgets tests that adoption blocks provider deletion
func TestDeleteAdoptedOnlyForgets(t *testing.T) {
	doer := newFakeDoer()
	store := secrets.NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "db1-admin-password", "hunter2")

	base := newTestBase(t, doer, store)
	st := &State{ID: "legacy-42", Existing: true}

	if err := base.Delete(ctx, dbDefinition(), st); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n := doer.countCalls(http.MethodDelete, "/v1/databases/legacy-42"); n != 0 {
		t.Errorf("adopted resource must never be deleted on the provider, got %d deletes", n)
	}
	if st.HasIdentifier() || st.Existing {
		t.Error("expected state cleared after forgetting adopted resource")
	}
	if _, err := store.Get(ctx, "db1-admin-password"); err == nil {
		t.Error("expected owned secret removed")
	}
}

// TestDeleteAbsentResourceSucceeds tests that 404 on delete is success
func TestDeleteAbsentResourceSucceeds(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodDelete, "/v1/databases/abc123", 404, `{}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{ID: "abc123"}

	if err := base.Delete(context.Background(), dbDefinition(), st); err != nil {
		t.Fatalf("expected delete of absent resource to succeed, got %v", err)
	}
	if st.HasIdentifier() {
		t.Error("expected state cleared")
	}
}

// TestDeleteFatalKeepsSecrets tests that a failed provider delete does not
// clean up owned secrets or state
func TestDeleteFatalKeepsSecrets(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodDelete, "/v1/databases/abc123", 500, `{"message":"backend down"}`)

	store := secrets.NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "db1-admin-password", "hunter2")

	base := newTestBase(t, doer, store)
	st := &State{ID: "abc123"}

	err := base.Delete(ctx, dbDefinition(), st)
	if err == nil {
		t.Fatal("expected delete to fail")
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent classification, got %v", err)
	}
	if !st.HasIdentifier() {
		t.Error("state must be kept when the provider resource still exists")
	}
	if _, serr := store.Get(ctx, "db1-admin-password"); serr != nil {
		t.Error("owned secret must survive a failed delete")
	}
}

// TestDeleteWithoutIdentifier tests delete before any successful create
func TestDeleteWithoutIdentifier(t *testing.T) {
	doer := newFakeDoer()
	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{}

	if err := base.Delete(context.Background(), dbDefinition(), st); err != nil {
		t.Fatalf("expected no-op delete to succeed, got %v", err)
	}
	if len(doer.calls) != 0 {
		t.Errorf("expected no provider calls, got %v", doer.calls)
	}
}

// TestCreateConflictRetryBound tests the bounded fixed-interval retry
func TestCreateConflictRetryBound(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)
	// Conflict on every attempt; the single scripted response sticks.
	doer.on(http.MethodPost, "/v1/databases", 409, `{"message":"operation in progress"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{}

	err := base.Create(context.Background(), dbDefinition(), st)
	if err == nil {
		t.Fatal("expected create to fail after retry budget")
	}
	if !IsConflict(err) {
		t.Errorf("expected conflict classification, got %v", err)
	}
	if n := doer.countCalls(http.MethodPost, "/v1/databases"); n != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", n)
	}
}

// TestUpdateWithoutIdentifierDelegatesToCreate tests the update-to-create
// delegation
func TestUpdateWithoutIdentifierDelegatesToCreate(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)
	doer.on(http.MethodPost, "/v1/databases", 201, `{"id":"abc123","status":"provisioning"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{}

	if err := base.Update(context.Background(), dbDefinition(), st); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if st.ID != "abc123" {
		t.Errorf("expected delegation to create, state id %q", st.ID)
	}
}

// TestUpdateImmutableFieldFails tests that an immutable field change is a
// surfaced defect, not a silent skip
func TestUpdateImmutableFieldFails(t *testing.T) {
	doer := newFakeDoer()
	base := newTestBase(t, doer, secrets.NewMemoryStore())

	def := dbDefinition()
	def.Properties["region"] = "eu-west-1"
	st := &State{ID: "abc123"}
	st.SetObserved("region", "us-east-1")

	err := base.Update(context.Background(), def, st)
	if err == nil {
		t.Fatal("expected immutable field change to fail")
	}
	var lerr *Error
	if !asEntityError(err, &lerr) || lerr.Code != ErrCodeImmutableField {
		t.Errorf("expected %s error, got %v", ErrCodeImmutableField, err)
	}
	if len(doer.calls) != 0 {
		t.Errorf("expected no provider calls, got %v", doer.calls)
	}
}

// TestUpdateSendsOnlyChangedFields tests the minimal update payload
func TestUpdateSendsOnlyChangedFields(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodPut, "/v1/databases/abc123", 200, `{"id":"abc123","size":"large","status":"active"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","size":"large","status":"active"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	def := dbDefinition()
	def.Properties["size"] = "large"
	st := &State{ID: "abc123"}
	st.SetObserved("region", "us-east-1")
	st.SetObserved("size", "small")

	if err := base.Update(context.Background(), def, st); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	bodies := doer.bodies[http.MethodPut+" /v1/databases/abc123"]
	if len(bodies) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(bodies))
	}
	if bodies[0]["size"] != "large" {
		t.Errorf("expected size in payload, got %v", bodies[0])
	}
	if _, ok := bodies[0]["region"]; ok {
		t.Error("unchanged region must not be sent")
	}
	if st.ObservedString("size") != "large" {
		t.Errorf("expected observed size refreshed, got %q", st.ObservedString("size"))
	}
}

// TestUpdateNoChangesRefreshesOnly tests that a no-op update issues no
// mutating call
func TestUpdateNoChangesRefreshesOnly(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","region":"us-east-1","size":"small","status":"active"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	def := dbDefinition()
	st := &State{ID: "abc123"}
	st.SetObserved("region", "us-east-1")
	st.SetObserved("size", "small")

	if err := base.Update(context.Background(), def, st); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if n := doer.countCalls(http.MethodPut, "/v1/databases/abc123"); n != 0 {
		t.Errorf("expected no mutating call, got %d", n)
	}
}

// TestCheckReadinessPendingOperation tests operation polling before the
// resource status
func TestCheckReadinessPendingOperation(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/operations/create-op", 200, `{"status":"running"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{ID: "abc123", OperationName: "create-op"}

	ready, err := base.CheckReadiness(context.Background(), dbDefinition(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready {
		t.Error("expected not ready while operation pending")
	}
	if st.OperationName != "create-op" {
		t.Error("pending operation marker must persist")
	}
	if n := doer.countCalls(http.MethodGet, "/v1/databases/abc123"); n != 0 {
		t.Error("resource must not be inspected while operation pending")
	}
}

// TestCheckReadinessOperationSucceeded tests marker clearing and fallthrough
// to the status field
func TestCheckReadinessOperationSucceeded(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/operations/create-op", 200, `{"status":"succeeded"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"active","host":"db1.example.com"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{ID: "abc123", OperationName: "create-op"}

	ready, err := base.CheckReadiness(context.Background(), dbDefinition(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ready {
		t.Error("expected ready")
	}
	if st.OperationName != "" {
		t.Error("expected operation marker cleared")
	}
	if st.ObservedString("host") != "db1.example.com" {
		t.Errorf("expected observed host recorded, got %q", st.ObservedString("host"))
	}
}

// TestCheckReadinessOperationFailed tests that a failed provider operation
// is fatal and keeps the provider detail
func TestCheckReadinessOperationFailed(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/operations/create-op", 200, `{"status":"failed","message":"quota exceeded"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{ID: "abc123", OperationName: "create-op"}

	_, err := base.CheckReadiness(context.Background(), dbDefinition(), st)
	if err == nil {
		t.Fatal("expected failed operation to be fatal")
	}
	var lerr *Error
	if !asEntityError(err, &lerr) {
		t.Fatalf("expected lifecycle error, got %T", err)
	}
	if lerr.Code != ErrCodeOperationFailed {
		t.Errorf("expected %s, got %s", ErrCodeOperationFailed, lerr.Code)
	}
	if lerr.Body == "" {
		t.Error("expected raw operation body retained for diagnostics")
	}
}

// TestCheckReadinessStatusField tests the plain status field path
func TestCheckReadinessStatusField(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"provisioning"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"active"}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	st := &State{ID: "abc123"}
	ctx := context.Background()
	def := dbDefinition()

	ready, err := base.CheckReadiness(ctx, def, st)
	if err != nil || ready {
		t.Fatalf("expected not ready, got ready=%v err=%v", ready, err)
	}
	ready, err = base.CheckReadiness(ctx, def, st)
	if err != nil || !ready {
		t.Fatalf("expected ready, got ready=%v err=%v", ready, err)
	}
}

// TestCheckReadinessWithoutIdentifier tests the defect guard
func TestCheckReadinessWithoutIdentifier(t *testing.T) {
	base := newTestBase(t, newFakeDoer(), secrets.NewMemoryStore())

	_, err := base.CheckReadiness(context.Background(), dbDefinition(), &State{})
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

// TestCreateGeneratesOwnedSecret tests the get-or-generate secret flow
func TestCreateGeneratesOwnedSecret(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)
	doer.on(http.MethodPost, "/v1/databases", 201, `{"id":"abc123","status":"provisioning"}`)

	store := secrets.NewMemoryStore()
	base := newTestBase(t, doer, store)
	st := &State{}
	ctx := context.Background()

	if err := base.Create(ctx, dbDefinition(), st); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := store.Get(ctx, "db1-admin-password")
	if err != nil {
		t.Fatalf("expected generated secret in store: %v", err)
	}
	if len(stored) != secrets.DefaultGeneratedLength {
		t.Errorf("expected %d character secret, got %d", secrets.DefaultGeneratedLength, len(stored))
	}

	bodies := doer.bodies[http.MethodPost+" /v1/databases"]
	if len(bodies) != 1 {
		t.Fatalf("expected 1 create body, got %d", len(bodies))
	}
	if bodies[0]["admin_password"] != stored {
		t.Error("create payload must carry the stored secret value")
	}
}

// TestCreateMissingCallerSecretFails tests that a caller-supplied secret
// absent from the store is fatal
func TestCreateMissingCallerSecretFails(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)

	base := newTestBase(t, doer, secrets.NewMemoryStore())
	def := dbDefinition()
	def.Secrets["tls-cert"] = "db1-tls-cert" // not a generated role

	err := base.Create(context.Background(), def, &State{})
	if !IsPermanent(err) {
		t.Errorf("expected permanent error for missing caller secret, got %v", err)
	}
	if n := doer.countCalls(http.MethodPost, "/v1/databases"); n != 0 {
		t.Error("create must not reach the provider without its secrets")
	}
}

// TestFullLifecycleScenario drives db1 end to end: create, converge
// readiness, update, delete.
func TestFullLifecycleScenario(t *testing.T) {
	doer := newFakeDoer()
	doer.on(http.MethodGet, "/v1/databases/db1", 404, `{}`)
	doer.on(http.MethodPost, "/v1/databases", 201, `{"id":"abc123","status":"provisioning","operation":"create-op"}`)
	doer.on(http.MethodGet, "/v1/operations/create-op", 200, `{"status":"running"}`)
	doer.on(http.MethodGet, "/v1/operations/create-op", 200, `{"status":"succeeded"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"active","region":"us-east-1","size":"small"}`)
	doer.on(http.MethodPut, "/v1/databases/abc123", 200, `{"id":"abc123","status":"active","size":"large"}`)
	doer.on(http.MethodGet, "/v1/databases/abc123", 200, `{"id":"abc123","status":"active","region":"us-east-1","size":"large"}`)
	doer.on(http.MethodDelete, "/v1/databases/abc123", 204, ``)

	store := secrets.NewMemoryStore()
	base := newTestBase(t, doer, store)
	def := dbDefinition()
	st := &State{}
	ctx := context.Background()

	// Create: provider assigns abc123 and a pending operation.
	if err := base.Create(ctx, def, st); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if st.ID != "abc123" || st.OperationName != "create-op" {
		t.Fatalf("unexpected state after create: %+v", st)
	}

	// First readiness check: operation still running.
	ready, err := base.CheckReadiness(ctx, def, st)
	if err != nil || ready {
		t.Fatalf("expected pending, got ready=%v err=%v", ready, err)
	}

	// Second check: operation done, status active.
	ready, err = base.CheckReadiness(ctx, def, st)
	if err != nil {
		t.Fatalf("readiness failed: %v", err)
	}
	if !ready {
		t.Fatal("expected resource ready")
	}

	// Converge a size change.
	def.Properties["size"] = "large"
	if err := base.Update(ctx, def, st); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if st.ObservedString("size") != "large" {
		t.Errorf("expected size converged, got %q", st.ObservedString("size"))
	}

	// Delete: provider removal plus owned secret cleanup.
	if err := base.Delete(ctx, def, st); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if st.HasIdentifier() {
		t.Error("expected state cleared after delete")
	}
	if _, err := store.Get(ctx, "db1-admin-password"); err == nil {
		t.Error("expected owned secret removed after delete")
	}
}

// asEntityError extracts an *Error from an error chain
func asEntityError(err error, target **Error) bool {
	return errors.As(err, target)
}
