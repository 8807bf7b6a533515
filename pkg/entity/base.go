package entity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwarden/cloudwarden/pkg/secrets"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// OperationStatus is the state of an asynchronous provider operation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationSucceeded OperationStatus = "succeeded"
	OperationFailed    OperationStatus = "failed"
)

// Spec configures a Base entity for one provider resource kind. The hooks
// capture the provider-specific request/response translation; everything
// else — adoption, idempotency, conflict retry, secret lifecycle, readiness
// — is shared Base behavior.
type Spec struct {
	// Kind names the resource kind this spec manages.
	Kind string

	// CollectionPath returns the path resources are created under.
	CollectionPath func(def *Definition) string

	// ResourcePath returns the path of one resource instance.
	ResourcePath func(def *Definition, id string) string

	// LookupID derives the natural key used for the adoption lookup.
	// Defaults to the definition name.
	LookupID func(def *Definition) string

	// CreateBody builds the create payload. creds holds resolved secret
	// values keyed by role. Defaults to the definition properties.
	CreateBody func(def *Definition, creds map[string]string) (map[string]any, error)

	// UpdateBody computes the minimal set of changed fields to send.
	// Defaults to a property-by-property diff against observed state.
	// An empty result means nothing to send.
	UpdateBody func(def *Definition, st *State) (map[string]any, error)

	// UpdateMethod is the HTTP method for updates. Defaults to PUT.
	UpdateMethod string

	// ImmutableFields lists properties the provider cannot update in
	// place. A changed immutable field fails the update.
	ImmutableFields []string

	// ExtractID pulls the provider identifier out of a response body.
	// Defaults to the "id" field.
	ExtractID func(body map[string]any) string

	// ExtractOperation pulls a pending asynchronous operation marker out
	// of a create/update response, or "" for synchronous resources.
	ExtractOperation func(body map[string]any) string

	// OperationPath returns the status endpoint of a pending operation.
	OperationPath func(def *Definition, operation string) string

	// OperationStatus interprets an operation status body. The second
	// return value is a detail message for failure diagnostics.
	OperationStatus func(body map[string]any) (OperationStatus, string)

	// StatusField is the resource field holding provisioning status.
	// Empty means the resource is ready as soon as it exists.
	StatusField string

	// ReadyValues are the StatusField values that count as ready.
	ReadyValues []string

	// Observe records provider-reported fields other entities consume.
	Observe func(body map[string]any, st *State)

	// GeneratedSecretRoles lists the definition secret roles whose values
	// this entity generates during create and owns through delete.
	// Roles not listed here are caller-supplied credentials.
	GeneratedSecretRoles []string

	// Readiness is the polling schedule declared to the host scheduler.
	Readiness ReadinessPolicy

	// Retry bounds the conflict retry loop on mutating calls.
	Retry transport.RetryConfig
}

// Base is the generic REST-backed Entity implementation. Concrete entities
// compose a Base with a Spec and optionally register custom actions.
type Base struct {
	spec    Spec
	client  Doer
	secrets secrets.Store
	log     *telemetry.Logger
	metrics *telemetry.Metrics
	actions map[string]ActionFunc
}

// NewBase creates a Base entity from a spec. CollectionPath and
// ResourcePath are mandatory; the remaining hooks have defaults.
func NewBase(spec Spec, client Doer, store secrets.Store, log *telemetry.Logger, metrics *telemetry.Metrics) (*Base, error) {
	if spec.Kind == "" {
		return nil, fmt.Errorf("entity kind is required")
	}
	if spec.CollectionPath == nil || spec.ResourcePath == nil {
		return nil, fmt.Errorf("entity %s: collection and resource paths are required", spec.Kind)
	}
	if client == nil {
		return nil, fmt.Errorf("entity %s: transport client is required", spec.Kind)
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Base{
		spec:    spec,
		client:  client,
		secrets: store,
		log:     log.NewComponentLogger("entity"),
		metrics: metrics,
		actions: make(map[string]ActionFunc),
	}, nil
}

// RegisterAction adds a custom operation to the entity's action registry.
// Registration happens at construction time; the registry is read-only
// afterwards.
func (b *Base) RegisterAction(name string, fn ActionFunc) {
	b.actions[name] = fn
}

// Actions returns the action registry.
func (b *Base) Actions() map[string]ActionFunc {
	return b.actions
}

// Readiness returns the declared polling policy.
func (b *Base) Readiness() ReadinessPolicy {
	if b.spec.Readiness == (ReadinessPolicy{}) {
		return DefaultReadiness
	}
	return b.spec.Readiness
}

// Kind returns the resource kind this entity manages.
func (b *Base) Kind() string {
	return b.spec.Kind
}

// Create implements the Entity contract: adopt when the resource already
// exists under its natural key, create otherwise.
func (b *Base) Create(ctx context.Context, def *Definition, st *State) error {
	log := b.log.WithEntity(b.spec.Kind, def.Name).WithOperation("create")

	lookupID := st.ID
	if lookupID == "" {
		lookupID = b.lookupID(def)
	}

	resp, err := b.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   b.spec.ResourcePath(def, lookupID),
	})
	switch {
	case err == nil:
		// Found under the natural key. Adoption only applies when this
		// state never created the resource; a repeat create for our own
		// resource is a refresh, not an adoption.
		adopted := !st.HasIdentifier()
		b.populate(resp.Body, st)
		if adopted {
			st.Existing = true
			if b.metrics != nil {
				b.metrics.RecordAdoption(b.spec.Kind)
			}
			log.Infof("adopted pre-existing resource %s", st.ID)
		}
		return nil
	case transport.IsNotFound(err):
		// Expected on first create.
	default:
		return classifyProviderError(err, "lookup before create failed").WithContext(def.Name, "create")
	}

	creds, err := b.resolveSecrets(ctx, def)
	if err != nil {
		return err
	}

	body, err := b.createBody(def, creds)
	if err != nil {
		return NewPermanentError("failed to build create payload", err).WithContext(def.Name, "create")
	}

	resp, err = b.doMutate(ctx, "create", transport.Request{
		Method: http.MethodPost,
		Path:   b.spec.CollectionPath(def),
		Body:   body,
	})
	if err != nil {
		return classifyProviderError(err, "provider create failed").WithContext(def.Name, "create")
	}

	b.populate(resp.Body, st)
	st.Existing = false
	if b.spec.ExtractOperation != nil {
		st.OperationName = b.spec.ExtractOperation(resp.Body)
	}
	log.Infof("created resource %s", st.ID)
	return nil
}

// Update applies changed fields to the provider. Without an identifier the
// definition has never been created successfully, so Update delegates to
// Create.
func (b *Base) Update(ctx context.Context, def *Definition, st *State) error {
	if !st.HasIdentifier() {
		return b.Create(ctx, def, st)
	}
	log := b.log.WithEntity(b.spec.Kind, def.Name).WithOperation("update")

	for _, field := range b.spec.ImmutableFields {
		desired, ok := def.Properties[field]
		if !ok {
			continue
		}
		observed, seen := st.Observed[field]
		if seen && fmt.Sprintf("%v", desired) != fmt.Sprintf("%v", observed) {
			return (&Error{
				Class:   ErrorClassPermanent,
				Code:    ErrCodeImmutableField,
				Message: fmt.Sprintf("provider does not support in-place update of %q (observed %v, desired %v)", field, observed, desired),
			}).WithContext(def.Name, "update")
		}
	}

	body, err := b.updateBody(def, st)
	if err != nil {
		return NewPermanentError("failed to build update payload", err).WithContext(def.Name, "update")
	}
	if len(body) == 0 {
		log.Debug("no changed fields, refreshing observed state")
		return b.refresh(ctx, def, st)
	}

	method := b.spec.UpdateMethod
	if method == "" {
		method = http.MethodPut
	}

	resp, err := b.doMutate(ctx, "update", transport.Request{
		Method: method,
		Path:   b.spec.ResourcePath(def, st.ID),
		Body:   body,
	})
	if err != nil {
		return classifyProviderError(err, "provider update failed").WithContext(def.Name, "update")
	}

	// Re-read so observed state reflects what the provider settled on, not
	// what the update call happened to echo back.
	if err := b.refresh(ctx, def, st); err != nil {
		log.WithError(err).Warn("post-update read failed, keeping update response")
		b.populate(resp.Body, st)
	}
	log.Infof("updated resource %s", st.ID)
	return nil
}

// Delete removes the provider resource, cleans up owned secrets, and clears
// state. Adopted resources are only forgotten locally.
func (b *Base) Delete(ctx context.Context, def *Definition, st *State) error {
	log := b.log.WithEntity(b.spec.Kind, def.Name).WithOperation("delete")

	if st.Existing {
		log.Infof("resource %s was adopted, forgetting local reference only", st.ID)
		b.removeOwnedSecrets(ctx, def, log)
		st.Clear()
		return nil
	}

	if !st.HasIdentifier() {
		b.removeOwnedSecrets(ctx, def, log)
		st.Clear()
		return nil
	}

	_, err := b.doMutate(ctx, "delete", transport.Request{
		Method: http.MethodDelete,
		Path:   b.spec.ResourcePath(def, st.ID),
	})
	if err != nil && !transport.IsNotFound(err) {
		return classifyProviderError(err, "provider delete failed").WithContext(def.Name, "delete")
	}
	if transport.IsNotFound(err) {
		log.Debugf("resource %s already gone", st.ID)
	}

	b.removeOwnedSecrets(ctx, def, log)
	st.Clear()
	log.Info("resource deleted")
	return nil
}

// CheckReadiness polls a pending asynchronous operation first, then the
// resource's own status field.
func (b *Base) CheckReadiness(ctx context.Context, def *Definition, st *State) (bool, error) {
	if !st.HasIdentifier() {
		return false, NewPermanentError("readiness check before create: state has no identifier", nil).
			WithContext(def.Name, "check-readiness")
	}

	if st.OperationName != "" {
		done, err := b.pollOperation(ctx, def, st)
		if err != nil || !done {
			return false, err
		}
	}

	resp, err := b.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   b.spec.ResourcePath(def, st.ID),
	})
	if err != nil {
		return false, classifyProviderError(err, "readiness fetch failed").WithContext(def.Name, "check-readiness")
	}
	b.populate(resp.Body, st)

	ready := b.isReady(resp.Body)
	if b.metrics != nil {
		b.metrics.RecordReadinessCheck(b.spec.Kind, ready)
	}
	return ready, nil
}

// pollOperation checks a pending operation marker. Returns done=true once
// the operation succeeded and the marker is cleared; a failed operation is
// fatal rather than retried.
func (b *Base) pollOperation(ctx context.Context, def *Definition, st *State) (bool, error) {
	if b.spec.OperationPath == nil || b.spec.OperationStatus == nil {
		return false, NewPermanentError(
			fmt.Sprintf("state has pending operation %q but entity declares no operation endpoint", st.OperationName), nil).
			WithContext(def.Name, "check-readiness")
	}

	resp, err := b.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   b.spec.OperationPath(def, st.OperationName),
	})
	if err != nil {
		return false, classifyProviderError(err, "operation status fetch failed").WithContext(def.Name, "check-readiness")
	}

	status, detail := b.spec.OperationStatus(resp.Body)
	switch status {
	case OperationFailed:
		return false, (&Error{
			Class:   ErrorClassPermanent,
			Code:    ErrCodeOperationFailed,
			Message: fmt.Sprintf("provider operation %q failed: %s", st.OperationName, detail),
			Body:    string(resp.Raw),
		}).WithContext(def.Name, "check-readiness")
	case OperationSucceeded:
		b.log.WithEntity(b.spec.Kind, def.Name).Debugf("operation %s completed", st.OperationName)
		st.OperationName = ""
		return true, nil
	default:
		return false, nil
	}
}

// refresh re-reads the resource and records observed fields.
func (b *Base) refresh(ctx context.Context, def *Definition, st *State) error {
	resp, err := b.client.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   b.spec.ResourcePath(def, st.ID),
	})
	if err != nil {
		return classifyProviderError(err, "resource fetch failed")
	}
	b.populate(resp.Body, st)
	return nil
}

// populate fills state identification and observed fields from a resource
// body.
func (b *Base) populate(body map[string]any, st *State) {
	if body == nil {
		return
	}
	if id := b.extractID(body); id != "" {
		st.ID = id
	}
	if b.spec.StatusField != "" {
		if v, ok := body[b.spec.StatusField]; ok {
			st.SetObserved(b.spec.StatusField, v)
		}
	}
	if b.spec.Observe != nil {
		b.spec.Observe(body, st)
	}
}

// isReady checks the resource status field against the ready values.
func (b *Base) isReady(body map[string]any) bool {
	if b.spec.StatusField == "" {
		return true
	}
	value := fmt.Sprintf("%v", body[b.spec.StatusField])
	for _, ready := range b.spec.ReadyValues {
		if value == ready {
			return true
		}
	}
	return false
}

// doMutate executes a mutating call under the conflict retry policy.
func (b *Base) doMutate(ctx context.Context, op string, req transport.Request) (*transport.Response, error) {
	cfg := b.spec.Retry
	if cfg.OnRetry == nil && b.metrics != nil {
		cfg.OnRetry = func(int) { b.metrics.RecordConflictRetry(b.spec.Kind, op) }
	}
	var resp *transport.Response
	err := transport.OnConflict(ctx, cfg, b.log, func(ctx context.Context) error {
		var callErr error
		resp, callErr = b.client.Do(ctx, req)
		return callErr
	})
	return resp, err
}

// resolveSecrets produces the credential map for CreateBody. Generated
// roles go through get-or-generate; caller-supplied roles must already
// exist in the store.
func (b *Base) resolveSecrets(ctx context.Context, def *Definition) (map[string]string, error) {
	if len(def.Secrets) == 0 {
		return nil, nil
	}
	if b.secrets == nil {
		return nil, NewPermanentError("definition references secrets but entity has no secret store", nil).
			WithContext(def.Name, "create")
	}

	generated := make(map[string]bool, len(b.spec.GeneratedSecretRoles))
	for _, role := range b.spec.GeneratedSecretRoles {
		generated[role] = true
	}

	creds := make(map[string]string, len(def.Secrets))
	for role, name := range def.Secrets {
		if generated[role] {
			value, err := secrets.GetOrGenerate(ctx, b.secrets, name, secrets.DefaultGeneratedLength)
			if err != nil {
				return nil, NewPermanentError(fmt.Sprintf("failed to provision secret for role %q", role), err).
					WithContext(def.Name, "create")
			}
			if b.metrics != nil {
				b.metrics.RecordSecretGenerated(b.spec.Kind)
			}
			creds[role] = value
			continue
		}
		value, err := b.secrets.Get(ctx, name)
		if err != nil {
			return nil, NewPermanentError(fmt.Sprintf("missing caller-supplied secret %q for role %q", name, role), err).
				WithContext(def.Name, "create")
		}
		creds[role] = value
	}
	return creds, nil
}

// removeOwnedSecrets removes the secrets this entity generated. Failures
// are logged and swallowed so delete is never blocked by cleanup.
func (b *Base) removeOwnedSecrets(ctx context.Context, def *Definition, log *telemetry.Logger) {
	if b.secrets == nil {
		return
	}
	for _, role := range b.spec.GeneratedSecretRoles {
		name, ok := def.Secrets[role]
		if !ok || name == "" {
			continue
		}
		secrets.RemoveOwned(ctx, b.secrets, log, name)
		if b.metrics != nil {
			b.metrics.RecordSecretRemoved(b.spec.Kind, "removed")
		}
	}
}

func (b *Base) lookupID(def *Definition) string {
	if b.spec.LookupID != nil {
		return b.spec.LookupID(def)
	}
	return def.Name
}

func (b *Base) extractID(body map[string]any) string {
	if b.spec.ExtractID != nil {
		return b.spec.ExtractID(body)
	}
	if id, ok := body["id"]; ok {
		return fmt.Sprintf("%v", id)
	}
	return ""
}

func (b *Base) createBody(def *Definition, creds map[string]string) (map[string]any, error) {
	if b.spec.CreateBody != nil {
		return b.spec.CreateBody(def, creds)
	}
	return def.Properties, nil
}

func (b *Base) updateBody(def *Definition, st *State) (map[string]any, error) {
	if b.spec.UpdateBody != nil {
		return b.spec.UpdateBody(def, st)
	}
	// Default: send only properties that differ from observed state.
	changed := make(map[string]any)
	for key, desired := range def.Properties {
		observed, seen := st.Observed[key]
		if !seen || fmt.Sprintf("%v", desired) != fmt.Sprintf("%v", observed) {
			changed[key] = desired
		}
	}
	return changed, nil
}

// classifyProviderError maps a transport error into the lifecycle error
// taxonomy, preserving the provider status and body.
func classifyProviderError(err error, msg string) *Error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		e := &Error{
			Message:    msg,
			HTTPStatus: terr.Status,
			Body:       terr.Body,
			Err:        err,
		}
		switch terr.Code {
		case transport.ErrorCodeResourceNotFound:
			e.Class = ErrorClassNotFound
		case transport.ErrorCodeConflict:
			e.Class = ErrorClassConflict
		default:
			e.Class = ErrorClassPermanent
		}
		return e
	}
	return NewPermanentError(msg, err)
}
