package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cloudwarden/cloudwarden/pkg/catalog"
	"github.com/cloudwarden/cloudwarden/pkg/config"
	"github.com/cloudwarden/cloudwarden/pkg/entities/database"
	"github.com/cloudwarden/cloudwarden/pkg/entities/dnsrecord"
	"github.com/cloudwarden/cloudwarden/pkg/entity"
	"github.com/cloudwarden/cloudwarden/pkg/statestore"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// app bundles the wired components every command works with.
type app struct {
	cfg        *config.Config
	tel        *telemetry.Telemetry
	store      *statestore.SQLiteStore
	client     *transport.Client
	dispatcher *entity.Dispatcher
	loader     *catalog.Loader
}

// newApp loads configuration and wires the state store, transport client,
// entities, and dispatcher.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := statestore.NewSQLiteStore(statestore.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	header := make(http.Header, len(cfg.Provider.Headers))
	for k, v := range cfg.Provider.Headers {
		header.Set(k, v)
	}
	client, err := transport.NewClient(transport.Config{
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.Provider.Timeout,
		Header:  header,
	}, tel.Logger, tel.Metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatcher := entity.NewDispatcher(tel.Logger, tel.Metrics, tel.Tracer)
	if err := registerEntities(dispatcher, client, store, tel, cfg); err != nil {
		_ = store.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		tel:        tel,
		store:      store,
		client:     client,
		dispatcher: dispatcher,
		loader:     catalog.NewLoader(tel.Logger),
	}, nil
}

// registerEntities constructs every known entity kind against the shared
// transport client and secret store.
func registerEntities(d *entity.Dispatcher, client *transport.Client, store *statestore.SQLiteStore, tel *telemetry.Telemetry, cfg *config.Config) error {
	retry := transport.RetryConfig{
		Interval:    cfg.Provider.RetryInterval,
		MaxAttempts: cfg.Provider.RetryMaxAttempts,
	}

	db, err := database.New(client, store, tel.Logger, tel.Metrics, retry)
	if err != nil {
		return err
	}
	if err := d.Register(database.Kind, db); err != nil {
		return err
	}

	dns, err := dnsrecord.New(client, store, tel.Logger, tel.Metrics, retry)
	if err != nil {
		return err
	}
	if err := d.Register(dnsrecord.Kind, dns); err != nil {
		return err
	}

	return nil
}

// close shuts down the store and flushes telemetry.
func (a *app) close(ctx context.Context) {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.tel != nil {
		_ = a.tel.Shutdown(ctx)
	}
}

// loadCatalog reads the configured catalog paths.
func (a *app) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	return a.loader.LoadFromPaths(ctx, a.cfg.Catalog.Paths)
}

// loadState fetches the persisted state for a definition, or an empty state
// when none exists yet.
func (a *app) loadState(ctx context.Context, kind, name string) (*entity.State, error) {
	record, err := a.store.GetState(ctx, kind, name)
	if errors.Is(err, statestore.ErrNotFound) {
		return &entity.State{}, nil
	}
	if err != nil {
		return nil, err
	}
	st := &entity.State{}
	if err := json.Unmarshal([]byte(record.Document), st); err != nil {
		return nil, fmt.Errorf("corrupt state document for %s/%s: %w", kind, name, err)
	}
	return st, nil
}

// saveState persists state verbatim. A cleared state after delete removes
// the record instead of storing an empty document.
func (a *app) saveState(ctx context.Context, kind, name string, st *entity.State) error {
	if !st.HasIdentifier() && !st.Existing && st.OperationName == "" && len(st.Observed) == 0 {
		return a.store.DeleteState(ctx, kind, name)
	}
	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s/%s: %w", kind, name, err)
	}
	return a.store.UpsertState(ctx, &statestore.StateRecord{
		Kind:     kind,
		Name:     name,
		Document: string(doc),
	})
}

// runOperation invokes one operation, persists the resulting state, and
// appends the audit record. The state is saved even when the operation
// fails so partial progress survives the next at-least-once retry.
func (a *app) runOperation(ctx context.Context, op string, def *entity.Definition, st *entity.State) error {
	invocationID := uuid.NewString()
	start := time.Now()
	opErr := a.dispatcher.InvokeWithID(ctx, invocationID, op, def, st)

	if err := a.saveState(ctx, def.Kind, def.Name, st); err != nil {
		a.tel.Logger.WithError(err).WithEntity(def.Kind, def.Name).Error("Failed to persist state")
		if opErr == nil {
			opErr = err
		}
	}

	outcome := "success"
	var errText *string
	if opErr != nil {
		outcome = "error"
		if entity.IsNotReady(opErr) {
			outcome = "not_ready"
		}
		msg := opErr.Error()
		errText = &msg
	}
	record := &statestore.InvocationRecord{
		InvocationID: invocationID,
		Kind:         def.Kind,
		Name:         def.Name,
		Operation:    op,
		Outcome:      outcome,
		Error:        errText,
		DurationMS:   time.Since(start).Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	if err := a.store.AppendInvocation(ctx, record); err != nil {
		a.tel.Logger.WithError(err).Warn("Failed to append invocation audit record")
	}

	return opErr
}
