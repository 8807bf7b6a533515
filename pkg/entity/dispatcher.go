package entity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// Standard lifecycle operation names accepted by the dispatcher.
const (
	OpCreate         = "create"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpCheckReadiness = "check-readiness"
)

// Dispatcher routes named operations from the host scheduler to registered
// entities. Standard lifecycle names map to the Entity interface; anything
// else is looked up in the entity's action registry.
type Dispatcher struct {
	entities map[string]Entity
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Dispatcher {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Dispatcher{
		entities: make(map[string]Entity),
		log:      log.NewComponentLogger("dispatcher"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Register adds an entity implementation for a kind.
func (d *Dispatcher) Register(kind string, e Entity) error {
	if kind == "" {
		return fmt.Errorf("entity kind is required")
	}
	if _, exists := d.entities[kind]; exists {
		return fmt.Errorf("entity kind %q already registered", kind)
	}
	d.entities[kind] = e
	return nil
}

// Get returns the entity registered for a kind.
func (d *Dispatcher) Get(kind string) (Entity, error) {
	e, ok := d.entities[kind]
	if !ok {
		return nil, &Error{
			Class:   ErrorClassPermanent,
			Code:    ErrCodeUnknownKind,
			Message: fmt.Sprintf("no entity registered for kind %q", kind),
		}
	}
	return e, nil
}

// Kinds returns the registered kinds in sorted order.
func (d *Dispatcher) Kinds() []string {
	kinds := make([]string, 0, len(d.entities))
	for kind := range d.entities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ActionNames returns the custom action names registered for a kind, sorted.
func (d *Dispatcher) ActionNames(kind string) ([]string, error) {
	e, err := d.Get(kind)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(e.Actions()))
	for name := range e.Actions() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Invoke runs one named operation against the entity for def.Kind. The
// updated state is left in st for the caller to persist verbatim; a
// readiness check that comes back pending is reported as a not-ready
// classified error.
func (d *Dispatcher) Invoke(ctx context.Context, op string, def *Definition, st *State) error {
	return d.InvokeWithID(ctx, uuid.NewString(), op, def, st)
}

// InvokeWithID runs one named operation under a caller-supplied invocation
// ID, so hosts that audit invocations can correlate logs, spans, and audit
// records.
func (d *Dispatcher) InvokeWithID(ctx context.Context, invocationID, op string, def *Definition, st *State) error {
	e, err := d.Get(def.Kind)
	if err != nil {
		return err
	}

	log := d.log.WithEntity(def.Kind, def.Name).WithOperation(op).WithInvocationID(invocationID)
	ctx = log.WithContext(ctx)

	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.StartInvocationSpan(ctx, invocationID, def.Kind, def.Name, op)
		defer span.End()
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
		}()
	}

	start := time.Now()
	err = d.invoke(ctx, e, op, def, st)
	duration := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		if IsNotReady(err) {
			outcome = "not_ready"
		}
		if d.metrics != nil {
			d.metrics.RecordError(string(classOf(err)))
		}
		log.WithError(err).Debugf("operation finished in %s", duration)
	} else {
		log.Debugf("operation finished in %s", duration)
	}
	if d.metrics != nil {
		d.metrics.RecordLifecycleOp(def.Kind, op, outcome, duration)
	}
	return err
}

func (d *Dispatcher) invoke(ctx context.Context, e Entity, op string, def *Definition, st *State) error {
	switch op {
	case OpCreate:
		return e.Create(ctx, def, st)
	case OpUpdate:
		return e.Update(ctx, def, st)
	case OpDelete:
		return e.Delete(ctx, def, st)
	case OpCheckReadiness:
		ready, err := e.CheckReadiness(ctx, def, st)
		if err != nil {
			return err
		}
		if !ready {
			return NewNotReadyError(fmt.Sprintf("resource %q is not ready yet", def.Name))
		}
		return nil
	default:
		action, ok := e.Actions()[op]
		if !ok {
			return &Error{
				Class:   ErrorClassPermanent,
				Code:    ErrCodeUnknownAction,
				Message: fmt.Sprintf("entity kind %q has no action %q", def.Kind, op),
			}
		}
		return action(ctx, def, st)
	}
}
