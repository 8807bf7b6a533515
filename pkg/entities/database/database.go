// Package database manages provider database instances. Databases provision
// asynchronously: the create response carries an operation name that is
// polled to completion before the instance status itself is inspected.
package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/entity"
	"github.com/cloudwarden/cloudwarden/pkg/secrets"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// Kind is the catalog kind managed by this entity.
const Kind = "database"

// AdminPasswordRole is the definition secret role holding the generated
// admin credential.
const AdminPasswordRole = "admin-password"

// New constructs the database entity.
func New(client entity.Doer, store secrets.Store, log *telemetry.Logger, metrics *telemetry.Metrics, retry transport.RetryConfig) (*entity.Base, error) {
	base, err := entity.NewBase(entity.Spec{
		Kind: Kind,

		CollectionPath: func(*entity.Definition) string {
			return "/v1/databases"
		},
		ResourcePath: func(_ *entity.Definition, id string) string {
			return "/v1/databases/" + id
		},

		CreateBody: createBody,

		ImmutableFields: []string{"engine", "region"},

		ExtractOperation: func(body map[string]any) string {
			if op, ok := body["operation"].(string); ok {
				return op
			}
			return ""
		},
		OperationPath: func(_ *entity.Definition, operation string) string {
			return "/v1/operations/" + operation
		},
		OperationStatus: operationStatus,

		StatusField: "status",
		ReadyValues: []string{"active", "online"},

		Observe: observe,

		GeneratedSecretRoles: []string{AdminPasswordRole},

		Readiness: entity.ReadinessPolicy{
			Period:       30 * time.Second,
			InitialDelay: 60 * time.Second,
			Attempts:     60,
		},

		Retry: retry,
	}, client, store, log, metrics)
	if err != nil {
		return nil, err
	}

	base.RegisterAction("create-snapshot", snapshotAction(client))
	return base, nil
}

// createBody builds the provider create payload. The admin password is a
// generated secret resolved by the base, never a definition property.
func createBody(def *entity.Definition, creds map[string]string) (map[string]any, error) {
	body := map[string]any{
		"name": def.Name,
	}
	for _, field := range []string{"engine", "version", "region", "size"} {
		if v, ok := def.Properties[field]; ok {
			body[field] = v
		}
	}
	if password, ok := creds[AdminPasswordRole]; ok {
		body["admin_password"] = password
	}
	return body, nil
}

// operationStatus interprets the provider operation document.
func operationStatus(body map[string]any) (entity.OperationStatus, string) {
	status, _ := body["status"].(string)
	detail, _ := body["message"].(string)
	switch status {
	case "succeeded", "done":
		return entity.OperationSucceeded, detail
	case "failed", "error":
		return entity.OperationFailed, detail
	default:
		return entity.OperationPending, detail
	}
}

// observe records the connection fields downstream entities consume.
func observe(body map[string]any, st *entity.State) {
	for _, field := range []string{"host", "port", "engine", "version", "region"} {
		if v, ok := body[field]; ok {
			st.SetObserved(field, v)
		}
	}
}

// snapshotAction triggers an on-demand snapshot of a provisioned instance.
func snapshotAction(client entity.Doer) entity.ActionFunc {
	return func(ctx context.Context, def *entity.Definition, st *entity.State) error {
		if !st.HasIdentifier() {
			return entity.NewPermanentError("cannot snapshot a database that has not been created", nil).
				WithContext(def.Name, "create-snapshot")
		}
		resp, err := client.Do(ctx, transport.Request{
			Method: http.MethodPost,
			Path:   fmt.Sprintf("/v1/databases/%s/snapshots", st.ID),
			Body:   map[string]any{"database": st.ID},
		})
		if err != nil {
			return entity.NewPermanentError("provider snapshot request failed", err).
				WithContext(def.Name, "create-snapshot")
		}
		if id, ok := resp.Body["id"].(string); ok {
			st.SetObserved("last_snapshot", id)
		}
		return nil
	}
}
