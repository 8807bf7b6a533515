// Package dnsrecord manages provider DNS records. Records are synchronous:
// the create response is the final resource, there is no operation to poll
// and no status field, so a record is ready as soon as it exists.
package dnsrecord

import (
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/entity"
	"github.com/cloudwarden/cloudwarden/pkg/secrets"
	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

// Kind is the catalog kind managed by this entity.
const Kind = "dns-record"

// New constructs the DNS record entity. The definition must carry a "zone"
// property naming the hosted zone the record lives in.
func New(client entity.Doer, store secrets.Store, log *telemetry.Logger, metrics *telemetry.Metrics, retry transport.RetryConfig) (*entity.Base, error) {
	return entity.NewBase(entity.Spec{
		Kind: Kind,

		CollectionPath: func(def *entity.Definition) string {
			return "/v1/zones/" + def.Property("zone") + "/records"
		},
		ResourcePath: func(def *entity.Definition, id string) string {
			return "/v1/zones/" + def.Property("zone") + "/records/" + id
		},

		CreateBody: createBody,

		// Record type changes require delete and recreate on every provider
		// we target.
		ImmutableFields: []string{"type"},

		Observe: func(body map[string]any, st *entity.State) {
			for _, field := range []string{"type", "value", "ttl", "fqdn"} {
				if v, ok := body[field]; ok {
					st.SetObserved(field, v)
				}
			}
		},

		Readiness: entity.ReadinessPolicy{
			Period:       5 * time.Second,
			InitialDelay: 0,
			Attempts:     12,
		},

		Retry: retry,
	}, client, store, log, metrics)
}

func createBody(def *entity.Definition, _ map[string]string) (map[string]any, error) {
	body := map[string]any{
		"name": def.Name,
	}
	for _, field := range []string{"type", "value", "ttl"} {
		if v, ok := def.Properties[field]; ok {
			body[field] = v
		}
	}
	return body, nil
}
