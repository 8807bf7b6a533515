package dnsrecord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/entity"
	"github.com/cloudwarden/cloudwarden/pkg/secrets"
	"github.com/cloudwarden/cloudwarden/pkg/transport"
)

func setupEntity(t *testing.T, handler http.Handler) *entity.Base {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := transport.NewClient(transport.Config{
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, nil, nil)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	e, err := New(client, secrets.NewMemoryStore(), nil, nil, transport.RetryConfig{
		Interval:    time.Millisecond,
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	return e
}

func testDefinition() *entity.Definition {
	return &entity.Definition{
		Name: "www",
		Kind: Kind,
		Properties: map[string]any{
			"zone":  "example.com",
			"type":  "A",
			"value": "203.0.113.7",
			"ttl":   300,
		},
	}
}

// TestRecordCreateAndImmediateReadiness tests that a synchronous record is
// ready as soon as it exists
func TestRecordCreateAndImmediateReadiness(t *testing.T) {
	mux := http.NewServeMux()
	var created map[string]any
	mux.HandleFunc("GET /v1/zones/example.com/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if created == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(created)
	})
	mux.HandleFunc("POST /v1/zones/example.com/records", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		created = map[string]any{
			"id":    "rec-1",
			"name":  body["name"],
			"type":  body["type"],
			"value": body["value"],
			"ttl":   body["ttl"],
			"fqdn":  "www.example.com",
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(created)
	})

	e := setupEntity(t, mux)
	def := testDefinition()
	st := &entity.State{}
	ctx := context.Background()

	if err := e.Create(ctx, def, st); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if st.ID != "rec-1" {
		t.Fatalf("expected id rec-1, got %q", st.ID)
	}
	if st.OperationName != "" {
		t.Error("synchronous record must not carry an operation marker")
	}

	ready, err := e.CheckReadiness(ctx, def, st)
	if err != nil {
		t.Fatalf("readiness failed: %v", err)
	}
	if !ready {
		t.Error("record with no status field must be ready once it exists")
	}
	if st.ObservedString("fqdn") != "www.example.com" {
		t.Errorf("expected observed fqdn, got %q", st.ObservedString("fqdn"))
	}
}

// TestRecordTypeChangeFails tests the immutable record type
func TestRecordTypeChangeFails(t *testing.T) {
	e := setupEntity(t, http.NotFoundHandler())
	def := testDefinition()
	def.Properties["type"] = "CNAME"
	st := &entity.State{ID: "rec-1"}
	st.SetObserved("type", "A")

	err := e.Update(context.Background(), def, st)
	if !entity.IsPermanent(err) {
		t.Fatalf("expected permanent error for type change, got %v", err)
	}
}
