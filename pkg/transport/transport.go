package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// MaxTimeout is the upper bound on the configurable request timeout.
// There are no unbounded waits against a provider API.
const MaxTimeout = 5 * time.Minute

// Request describes a single provider API call.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE).
	Method string

	// Path is appended to the client's base URL.
	Path string

	// Body is the request payload. Maps and structs are serialized as
	// JSON; string and []byte values pass through unmodified.
	Body any

	// Header holds per-call headers merged over the client defaults.
	Header http.Header
}

// Response is a parsed provider API response.
type Response struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Body is the decoded JSON object, when the response was an object.
	Body map[string]any

	// BodyArray is the decoded JSON array, when the response was an array.
	BodyArray []any

	// Raw is the unparsed response body. Empty bodies (e.g. from delete
	// calls) are valid.
	Raw []byte
}

// Config configures a transport client.
type Config struct {
	// BaseURL is the provider API root, e.g. "https://api.example.com".
	BaseURL string

	// Timeout bounds each request including body read. Required; capped
	// at MaxTimeout.
	Timeout time.Duration

	// Header holds default headers applied to every request.
	Header http.Header
}

// Client executes requests against one provider API base URL.
type Client struct {
	cfg     Config
	http    *http.Client
	log     *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a transport client. The timeout is mandatory so a hung
// provider call can never stall a reconcile cycle indefinitely.
func NewClient(cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout is required")
	}
	if cfg.Timeout > MaxTimeout {
		cfg.Timeout = MaxTimeout
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.NewComponentLogger("transport"),
		metrics: metrics,
	}, nil
}

// Do executes a request and classifies the response. A status below 400 is
// success regardless of body shape; 400 and above becomes a typed *Error
// retaining the status, reason, and raw body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	// Defaults first, then per-call overrides.
	for k, vs := range c.cfg.Header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if httpReq.Header.Get("X-Request-Id") == "" {
		httpReq.Header.Set("X-Request-Id", uuid.NewString())
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.WithError(err).WithOperation(req.Method).Debug("provider call failed")
		return nil, fmt.Errorf("provider call %s %s failed: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordTransportCall(req.Method, httpResp.StatusCode, time.Since(start))
	}
	c.log.Debugf("%s %s -> %d (%d bytes)", req.Method, req.Path, httpResp.StatusCode, len(raw))

	if httpResp.StatusCode >= 400 {
		return nil, &Error{
			Code:   ClassifyStatus(httpResp.StatusCode),
			Status: httpResp.StatusCode,
			Reason: http.StatusText(httpResp.StatusCode),
			Body:   string(raw),
		}
	}

	return parseResponse(httpResp.StatusCode, raw), nil
}

// encodeBody serializes the request body. Strings and byte slices pass
// through raw; anything else is marshaled as JSON.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// parseResponse decodes a successful response body. Non-JSON or empty
// bodies are kept raw only.
func parseResponse(status int, raw []byte) *Response {
	resp := &Response{StatusCode: status, Raw: raw}
	if len(raw) == 0 {
		return resp
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		resp.Body = obj
		return resp
	}

	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil {
		resp.BodyArray = arr
	}
	return resp
}
