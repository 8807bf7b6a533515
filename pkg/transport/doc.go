// Package transport executes HTTP requests against a provider REST API.
// It merges default and per-call headers, serializes JSON bodies, classifies
// non-2xx responses into typed errors carrying status and raw body, and
// provides the bounded fixed-backoff conflict retry loop used by mutating
// lifecycle operations.
package transport
