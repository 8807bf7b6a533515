// Package statestore persists entity state and owned secrets between
// scheduler invocations. The host hands state back verbatim on the next
// call for the same entity, so the store treats the state document as an
// opaque JSON blob keyed by kind and name.
package statestore
