// Package entity defines the lifecycle reconciliation contract for managed
// cloud resources: the Entity interface, the Definition/State data model,
// the generic REST-backed Base implementation, the readiness polling policy,
// and the action dispatcher invoked by the host scheduler.
package entity
