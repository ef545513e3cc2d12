// Package service contains the business logic: hub administration,
// per-hub reconciliation of SNMP walk output against the cached
// inventory, and the coordinator that schedules fleet-wide refresh
// cycles over a bounded worker pool.
package service
