// Package repository defines the persistence interface for the hub
// inventory. Implementations live in subpackages; the reconciliation
// engine depends only on the interface so tests can run against an
// in-memory database.
package repository
