// Package metrics exposes Prometheus metrics for the HTTP API and for ledger
// operation outcomes.
package metrics
