// Package api defines the wire-format types and the read-only HTTP server for
// run status. It translates ledger runs, job records and reconciled outcomes
// into transport-friendly DTOs so the CLI and HTTP consumers render the same
// view.
//
// # Key Types
//
// Run, Job, DispatchError: transport forms of ledger records.
//
// Report: one run with its jobs, reconciled outcomes and per-sample summary.
//
// RunService: ledger reads plus reconciliation. Outcomes are always derived
// from the artifacts on disk at request time, never stored.
//
// Server: chi router exposing RunService under /api.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Outcomes and sample states are exposed as the
// lowercase strings the reconciler defines. Timestamps use RFC3339 with
// milliseconds.
package api
