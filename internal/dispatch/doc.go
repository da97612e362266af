// Package dispatch turns a loaded manifest and an ordered stage list into
// submitted jobs.
//
// Samples are walked in manifest order and, within a sample, stages in
// strict ordinal order: stage N+1 is handed to the backend only after the
// backend returned from submitting stage N. That is a submission-order
// guarantee. Execution order on an asynchronous backend comes from the
// dependency receipt passed along when chaining is enabled.
//
// Dispatch tolerates partial failure. A template or submission failure is
// recorded and ends that sample's walk (later stages would depend on the
// missing output) while every other sample is still dispatched. Each
// submitted job becomes an immutable jobs.Job appended to the ledger and
// announced on the event publisher. The dispatcher never looks at outcomes.
package dispatch
