// Package jobs defines the immutable submission record produced by the
// dispatcher and read by the reconciler, the ledger and the status API.
//
// A Job is created once, at submission time, and never changes afterwards.
// Its log path doubles as its durable identity: everything later known about
// the job's execution is read back from that file and from the expected
// output path.
package jobs
