// Package reconcile classifies submitted jobs from the artifacts they leave
// behind.
//
// The dispatcher holds no handle on a job once a backend accepted it, so
// outcomes are derived after the fact from two durable artifacts: the job's
// log file and its expected output. The log is scanned line by line for
// marker text in four classes (killed, cancelled, timed out, failed). Each
// line counts toward at most one class, checked in the order killed, timed
// out, cancelled, failed, so that a scheduler line such as "CANCELLED AT ...
// DUE TO TIME LIMIT" reads as a timeout. The job outcome is then the
// highest-precedence class seen anywhere in the log:
//
//	killed > cancelled > timed_out > failed > succeeded > pending
//
// where succeeded requires the expected output to exist and pending covers
// both "no log yet" and "log without a terminal marker and no output".
//
// Reconciliation only reads the filesystem. It is idempotent, takes no
// locks and may run while dispatch is still in progress.
package reconcile
