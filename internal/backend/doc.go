// Package backend submits rendered jobs to an execution target.
//
// Two targets exist, selected by an explicit Kind tag:
//
//   - Local runs each command as a child shell process, either one at a time
//     (Submit blocks until the process exits) or up to MaxParallel at once
//     (Submit returns immediately and Wait drains the pool).
//   - Cluster writes a batch script with scheduler resource directives and
//     hands it to the submit command, returning the scheduler job id.
//
// Submission failures are *SubmissionError values. Failures during
// execution are never returned here; they surface later in the job's log.
// The local backend writes the same kind of terminal lines a scheduler
// would (time limit, kill, cancellation, non-zero exit) so that both targets
// produce logs the reconciler can read the same way.
package backend
