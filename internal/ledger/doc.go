// Package ledger records dispatch runs and their job records in SQLite.
//
// The ledger is what lets reconciliation outlive the process that submitted
// the jobs: "imcflow status" reads the job records of a past run back from
// here and classifies them against the filesystem. Job rows are append-only;
// a trigger rejects updates so the stored record always matches what was
// submitted. Runs carry counters that are filled in when dispatch finishes.
//
// Schema changes bump schemaVersion in schema.go; an older database must be
// removed before the new schema can be created.
package ledger
