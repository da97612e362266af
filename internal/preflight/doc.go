// Package preflight provides readiness checks for the filesystem paths,
// executables and services a run depends on.
//
// The run command calls RunAll before dispatching and refuses to submit when
// a required check fails; the check command prints every result.
package preflight
