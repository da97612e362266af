// Package main hosts the imcflow CLI entrypoint and command graph.
//
// The Cobra-based command tree loads configuration, reads the sample manifest,
// dispatches segmentation and quantification jobs to the local or cluster
// backend, and reconciles their outcomes from the logs and artifacts they
// leave behind. Reports render as tables on a terminal or JSON with --json.
//
// Keep this package lean: behaviour lives in the internal packages and is
// surfaced here through flags and rendering only.
package main
