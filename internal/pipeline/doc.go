// Package pipeline defines the ordered analysis stages run for every sample
// and renders each stage's command line.
//
// A Stage carries a command template, an expected-output template and a
// resource request. Templates use text/template syntax and are executed with
// missing keys treated as errors, so a placeholder without a value fails the
// render instead of leaking an empty string into a shell command. Rendering
// is deterministic: identical inputs produce byte-identical commands.
//
// The built-in stages are segmentation (a headless pixel classifier) and
// quantification (a cell measurement tool behind a configurable invocation
// prefix). A YAML stage file can replace them.
package pipeline
