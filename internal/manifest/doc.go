// Package manifest reads the sample table and the marker panel that drive a
// dispatch run.
//
// The sample table is a CSV file with one row per sample: a unique sample
// name, the raw image stack to analyse, and optional per-sample overrides
// (alternate panel file, excluded channels, a toggle to switch the row off).
// Any other column is carried through as a free-form attribute so stage
// templates can reference it. The panel is a CSV mapping marker names to
// analysis roles such as "nuclear" or "cytoplasm".
//
// Loading is a pure read. Every structural problem surfaces as an *Error that
// matches ErrManifest, and is fatal for the run: nothing is dispatched from a
// manifest that failed to load.
package manifest
