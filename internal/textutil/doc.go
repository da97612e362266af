// Package textutil provides small string helpers shared by the dispatcher,
// the template engine and the CLI.
//
// The primary use cases are:
//   - Sanitizing sample and stage names into log and script path segments
//   - Quoting rendered values as single POSIX shell words
//   - Turning stage identifiers into display labels
package textutil
