// Package services defines shared utilities consumed by the engine
// supervisor, the client invoker, and the resident host.
//
// Key responsibilities:
//   - Context helpers that stamp daemon names and correlation identifiers for
//     logging.
//   - Structured error markers plus the Wrap helper that let callers classify
//     render failures (dead engine vs unreachable daemon vs plain failure).
//
// Use these helpers when wiring new engine-facing code so error handling and
// observability stay uniform across commands.
package services
