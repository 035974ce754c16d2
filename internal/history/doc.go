// Package history persists render requests in SQLite so the CLI can show
// recent outcomes, retry counts, and which sources changed between renders.
package history
