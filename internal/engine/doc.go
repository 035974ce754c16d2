// Package engine supervises the long-lived engine daemon.
//
// A Supervisor owns exactly one named daemon. It renders the bootstrap script,
// launches the engine, watches the launcher exit and the sentinel channel for
// fatal records, and drives the stop and readiness directives through the
// engine client. Liveness moves NotStarted, Starting, Alive, Dead and never
// leaves Dead; the Supervisor is its only writer and the invoker reads it to
// short-circuit requests.
package engine
