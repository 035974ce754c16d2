// Package invoker issues render requests to a running engine daemon through
// its client binary.
//
// Each request gets a fresh output file and a rendered request script. The
// client is retried with capped exponential backoff until it exits cleanly,
// the retry budget runs out, or the supervisor flags the daemon dead. Requests
// against the same daemon name are serialized.
package invoker
