// Package main hosts the orgrender CLI entrypoint and command graph.
//
// Commands either talk to a resident host over its unix socket (start, stop,
// status, ping) or run the engine daemon in-process for one-shot renders when
// no host is reachable. Configuration resolution and logger setup live in the
// command context so subcommands stay declarative.
package main
