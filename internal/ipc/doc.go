// Package ipc exposes the resident host over JSON-RPC Unix sockets and ships
// the matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. The
// server wraps a Backend (the host) while the client is used by CLI commands
// that prefer an already-running engine daemon over starting their own.
package ipc
