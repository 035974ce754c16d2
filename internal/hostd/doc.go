// Package hostd runs one engine daemon on behalf of orgrender.
//
// A Host wires the engine supervisor, the client invoker, and the render
// history store from configuration. Short-lived commands use Start, Render,
// and Stop directly; `orgrender serve` calls Run, which additionally takes the
// host lock, writes the PID file, and exposes the JSON-RPC socket and the
// optional HTTP API until a signal, a shutdown request, or an engine fatal
// error ends it.
package hostd
