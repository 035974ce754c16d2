// Package script renders the elisp evaluated by the engine daemon and its
// client. Everything here is pure string work: no I/O, no process state.
package script
