// Package config loads, normalizes, and validates orgrender configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// ORGRENDER_EMACS. The Config type centralizes every knob the engine
// supervisor, the client invoker, and the CLI need so binaries, runtime
// directories, and retry timings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
