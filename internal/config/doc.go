// Package config loads, normalizes, and validates Memoria's run
// configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and layers CLI flag overrides on top. The
// Config type centralizes every knob a processor run needs, from worker
// count to the external tool paths invoked by components E, F, and I.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
