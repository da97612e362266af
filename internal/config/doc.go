// Package config loads, normalizes, and validates imcflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a working-directory .env file, and
// honours environment fallbacks such as IMCFLOW_BACKEND and
// IMCFLOW_QUANT_INVOCATION. The Config type centralizes every knob the
// dispatcher, backends, and reconciler need so a run is reproducible from one
// immutable value.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
