// Package config defines the YAML configuration surface of the
// governor and its loading pipeline.
//
// Loading follows a fixed sequence: parse YAML, apply defaults, apply
// SATURN_* environment overrides, validate. Validation collects every
// violation into a single ValidationError so an operator fixes a bad
// file in one pass instead of one error at a time.
//
// The Watcher reloads the file on change with debouncing, so a burst
// of editor writes produces a single reload.
package config
