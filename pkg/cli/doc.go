// Package cli holds small helpers shared by the saturn commands:
// signal-aware contexts, command error types, and output formatting.
package cli
