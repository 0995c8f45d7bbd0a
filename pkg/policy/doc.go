// Package policy defines the immutable budget policy and the pure
// functions that derive ceilings from it.
//
// A Policy value is computed once from configuration and never mutated;
// hot reload replaces the whole value through a Source (an atomic
// pointer swap), so in-flight admission decisions keep the policy they
// started with. Every function here is deterministic given its inputs,
// which keeps admission decisions individually testable without a live
// store.
package policy
