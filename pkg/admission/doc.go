// Package admission implements the per-request check-then-reserve
// decision at the core of the governance layer.
//
// A request moves from REQUESTED to exactly one of GRANTED or DENIED.
// The controller runs an ordered list of checks and short-circuits on
// the first failure, each failure carrying a distinct reason code for
// observability. Grants are bill-then-use: the token spend is recorded
// in the ledger before the decision is returned, so two concurrent
// callers can never both see the same remaining budget and double
// spend it.
//
// Every finalized decision, granted or denied, is appended to the
// ledger's audit log. A granted decision carries a slot release handle
// that must be called when the downstream call completes; the handle
// releases exactly once no matter how many times it is invoked.
package admission
