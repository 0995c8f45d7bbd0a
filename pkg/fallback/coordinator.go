// Package fallback routes admission requests across an ordered list of
// independently budgeted providers.
//
// Each provider carries its own ledger, policy, and admission
// controller. A request tries providers in order and binds to the
// first one that grants. Providers whose aggregate usage has crossed
// their fallback threshold are skipped preemptively so traffic shifts
// to the secondary before the primary is fully exhausted; the skip is
// advisory and layered on top of the hard admission check, so a
// skipped provider is still tried when every other provider denies.
package fallback

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"helios-hq/saturn/pkg/admission"
	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
)

// ReasonFallbackThreshold marks an advisory skip: the provider was not
// denied, it was deferred because its usage crossed the fallback
// threshold.
const ReasonFallbackThreshold = admission.Reason("fallback_threshold")

// Provider bundles one downstream provider's governance stack.
type Provider struct {
	// Name identifies the provider ("anthropic", "openai", ...).
	Name string

	// Controller is this provider's admission controller.
	Controller *admission.Controller

	// Source supplies this provider's policy.
	Source *policy.Source

	// Store is this provider's ledger, used for the advisory usage
	// fraction.
	Store ledger.Store
}

// usageFraction returns aggregate monthly consumption as a fraction of
// the enforced cap. Errors report zero usage; the hard admission check
// still fails closed on its own.
func (p *Provider) usageFraction(ctx context.Context, now time.Time) float64 {
	pol := p.Source.Current()
	records, err := p.Store.Snapshots(ctx, ledger.MonthOf(now))
	if err != nil {
		return 0
	}
	var total int64
	for _, rec := range records {
		total += rec.TotalTokens
	}
	enforced := pol.EnforcedCap()
	if enforced <= 0 {
		return 0
	}
	return float64(total) / float64(enforced)
}

// Attempt records the outcome of one provider try for observability.
type Attempt struct {
	Provider string
	Reason   admission.Reason
	Skipped  bool // true when skipped on the advisory threshold
}

// Result is the coordinator's terminal outcome. On a grant it binds
// the decision to the granting provider; on a terminal denial it
// carries every per-provider attempt so the caller sees the union of
// reasons.
type Result struct {
	Granted  bool
	Provider string
	Decision *admission.Decision
	Attempts []Attempt
}

// Reason joins the attempt reasons into one operator-facing string,
// e.g. "anthropic: fallback_threshold; openai: monthly_limit_exceeded".
func (r *Result) Reason() string {
	if r.Granted {
		return admission.ReasonOK.String()
	}
	parts := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		parts = append(parts, a.Provider+": "+a.Reason.String())
	}
	return strings.Join(parts, "; ")
}

// Release frees the granted decision's concurrency slot. Safe to call
// on denials.
func (r *Result) Release() {
	if r.Decision != nil {
		r.Decision.Release()
	}
}

// Coordinator tries providers in configured order.
type Coordinator struct {
	providers []*Provider
	logger    *slog.Logger
	now       func() time.Time
}

// NewCoordinator creates a coordinator over the ordered provider list.
// The first provider is the primary.
func NewCoordinator(providers []*Provider, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		providers: providers,
		logger:    logger.With("component", "fallback"),
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Providers returns the ordered provider list.
func (c *Coordinator) Providers() []*Provider { return c.providers }

// Request routes one admission request. Pass one skips providers at or
// above their fallback threshold; pass two retries the skipped ones
// under the hard admission check. The first grant wins.
func (c *Coordinator) Request(ctx context.Context, agentID string, requestedTokens int64) (*Result, error) {
	result := &Result{}
	now := c.now()

	var deferred []*Provider
	for _, p := range c.providers {
		threshold := p.Source.Current().FallbackThreshold
		if frac := p.usageFraction(ctx, now); frac >= threshold {
			c.logger.Info("provider over fallback threshold, deferring",
				"provider", p.Name,
				"usage_fraction", frac,
				"threshold", threshold,
			)
			result.Attempts = append(result.Attempts, Attempt{
				Provider: p.Name,
				Reason:   ReasonFallbackThreshold,
				Skipped:  true,
			})
			deferred = append(deferred, p)
			continue
		}
		granted, err := c.try(ctx, p, agentID, requestedTokens, result)
		if err != nil {
			return nil, err
		}
		if granted {
			return result, nil
		}
	}

	// Advisory skips never forfeit capacity outright: providers over
	// their threshold are still tried once everything else denied.
	for _, p := range deferred {
		granted, err := c.try(ctx, p, agentID, requestedTokens, result)
		if err != nil {
			return nil, err
		}
		if granted {
			return result, nil
		}
	}

	c.logger.Warn("all providers denied request",
		"agent", agentID,
		"tokens", requestedTokens,
		"reasons", result.Reason(),
	)
	return result, nil
}

func (c *Coordinator) try(ctx context.Context, p *Provider, agentID string, tokens int64, result *Result) (bool, error) {
	decision, err := p.Controller.Check(ctx, agentID, tokens)
	if err != nil {
		return false, err
	}
	if decision.Granted {
		result.Granted = true
		result.Provider = p.Name
		result.Decision = decision
		return true, nil
	}
	result.Attempts = append(result.Attempts, Attempt{
		Provider: p.Name,
		Reason:   decision.Reason,
	})
	// Keep the most recent concrete decision so the caller still gets
	// remaining/reset metadata on a terminal denial.
	result.Decision = decision
	return false, nil
}
