package fallback

import (
	"context"
	"strings"
	"testing"
	"time"

	"helios-hq/saturn/pkg/admission"
	"helios-hq/saturn/pkg/ledger"
	"helios-hq/saturn/pkg/policy"
)

func fallbackPolicy(provider string) *policy.Policy {
	return &policy.Policy{
		Provider:             provider,
		GlobalMonthlyCap:     1000,
		SoftEnforcementRatio: 1.0,
		PerRequestCap:        100,
		DailySlicePercent:    100,
		HourlySlicePercent:   100,
		Cooldown:             0,
		MaxConcurrent:        5,
		AcquireTimeout:       time.Second,
		EmergencyThreshold:   0.98,
		FallbackThreshold:    0.8,
		Agents:               []string{"imperium", "guardian"},
	}
}

func newProvider(pol *policy.Policy) *Provider {
	store := ledger.NewMemoryStore()
	source := policy.NewSource(pol)
	return &Provider{
		Name:   pol.Provider,
		Source: source,
		Store:  store,
		Controller: admission.NewController(admission.ControllerConfig{
			Provider: pol.Provider,
			Source:   source,
			Store:    store,
		}),
	}
}

func preload(t *testing.T, p *Provider, tokens int64) {
	t.Helper()
	_, err := p.Store.RecordUsage(context.Background(), &ledger.LogEntry{
		AgentID: "imperium",
		Tokens:  tokens,
		Granted: true,
		Reason:  "ok",
	}, p.Source.Current().EnforcedCap())
	if err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}
}

func TestCoordinator_PrimaryGrants(t *testing.T) {
	primary := newProvider(fallbackPolicy("anthropic"))
	secondary := newProvider(fallbackPolicy("openai"))
	c := NewCoordinator([]*Provider{primary, secondary}, nil)

	result, err := c.Request(context.Background(), "imperium", 100)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	defer result.Release()

	if !result.Granted {
		t.Fatalf("request denied: %s", result.Reason())
	}
	if result.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", result.Provider)
	}
	if len(result.Attempts) != 0 {
		t.Errorf("grant on the primary logged %d attempts", len(result.Attempts))
	}
	if result.Reason() != "ok" {
		t.Errorf("Reason() = %q, want ok", result.Reason())
	}
}

func TestCoordinator_ShiftsAtFallbackThreshold(t *testing.T) {
	primary := newProvider(fallbackPolicy("anthropic"))
	secondary := newProvider(fallbackPolicy("openai"))
	c := NewCoordinator([]*Provider{primary, secondary}, nil)

	// 800 of 1000 puts the primary at its 0.8 threshold.
	preload(t, primary, 800)

	result, err := c.Request(context.Background(), "guardian", 100)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	defer result.Release()

	if !result.Granted {
		t.Fatalf("request denied: %s", result.Reason())
	}
	if result.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", result.Provider)
	}
	if len(result.Attempts) != 1 || !result.Attempts[0].Skipped {
		t.Fatalf("expected one advisory skip, got %+v", result.Attempts)
	}
	if result.Attempts[0].Reason != ReasonFallbackThreshold {
		t.Errorf("skip reason = %s, want %s", result.Attempts[0].Reason, ReasonFallbackThreshold)
	}

	// The primary's ledger was not billed.
	rec, _ := primary.Store.Snapshot(context.Background(), "guardian", ledger.MonthOf(time.Now().UTC()))
	if rec != nil && rec.TotalTokens != 0 {
		t.Errorf("skipped primary billed %d tokens", rec.TotalTokens)
	}
}

func TestCoordinator_DeferredProviderIsRetried(t *testing.T) {
	primary := newProvider(fallbackPolicy("anthropic"))
	// Secondary denies everything over 50 tokens.
	secondaryPol := fallbackPolicy("openai")
	secondaryPol.PerRequestCap = 50
	secondary := newProvider(secondaryPol)
	c := NewCoordinator([]*Provider{primary, secondary}, nil)

	// Primary is over its threshold but still has 200 tokens left.
	preload(t, primary, 800)

	result, err := c.Request(context.Background(), "guardian", 100)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	defer result.Release()

	if !result.Granted {
		t.Fatalf("request denied: %s", result.Reason())
	}
	if result.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic on the deferred retry", result.Provider)
	}
}

func TestCoordinator_AllProvidersDeny(t *testing.T) {
	primary := newProvider(fallbackPolicy("anthropic"))
	secondaryPol := fallbackPolicy("openai")
	secondaryPol.PerRequestCap = 50
	secondary := newProvider(secondaryPol)
	c := NewCoordinator([]*Provider{primary, secondary}, nil)

	// Primary fully exhausted, secondary rejects the size outright.
	preload(t, primary, 1000)

	result, err := c.Request(context.Background(), "guardian", 100)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if result.Granted {
		t.Fatal("request should be denied everywhere")
	}

	reason := result.Reason()
	for _, want := range []string{
		"anthropic: " + ReasonFallbackThreshold.String(),
		"openai: " + admission.ReasonRequestTooLarge.String(),
		"anthropic: " + admission.ReasonMonthlyLimitExceeded.String(),
	} {
		if !strings.Contains(reason, want) {
			t.Errorf("Reason() = %q, missing %q", reason, want)
		}
	}

	// The terminal denial still carries concrete decision metadata.
	if result.Decision == nil || result.Decision.Granted {
		t.Error("denial should carry the last concrete decision")
	}
}

func TestResult_ReleaseOnDenialIsSafe(t *testing.T) {
	r := &Result{}
	r.Release()
}
