package governor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"helios-hq/saturn/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Agents: []string{"imperium", "guardian"},
		Providers: []config.ProviderConfig{
			{
				Name:               "anthropic",
				MonthlyCap:         1000,
				SoftRatio:          1.0,
				PerRequestCap:      100,
				DailySlicePercent:  100,
				HourlySlicePercent: 100,
				FallbackThreshold:  0.8,
			},
			{
				Name:               "openai",
				MonthlyCap:         1000,
				SoftRatio:          1.0,
				PerRequestCap:      100,
				DailySlicePercent:  100,
				HourlySlicePercent: 100,
				FallbackThreshold:  0.8,
			},
		},
		Admission: config.AdmissionConfig{
			Cooldown:       0,
			MaxConcurrent:  8,
			AcquireTimeout: time.Second,
		},
	}
	cfg.Database.Path = filepath.Join(t.TempDir(), "usage.db")
	config.ApplyDefaults(cfg)
	cfg.Admission.Cooldown = 0
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func newTestGovernor(t *testing.T) *Governor {
	t.Helper()
	gov, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { gov.Close() })
	return gov
}

func TestGovernor_ProvidersInOrder(t *testing.T) {
	gov := newTestGovernor(t)
	providers := gov.Providers()
	if len(providers) != 2 || providers[0] != "anthropic" || providers[1] != "openai" {
		t.Fatalf("Providers() = %v, want [anthropic openai]", providers)
	}
}

func TestGovernor_CheckAndReserve(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	result, err := gov.CheckAndReserve(ctx, "imperium", 100)
	if err != nil {
		t.Fatalf("CheckAndReserve() error: %v", err)
	}
	defer result.Release()

	if !result.Granted {
		t.Fatalf("request denied: %s", result.Reason())
	}
	if result.Provider != "anthropic" {
		t.Errorf("Provider = %q, want the primary", result.Provider)
	}

	view, err := gov.AgentUsage(ctx, "anthropic", "imperium")
	if err != nil {
		t.Fatalf("AgentUsage() error: %v", err)
	}
	if view == nil || view.TotalTokens != 100 {
		t.Errorf("ledger not billed: %+v", view)
	}
}

func TestGovernor_ShiftsToSecondaryAtThreshold(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	// Burning tokens pushes the primary over its 0.8 fallback
	// threshold at 800; later requests shift to the secondary.
	for i := 0; i < 10; i++ {
		result, err := gov.CheckAndReserve(ctx, "imperium", 100)
		if err != nil {
			t.Fatalf("CheckAndReserve() %d error: %v", i, err)
		}
		if !result.Granted {
			t.Fatalf("request %d denied: %s", i, result.Reason())
		}
		if i < 8 && result.Provider != "anthropic" {
			t.Fatalf("request %d served by %s before the threshold", i, result.Provider)
		}
		result.Release()
	}

	result, err := gov.CheckAndReserve(ctx, "guardian", 100)
	if err != nil {
		t.Fatalf("CheckAndReserve() error: %v", err)
	}
	defer result.Release()
	if !result.Granted || result.Provider != "openai" {
		t.Fatalf("granted=%v provider=%q, want a grant on openai", result.Granted, result.Provider)
	}
}

func TestGovernor_SuspendAndResume(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	if err := gov.Suspend(ctx, "anthropic", "imperium"); err != nil {
		t.Fatalf("Suspend() error: %v", err)
	}

	// The suspension only covers the primary; the secondary serves.
	result, err := gov.CheckAndReserve(ctx, "imperium", 50)
	if err != nil {
		t.Fatalf("CheckAndReserve() error: %v", err)
	}
	if !result.Granted || result.Provider != "openai" {
		t.Fatalf("granted=%v provider=%q, want openai", result.Granted, result.Provider)
	}
	result.Release()

	if err := gov.Resume(ctx, "anthropic", "imperium"); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	result, err = gov.CheckAndReserve(ctx, "imperium", 50)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Granted || result.Provider != "anthropic" {
		t.Fatalf("granted=%v provider=%q, want anthropic after resume", result.Granted, result.Provider)
	}
	result.Release()
}

func TestGovernor_ResetAgent(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	result, err := gov.CheckAndReserve(ctx, "imperium", 100)
	if err != nil || !result.Granted {
		t.Fatalf("seed grant failed: %v %v", err, result)
	}
	result.Release()

	if err := gov.ResetAgent(ctx, "anthropic", "imperium"); err != nil {
		t.Fatalf("ResetAgent() error: %v", err)
	}

	view, err := gov.AgentUsage(ctx, "anthropic", "imperium")
	if err != nil {
		t.Fatal(err)
	}
	if view != nil && view.TotalTokens != 0 {
		t.Errorf("usage after reset = %d, want 0", view.TotalTokens)
	}
}

func TestGovernor_Summary(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	result, err := gov.CheckAndReserve(ctx, "imperium", 100)
	if err != nil || !result.Granted {
		t.Fatalf("seed grant failed: %v", err)
	}
	result.Release()

	summary, err := gov.Summary(ctx, "anthropic")
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if summary.TotalTokens != 100 {
		t.Errorf("TotalTokens = %d, want 100", summary.TotalTokens)
	}
	// The primary's summary carries the emergency state.
	if summary.Emergency == nil {
		t.Error("primary summary should include emergency state")
	}

	secondary, err := gov.Summary(ctx, "openai")
	if err != nil {
		t.Fatal(err)
	}
	if secondary.Emergency != nil {
		t.Error("secondary summary should omit emergency state")
	}

	if _, err := gov.Summary(ctx, "unknown"); err == nil {
		t.Error("Summary() should reject an unknown provider")
	}
}

func TestGovernor_EmergencyStatus(t *testing.T) {
	gov := newTestGovernor(t)

	status, err := gov.EmergencyStatus(context.Background())
	if err != nil {
		t.Fatalf("EmergencyStatus() error: %v", err)
	}
	if status.Active {
		t.Error("throttle active on a fresh ledger")
	}
	if status.EnforcedCap != 1000 {
		t.Errorf("EnforcedCap = %d, want 1000", status.EnforcedCap)
	}
}

func TestGovernor_Reload(t *testing.T) {
	gov := newTestGovernor(t)
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Providers[0].PerRequestCap = 10
	if err := gov.Reload(cfg); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	// The tightened cap applies to the primary; the secondary kept its
	// old cap from the reloaded config, which still allows 50.
	result, err := gov.CheckAndReserve(ctx, "imperium", 50)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Granted || result.Provider != "openai" {
		t.Fatalf("granted=%v provider=%q, want openai to absorb the oversized request", result.Granted, result.Provider)
	}
	result.Release()
}

func TestGovernor_ReloadRejectsInvalidConfig(t *testing.T) {
	gov := newTestGovernor(t)

	cfg := testConfig(t)
	cfg.Providers[0].MonthlyCap = -5
	if err := gov.Reload(cfg); err == nil {
		t.Fatal("Reload() should reject an invalid config")
	}

	// The previous policy is still in force.
	result, err := gov.CheckAndReserve(context.Background(), "imperium", 100)
	if err != nil || !result.Granted {
		t.Fatalf("grant after failed reload: %v", err)
	}
	result.Release()
}

func TestGovernor_Prune(t *testing.T) {
	gov := newTestGovernor(t)

	deleted, err := gov.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("fresh ledger pruned %d entries", deleted)
	}
}

func TestGovernor_MetricsHandler(t *testing.T) {
	gov := newTestGovernor(t)
	if gov.MetricsHandler() == nil {
		t.Fatal("MetricsHandler() returned nil")
	}
}
