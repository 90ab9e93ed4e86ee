package config

import "testing"

func TestLoad_DefaultsAndModeHelpers(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected IsDev true by default")
	}
	if cfg.IsProd() || cfg.IsTest() {
		t.Fatalf("expected IsProd and IsTest false by default")
	}
	if cfg.AdminEnabled() {
		t.Fatalf("expected AdminEnabled false by default")
	}
	if cfg.DefaultBatchSize != 5 {
		t.Fatalf("expected default batch size 5, got %d", cfg.DefaultBatchSize)
	}
	if len(cfg.RedpandaBrokers) != 1 || cfg.RedpandaBrokers[0] != "localhost:9092" {
		t.Fatalf("unexpected broker default: %+v", cfg.RedpandaBrokers)
	}
}

func TestLoad_EnvOverridesAndAdminEnabled(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("ADMIN_ENABLED", "true")
	t.Setenv("REDPANDA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("QC_SAMPLE_FRACTION", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load err: %v", err)
	}
	if !cfg.IsProd() || cfg.IsDev() {
		t.Fatalf("expected IsProd true after APP_ENV=prod")
	}
	if !cfg.AdminEnabled() {
		t.Fatalf("expected AdminEnabled true")
	}
	if len(cfg.RedpandaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %+v", cfg.RedpandaBrokers)
	}
	if cfg.DefaultSampleFraction != 0.25 {
		t.Fatalf("expected sample fraction 0.25, got %v", cfg.DefaultSampleFraction)
	}
}

func TestRemainderPolicyEnum(t *testing.T) {
	cases := map[string]string{
		"auto_approved":  "auto_approved",
		"auto_approve":   "auto_approved",
		"auto_rejected":  "auto_rejected",
		"auto_reject":    "auto_rejected",
		"queued_for_qc":  "queued_for_qc",
		"something_else": "queued_for_qc",
		"":               "queued_for_qc",
	}
	for raw, want := range cases {
		cfg := Config{DefaultRemainderPolicy: raw}
		if got := cfg.RemainderPolicyEnum(); got != want {
			t.Fatalf("RemainderPolicyEnum(%q) = %q, want %q", raw, got, want)
		}
	}
}
