package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Parallel()

	cfg := FromEnv(func(string) string { return "" })
	if cfg.Port != "8080" || cfg.MongoDB != "crowdfund" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.KafkaBrokers != nil {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.Policy != DefaultPolicy() {
		t.Fatalf("policy: got %+v", cfg.Policy)
	}
	if !cfg.IsDev() {
		t.Fatalf("expected dev env by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"PORT":                 "9000",
		"ENV":                  "production",
		"KAFKA_BROKERS":        "k1:9092, k2:9092,",
		"MANUAL_VOTING_PERIOD": "1h",
		"SWEEP_INTERVAL":       "nope",
		"AUTO_CANCEL_GRACE":    "-5m",
		"RECOVERY_DEADLINE":    "240h",
	}
	cfg := FromEnv(func(k string) string { return env[k] })

	if cfg.Port != "9000" || cfg.IsDev() {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: got %v", cfg.KafkaBrokers)
	}
	if cfg.Policy.ManualVotingPeriod != time.Hour {
		t.Fatalf("manual voting: got %v", cfg.Policy.ManualVotingPeriod)
	}
	if cfg.Policy.SweepInterval != 6*time.Hour {
		t.Fatalf("invalid override should be ignored, got %v", cfg.Policy.SweepInterval)
	}
	if cfg.Policy.AutoCancelGrace != 48*time.Hour {
		t.Fatalf("negative override should be ignored, got %v", cfg.Policy.AutoCancelGrace)
	}
	if cfg.Policy.RecoveryDeadline != 240*time.Hour {
		t.Fatalf("recovery deadline: got %v", cfg.Policy.RecoveryDeadline)
	}
}
