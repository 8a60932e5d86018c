package payout

import (
	"context"
	"flag"
	"os"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("payout", flag.ContinueOnError)
	t.Setenv("PAYOUTCORE_PAYOUT_PORT", "9099")
	t.Setenv("PAYOUTCORE_HOURLY_LIMIT", "7")

	cfg, err := ParseConfig(fs, []string{"-facilitator-mode", "production", "-max-payout", "500"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9099 {
		t.Fatalf("port = %d, want 9099", cfg.Port)
	}
	if cfg.HourlyLimit != 7 {
		t.Fatalf("hourly limit = %d, want 7", cfg.HourlyLimit)
	}
	if cfg.FacilitatorMode != "production" {
		t.Fatalf("facilitator mode = %q, want production", cfg.FacilitatorMode)
	}
	if cfg.MaxPayout != 500 {
		t.Fatalf("max payout = %d, want 500", cfg.MaxPayout)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("payout", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.MaxPayout != 1_000_000_000_000 {
		t.Fatalf("max payout = %d", cfg.MaxPayout)
	}
	if cfg.LockdownFor != 30*time.Minute || cfg.WalletInterval != time.Minute || cfg.FailureLimit != 3 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Network != "solana-devnet" || cfg.DBPath != "data/payout.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseConfig_UnsetsSecrets(t *testing.T) {
	t.Setenv("PAYOUTCORE_ADMIN_SECRET", "open-sesame")
	t.Setenv("PAYOUTCORE_FACILITATOR_KEY_SECRET", "facilitator-seed")

	cfg, err := ParseConfig(flag.NewFlagSet("payout", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.AdminSecret != "open-sesame" || cfg.FacilitatorKeySecret != "facilitator-seed" {
		t.Fatalf("cfg = %+v", cfg)
	}
	for _, key := range []string{"PAYOUTCORE_ADMIN_SECRET", "PAYOUTCORE_FACILITATOR_KEY_SECRET"} {
		if _, ok := os.LookupEnv(key); ok {
			t.Fatalf("expected %s to be removed", key)
		}
	}
}

func TestRunRequiresCustodialSecret(t *testing.T) {
	t.Setenv(SecretEnv, "")
	if err := Run(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without custodial secret")
	}
	if _, ok := os.LookupEnv(SecretEnv); ok {
		t.Fatal("expected secret variable to be removed")
	}
}
