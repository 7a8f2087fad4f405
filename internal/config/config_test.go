package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfigFile(t, "app:\n  environment: test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Environment != "test" {
		t.Errorf("expected file value to win, got %q", cfg.App.Environment)
	}
	if cfg.Strategy.DeviationThreshold != 0.002 {
		t.Errorf("expected default deviation threshold, got %f", cfg.Strategy.DeviationThreshold)
	}
	if cfg.Strategy.HoldDuration != 3*time.Second {
		t.Errorf("expected hold duration 3s, got %v", cfg.Strategy.HoldDuration)
	}
	if cfg.Risk.MinTradeInterval != 5*time.Second || cfg.Risk.MaxTradeInterval != 60*time.Second {
		t.Errorf("unexpected trade interval defaults: %v / %v",
			cfg.Risk.MinTradeInterval, cfg.Risk.MaxTradeInterval)
	}
	if cfg.Stream.PingInterval != 30*time.Second {
		t.Errorf("expected ping interval 30s, got %v", cfg.Stream.PingInterval)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
strategy:
  symbols:
    - ETH-USDT
    - BTC-USDT
  hold_duration: 10s
risk:
  max_trades_per_day: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if len(cfg.Strategy.Symbols) != 2 || cfg.Strategy.Symbols[0] != "ETH-USDT" {
		t.Errorf("unexpected symbols: %v", cfg.Strategy.Symbols)
	}
	if cfg.Strategy.HoldDuration != 10*time.Second {
		t.Errorf("expected hold duration override, got %v", cfg.Strategy.HoldDuration)
	}
	if cfg.Risk.MaxTradesPerDay != 50 {
		t.Errorf("expected trade cap override, got %d", cfg.Risk.MaxTradesPerDay)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation failure for zero config")
	}

	message := err.Error()
	for _, want := range []string{"app.environment", "strategy.symbols", "risk.target_volatility"} {
		if !strings.Contains(message, want) {
			t.Errorf("expected aggregated error to mention %s:\n%s", want, message)
		}
	}
}

func TestValidate_EnablePrivateRequiresAccount(t *testing.T) {
	path := writeConfigFile(t, "stream:\n  enable_private: true\n")

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "account_id") {
		t.Fatalf("expected account_id requirement, got %v", err)
	}
}

func TestMinOrderSize(t *testing.T) {
	cfg := StrategyConfig{MinOrderSizes: map[string]float64{"BTC-USDT": 0.001}}

	if got := cfg.MinOrderSize("BTC-USDT"); got != 0.001 {
		t.Errorf("got %f want 0.001", got)
	}
	if got := cfg.MinOrderSize("ETH-USDT"); got != 0 {
		t.Errorf("expected 0 for unconfigured symbol, got %f", got)
	}
}
