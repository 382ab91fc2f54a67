package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
storage:
  data_dir: /tmp/backlab-data
  sqlite_path: /tmp/backlab.db
server:
  host: 0.0.0.0
  port: 9000
alpaca:
  api_key: test-key
  api_secret: test-secret
logging:
  level: debug
gather:
  symbols: [AAPL, MSFT]
  start_date: "2020-01-02"
backtest:
  initial_capital: 50000
  periods_per_year: 365
  risk_free_rate: 0.03
optimizer:
  max_combinations: 2000
  top_k: 50
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backlab.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/backlab-data" {
		t.Errorf("DataDir = %q, want /tmp/backlab-data", cfg.Storage.DataDir)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Alpaca.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want test-key", cfg.Alpaca.APIKey)
	}
	if len(cfg.Gather.Symbols) != 2 || cfg.Gather.Symbols[0] != "AAPL" {
		t.Errorf("Gather.Symbols = %v, want [AAPL MSFT]", cfg.Gather.Symbols)
	}
	if cfg.Backtest.InitialCapital != 50000 {
		t.Errorf("InitialCapital = %v, want 50000", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.PeriodsPerYear != 365 {
		t.Errorf("PeriodsPerYear = %v, want 365", cfg.Backtest.PeriodsPerYear)
	}
	if cfg.Optimizer.MaxCombinations != 2000 {
		t.Errorf("MaxCombinations = %d, want 2000", cfg.Optimizer.MaxCombinations)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backtest.InitialCapital != 100000 {
		t.Errorf("default InitialCapital = %v, want 100000", cfg.Backtest.InitialCapital)
	}
	if cfg.Backtest.PeriodsPerYear != 252 {
		t.Errorf("default PeriodsPerYear = %v, want 252", cfg.Backtest.PeriodsPerYear)
	}
	if cfg.Optimizer.MaxCombinations != 5000 {
		t.Errorf("default MaxCombinations = %d, want 5000", cfg.Optimizer.MaxCombinations)
	}
	if cfg.Optimizer.TopK != 100 {
		t.Errorf("default TopK = %d, want 100", cfg.Optimizer.TopK)
	}
	if cfg.Server.Port != 8420 {
		t.Errorf("default Port = %d, want 8420", cfg.Server.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want /env/data", cfg.Storage.DataDir)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Level = %q, want error", cfg.Logging.Level)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key (APCA var wins)", cfg.Alpaca.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}
