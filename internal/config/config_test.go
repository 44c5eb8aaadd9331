package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_CP_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":50051" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Server.MaxRecvMsgBytes != 16<<20 {
		t.Fatalf("unexpected receive cap %d", cfg.Server.MaxRecvMsgBytes)
	}
	if cfg.Sampler.Draws != 1000 || cfg.Sampler.Chains != 2 || cfg.Sampler.TargetAccept != 0.44 {
		t.Fatalf("sampler defaults not applied: %+v", cfg.Sampler)
	}
	if cfg.Sampler.Priors.MeanScale != 10 || cfg.Sampler.Priors.SDScale != 1 {
		t.Fatalf("prior defaults not applied: %+v", cfg.Sampler.Priors)
	}
	if cfg.Preprocess.OutlierThreshold != 5 {
		t.Fatalf("unexpected outlier threshold %v", cfg.Preprocess.OutlierThreshold)
	}
}

func TestLoadFileWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  address: ":6000"
sampler:
  draws: 250
  chains: 4
  priors:
    meanScale: 3
limits:
  maxRunTime: 30s
cache:
  enabled: true
  backend: memory
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MIRADOR_CP_SAMPLER_SEED", "99")
	t.Setenv("MIRADOR_CP_LOG_LEVEL", "debug")
	t.Setenv("MIRADOR_CP_OUTLIER_THRESHOLD", "0")
	t.Setenv("MIRADOR_CP_STORE_ENABLED", "true")
	t.Setenv("MIRADOR_CP_STORE_DSN", "postgres://cp@localhost/cp?sslmode=disable")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":6000" {
		t.Fatalf("file value not applied: %q", cfg.Server.Address)
	}
	if cfg.Sampler.Draws != 250 || cfg.Sampler.Chains != 4 {
		t.Fatalf("sampler overlay not applied: %+v", cfg.Sampler)
	}
	if cfg.Sampler.TuningIterations != 1000 {
		t.Fatalf("unset sampler fields must keep defaults, got %d", cfg.Sampler.TuningIterations)
	}
	if cfg.Sampler.Priors.MeanScale != 3 || cfg.Sampler.Priors.SDScale != 1 {
		t.Fatalf("prior overlay wrong: %+v", cfg.Sampler.Priors)
	}
	if cfg.Sampler.Seed != 99 {
		t.Fatalf("env seed not applied: %d", cfg.Sampler.Seed)
	}
	if cfg.Limits.MaxRunTime != 30*time.Second {
		t.Fatalf("unexpected max run time %v", cfg.Limits.MaxRunTime)
	}
	if cfg.Preprocess.OutlierThreshold != 0 {
		t.Fatalf("env outlier threshold not applied: %v", cfg.Preprocess.OutlierThreshold)
	}
	if cfg.Logging.Level != "debug" || !cfg.Store.Enabled {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Logging, cfg.Store)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("MIRADOR_CP_STORE_ENABLED", "true")
	t.Setenv("MIRADOR_CP_STORE_DSN", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error for store without dsn")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
