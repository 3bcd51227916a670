package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gateway.DefaultModel != "zipformer" {
		t.Fatalf("expected default model zipformer, got %q", cfg.Gateway.DefaultModel)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 default models, got %d", len(cfg.Models))
	}
	fast, ok := cfg.Model("zipformer")
	if !ok || fast.Policy.DecodeIntervalMS != 200 {
		t.Fatalf("expected interval-gated default model, got %+v", fast)
	}
	vad, ok := cfg.Model("phowhisper")
	if !ok || vad.Policy.SilenceThreshold != 5e-4 {
		t.Fatalf("expected vad default model, got %+v", vad)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOX_HTTP_PORT", "9999")
	t.Setenv("VOX_BUS_ENABLED", "true")
	t.Setenv("VOX_BUS_EMBEDDED", "false")
	t.Setenv("VOX_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOX_BUS_USERNAME", "alice")
	t.Setenv("VOX_BUS_PASSWORD", "secret")
	t.Setenv("VOX_STORE_PATH", "./tmp.db")
	t.Setenv("VOX_STORE_RETENTION_MODE", "persistent")
	t.Setenv("VOX_STORE_RETENTION_DAYS", "7")
	t.Setenv("VOX_SUPERVISOR_IDLE_TTL_MS", "12345")
	t.Setenv("VOX_GATEWAY_DEFAULT_MODEL", "phowhisper")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTP.Port != 9999 {
		t.Fatalf("expected http port override, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Store.Path != "./tmp.db" || cfg.Store.RetentionMode != "persistent" || cfg.Store.RetentionDays != 7 {
		t.Fatalf("expected store overrides, got %+v", cfg.Store)
	}
	if cfg.Supervisor.IdleTTLMS != 12345 {
		t.Fatalf("expected idle ttl override, got %d", cfg.Supervisor.IdleTTLMS)
	}
	if cfg.Gateway.DefaultModel != "phowhisper" {
		t.Fatalf("expected default model override, got %q", cfg.Gateway.DefaultModel)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vox.yaml")
	data := []byte(`
runtime_name: vox-test
gateway:
  default_model: whisper-small
models:
  - id: whisper-small
    strategy: vad
    mode: mock
    sample_rate: 16000
    policy:
      min_duration_ms: 2000
      max_duration_ms: 10000
      silence_threshold: 0.0005
      silence_window_ms: 400
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "vox-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	m, ok := cfg.Model("whisper-small")
	if !ok {
		t.Fatal("expected whisper-small model from file")
	}
	if m.Policy.MaxDurationMS != 10000 {
		t.Fatalf("expected policy from file, got %+v", m.Policy)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := Default()
	cfg.Models[1].Policy.MaxDurationMS = 100 // below min_duration_ms
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for max < min")
	}

	cfg = Default()
	cfg.Models[0].Strategy = "turbo"
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown strategy")
	}

	cfg = Default()
	cfg.Gateway.DefaultModel = "missing"
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown default model")
	}
}
