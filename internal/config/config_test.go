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
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Profile.Attempts != 5 || cfg.Profile.IntervalMS != 500 {
		t.Fatalf("unexpected profile polling defaults: %+v", cfg.Profile)
	}
	if cfg.Session.SentinelToken != "[SESSION_END]" {
		t.Fatalf("unexpected sentinel %q", cfg.Session.SentinelToken)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intake.yaml")
	body := []byte(`runtime_name: clinic-a
report:
  backend_url: https://reports.example.test/api
  synthesis_timeout_ms: 5000
session:
  sentinel_token: "<<done>>"
  idle_timeout_ms: 90000
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "clinic-a" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Report.BackendURL != "https://reports.example.test/api" {
		t.Fatalf("unexpected backend url %q", cfg.Report.BackendURL)
	}
	if cfg.Report.MaxTokens != 1024 {
		t.Fatalf("expected untouched default max tokens, got %d", cfg.Report.MaxTokens)
	}
	if cfg.Session.SentinelToken != "<<done>>" || cfg.Session.IdleTimeoutMS != 90000 {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INTAKE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("INTAKE_BUS_USERNAME", "alice")
	t.Setenv("INTAKE_BUS_PASSWORD", "secret")
	t.Setenv("INTAKE_BUS_TLS_INSECURE", "true")
	t.Setenv("INTAKE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("INTAKE_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("INTAKE_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("INTAKE_PROFILE_ATTEMPTS", "3")
	t.Setenv("INTAKE_PROFILE_INTERVAL_MS", "250")
	t.Setenv("INTAKE_LLM_MODE", "ollama")
	t.Setenv("INTAKE_LLM_TEMPERATURE", "0.4")
	t.Setenv("INTAKE_REPORT_BACKEND_URL", "http://backend:5000/api")
	t.Setenv("INTAKE_SESSION_IDLE_TIMEOUT_MS", "120000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store override, got %+v", cfg.EventStore)
	}
	if cfg.Profile.Attempts != 3 || cfg.Profile.IntervalMS != 250 {
		t.Fatalf("expected profile override, got %+v", cfg.Profile)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Temperature != 0.4 {
		t.Fatalf("expected llm override, got %+v", cfg.LLM)
	}
	if cfg.Report.BackendURL != "http://backend:5000/api" {
		t.Fatalf("expected backend override, got %q", cfg.Report.BackendURL)
	}
	if cfg.Session.IdleTimeoutMS != 120000 {
		t.Fatalf("expected idle timeout override, got %d", cfg.Session.IdleTimeoutMS)
	}
}

func TestValidateRejectsHostedLLMWithoutKey(t *testing.T) {
	t.Setenv("INTAKE_LLM_MODE", "gemini")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for gemini without api key")
	}
	t.Setenv("INTAKE_LLM_API_KEY", "k")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error with api key: %v", err)
	}
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	t.Setenv("INTAKE_PROFILE_ATTEMPTS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for zero attempts")
	}
}
