package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
database:
  dsn: ":memory:"
auth:
  admin_token: sekret
providers:
  - name: openai
    base_url: https://api.openai.com/v1
    default_model: gpt-4o
keys:
  - provider: openai
    display_name: primary
    api_key: sk-test
    priority: 1
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn = %q, want %q", cfg.Database.DSN, ":memory:")
	}
	if cfg.Auth.AdminToken != "sekret" {
		t.Errorf("admin_token = %q, want %q", cfg.Auth.AdminToken, "sekret")
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Name != "openai" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if len(cfg.Keys) != 1 || cfg.Keys[0].APIKey != "sk-test" {
		t.Fatalf("keys = %+v", cfg.Keys)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("api_key: ${TEST_API_KEY}"))
	if string(result) != "api_key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(result), "api_key: sk-secret-123")
	}
}

func TestExpandEnv_LeavesUnknownVarUntouched(t *testing.T) {
	t.Parallel()

	result := expandEnv([]byte("api_key: ${NOT_SET_ANYWHERE}"))
	if string(result) != "api_key: ${NOT_SET_ANYWHERE}" {
		t.Errorf("expandEnv = %q, want unchanged", string(result))
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Database.DSN != "gateway.db" {
		t.Errorf("default dsn = %q, want %q", cfg.Database.DSN, "gateway.db")
	}
	if cfg.KeyPool.RPMWindowSeconds != 60 {
		t.Errorf("default rpm window = %d, want 60", cfg.KeyPool.RPMWindowSeconds)
	}
	if cfg.SyncChat.MaxRetries != 2 {
		t.Errorf("default sync retries = %d, want 2", cfg.SyncChat.MaxRetries)
	}
	if cfg.SyncChat.DefaultMaxTokens != 1024 {
		t.Errorf("default max tokens = %d, want 1024", cfg.SyncChat.DefaultMaxTokens)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("default worker max attempts = %d, want 5", cfg.Worker.MaxAttempts)
	}
}
