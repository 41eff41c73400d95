package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("VOICELINK_CONFIG")
	defer os.Setenv("VOICELINK_CONFIG", originalEnv)

	os.Setenv("VOICELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when the database path
// is empty (rejected by config validation before anything connects).
func TestRun_MissingDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
service:
  id: test-voicelink

database:
  path: ""
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
    tls: false
  qos: 1

agent:
  api_base: "http://127.0.0.1:9000/v1"
  api_key: "test-key"
  model: "test-model"

logging:
  level: error
  format: text
  output: stdout

security:
  jwt:
    secret: "test-secret-key-at-least-32-characters-long"
  operator:
    password_hash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdHNhbHQ$aGFzaGhhc2hoYXNoaGFzaA"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	originalEnv := os.Getenv("VOICELINK_CONFIG")
	defer os.Setenv("VOICELINK_CONFIG", originalEnv)
	os.Setenv("VOICELINK_CONFIG", configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want database.path validation failure", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	originalEnv := os.Getenv("VOICELINK_CONFIG")
	defer os.Setenv("VOICELINK_CONFIG", originalEnv)

	os.Unsetenv("VOICELINK_CONFIG")

	path := getConfigPath()
	if path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	originalEnv := os.Getenv("VOICELINK_CONFIG")
	defer os.Setenv("VOICELINK_CONFIG", originalEnv)

	expected := "/custom/path/config.yaml"
	os.Setenv("VOICELINK_CONFIG", expected)

	path := getConfigPath()
	if path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// TestBuildHooks_NilTelemetry verifies every hook is populated and the
// telemetry-only hooks tolerate a disabled telemetry client.
func TestBuildHooks_NilTelemetry(t *testing.T) {
	hooks := buildHooks(nil, nil)
	if hooks.Tool == nil || hooks.Turn == nil || hooks.Session == nil {
		t.Fatal("buildHooks() should populate every hook")
	}

	// Turn and Session are telemetry-only; with telemetry disabled they
	// must be safe no-ops.
	hooks.Turn("dev-1", time.Second, 3, false)
	hooks.Session("dev-1", true)
}
