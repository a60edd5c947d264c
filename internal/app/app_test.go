package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// setTestEnv は外部環境の影響を受けないように設定用の環境変数を初期化する。
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("LOG_LEVEL", "info")
	t.Setenv("OTEL_ENABLED", "false")
}

func TestInit_WithDefaultConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, log, err := Init(&buf, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || log == nil {
		t.Fatal("expected non-nil config and logger")
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	_, log, err := Init(&buf, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	buf.Reset()
	log.Info("suppressed")
	log.Error("emitted")
	if strings.Contains(buf.String(), "suppressed") {
		t.Error("info log should be suppressed at error level")
	}
	if !strings.Contains(buf.String(), "emitted") {
		t.Error("error log should be emitted")
	}
}

func TestInit_WithInvalidConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("GITHUB_TIMEOUT", "soon")

	var buf bytes.Buffer
	cfg, _, err := Init(&buf, "")
	if err == nil {
		t.Fatal("expected error for invalid GITHUB_TIMEOUT, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestInit_NegativeWeight_WarnsButSucceeds(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SCORER_RECENCY_WEIGHT", "-1")

	var buf bytes.Buffer
	cfg, _, err := Init(&buf, "")
	if err != nil {
		t.Fatalf("negative weights must not fail startup, got %v", err)
	}
	if !cfg.HasNegativeWeight() {
		t.Error("HasNegativeWeight should be true")
	}
	if !strings.Contains(buf.String(), `"level":"WARN"`) || !strings.Contains(buf.String(), "negative score weight") {
		t.Errorf("expected startup warning, got %s", buf.String())
	}
}

func TestInit_WithConfigFile(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SERVER_PORT", "")

	path := filepath.Join(t.TempDir(), "reposcorer.yaml")
	if err := os.WriteFile(path, []byte("server_port: 9393\n"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	var buf bytes.Buffer
	cfg, _, err := Init(&buf, path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ServerPort != "9393" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "9393")
	}
}

func TestSetupTracing_DisabledIsNoop(t *testing.T) {
	setTestEnv(t)
	var buf bytes.Buffer
	cfg, log, err := Init(&buf, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	shutdown, err := setupTracing(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}

func TestBuildComponents_RegistersMetrics(t *testing.T) {
	setTestEnv(t)
	var buf bytes.Buffer
	cfg, log, err := Init(&buf, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	comp, err := buildComponents(cfg, log)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if comp.service == nil || comp.collector == nil {
		t.Fatal("expected service and collector to be built")
	}

	comp.collector.RecordRateLimited()
	families, err := comp.registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "reposcorer_rate_limited_total" {
			found = true
		}
	}
	if !found {
		t.Error("reposcorer_rate_limited_total should be registered")
	}
}
