package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_DefaultsAndRequired(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"WA_PHONE_NUMBER_ID": "10001",
		"WA_ACCESS_TOKEN":    "tok",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.WAAPIVersion != "v21.0" || !cfg.WAMarkAsRead || cfg.WASendRate != 0 {
		t.Fatalf("unexpected whatsapp defaults %+v", cfg)
	}
	if cfg.WAHTTPTimeout != 30*time.Second || cfg.Port != "8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ContextBackend != BackendMemory || cfg.ContextTTL != 0 {
		t.Fatalf("unexpected context defaults %+v", cfg)
	}
	if len(cfg.WAVerifyToken) != 32 {
		t.Fatalf("expected generated 32-char verify token, got %q", cfg.WAVerifyToken)
	}
	if cfg.BoltPath() != filepath.Join(".", "wabot.db") {
		t.Fatalf("unexpected bolt path %q", cfg.BoltPath())
	}

	if _, err := Parse(map[string]string{"WA_ACCESS_TOKEN": "tok"}); err == nil {
		t.Fatalf("expected error without WA_PHONE_NUMBER_ID")
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"WA_PHONE_NUMBER_ID": "10001",
		"WA_ACCESS_TOKEN":    "tok",
		"WA_VERIFY_TOKEN":    "verify",
		"WA_MARK_AS_READ":    "false",
		"WA_SEND_RATE":       "12.5",
		"WA_HTTP_TIMEOUT":    "5s",
		"CONTEXT_BACKEND":    "bolt",
		"CONTEXT_TTL":        "1h",
		"DATA_DIR":           "/var/lib/wabot",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.WAVerifyToken != "verify" || cfg.WAMarkAsRead || cfg.WASendRate != 12.5 {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.WAHTTPTimeout != 5*time.Second || cfg.ContextTTL != time.Hour {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.BoltPath() != "/var/lib/wabot/wabot.db" {
		t.Fatalf("unexpected bolt path %q", cfg.BoltPath())
	}
}

func TestParse_Invalid(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{"WA_PHONE_NUMBER_ID": "1", "WA_ACCESS_TOKEN": "t"}
	}

	env := base()
	env["CONTEXT_BACKEND"] = "redis"
	if _, err := Parse(env); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	env = base()
	env["WA_SEND_RATE"] = "-1"
	if _, err := Parse(env); err == nil {
		t.Fatalf("expected error for negative send rate")
	}

	env = base()
	env["WA_HTTP_TIMEOUT"] = "soon"
	if _, err := Parse(env); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "WA_PHONE_NUMBER_ID=10001\nWA_ACCESS_TOKEN=tok\n# comment\nPORT=9090\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.WAPhoneNumberID != "10001" || cfg.Port != "9090" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
