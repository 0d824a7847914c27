package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(PathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DATABASE_URL", "postgres://localhost/cfgvault")
	t.Setenv("CFGVAULT_ARCHIVE_PASSWORD", "s3cret")
}

func TestLoad_DefaultsWithRequiredEnv(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTP.Addr != ":8081" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Poll.Delay != time.Second || cfg.Poll.MaxAttempts != 120 {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Poll)
	}
	if cfg.Archive.Password != "s3cret" {
		t.Fatalf("expected archive password from env, got %q", cfg.Archive.Password)
	}
	if cfg.Database.URL != "postgres://localhost/cfgvault" {
		t.Fatalf("expected legacy DATABASE_URL to apply, got %q", cfg.Database.URL)
	}
}

func TestLoad_PrefixedEnvOverridesNestedKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("CFGVAULT_POLL_MAX_ATTEMPTS", "7")
	t.Setenv("CFGVAULT_POLL_DELAY", "250ms")
	t.Setenv("CFGVAULT_TLS_INSECURE_SKIP_VERIFY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Poll.MaxAttempts != 7 {
		t.Fatalf("expected max attempts 7, got %d", cfg.Poll.MaxAttempts)
	}
	if cfg.Poll.Delay != 250*time.Millisecond {
		t.Fatalf("expected delay 250ms, got %s", cfg.Poll.Delay)
	}
	if !cfg.TLS.InsecureSkipVerify {
		t.Fatalf("expected insecure_skip_verify true")
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "http:\n  addr: \":9000\"\nscheduler:\n  tick: 3s\narchive:\n  password: from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(PathEnvVar, path)
	t.Setenv("DATABASE_URL", "postgres://localhost/cfgvault")
	t.Setenv("HTTP_ADDR", ":9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("expected env to win over file, got %q", cfg.HTTP.Addr)
	}
	if cfg.Scheduler.Tick != 3*time.Second {
		t.Fatalf("expected tick from file, got %s", cfg.Scheduler.Tick)
	}
	if cfg.Archive.Password != "from-file" {
		t.Fatalf("expected password from file, got %q", cfg.Archive.Password)
	}
}

func TestValidate_ReportsMissingSecrets(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"database.url", "archive.password"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestPrefixedKey(t *testing.T) {
	cases := map[string]string{
		"CFGVAULT_POLL_MAX_ATTEMPTS": "poll.max_attempts",
		"CFGVAULT_HTTP_ADDR":         "http.addr",
		"CFGVAULT_CONFIG":            "",
		"CFGVAULT_NOSECTION":         "",
	}
	for in, want := range cases {
		if got := prefixedKey(in); got != want {
			t.Fatalf("prefixedKey(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestLoad_LogFormat(t *testing.T) {
	setRequired(t)
	t.Setenv("CFGVAULT_LOG_FORMAT", "console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Log.Format != "console" {
		t.Fatalf("expected console format, got %q", cfg.Log.Format)
	}

	t.Setenv("CFGVAULT_LOG_FORMAT", "xml")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "log.format") {
		t.Fatalf("expected log.format error, got %v", err)
	}
}
