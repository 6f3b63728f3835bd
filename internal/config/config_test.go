package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "LOG_LEVEL", "HTTP_ADDR", "DATABASE_URL", "REDIS_URL",
		"GITHUB_WEBHOOK_SECRET", "GITHUB_TOKEN", "GITHUB_API_BASE_URL",
		"LLM_PROVIDER", "LLM_MODEL", "LLM_MAX_TOKENS", "LLM_MAX_RETRIES", "LLM_API_KEY",
		"SANDBOX_IMAGE", "SANDBOX_MEMORY_LIMIT_MB", "SANDBOX_CPU_LIMIT",
		"SANDBOX_TIMEOUT_SECONDS", "SANDBOX_NETWORK_ENABLED", "FAIL_ON_VULN_SEVERITY",
		"SAFETY_POLICY_PATH", "ARTIFACTS_DIR", "MAX_PIPELINE_ATTEMPTS",
		"REPO_PIPELINE_CONCURRENCY_LIMIT", "BASE_BACKOFF_SECONDS", "MAX_BACKOFF_SECONDS",
		"COOLDOWN_SECONDS", "WORKER_COUNT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != "development" || cfg.IsProduction() {
		t.Fatalf("default environment = %q", cfg.Environment)
	}
	if cfg.HTTPAddr != ":8080" || cfg.WorkerCount != 4 {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	if cfg.Pipeline.MaxAttempts != 3 || cfg.Pipeline.RepoConcurrencyLimit != 2 {
		t.Fatalf("pipeline defaults wrong: %+v", cfg.Pipeline)
	}
	if cfg.Sandbox.NetworkEnabled {
		t.Fatalf("sandbox network must default off")
	}
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	_, err := Load()
	if err == nil {
		t.Fatalf("production without secrets must fail")
	}
	for _, want := range []string{"DATABASE_URL", "GITHUB_WEBHOOK_SECRET", "GITHUB_TOKEN"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error should name %s: %v", want, err)
		}
	}
}

func TestLoad_ProductionComplete(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DATABASE_URL", "postgres://sre:sre@db/sre_agent")
	t.Setenv("GITHUB_WEBHOOK_SECRET", "whsec")
	t.Setenv("GITHUB_TOKEN", "token")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("IsProduction false")
	}
}

func TestLoad_ParsesNumbersAndDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_PIPELINE_ATTEMPTS", "5")
	t.Setenv("BASE_BACKOFF_SECONDS", "10")
	t.Setenv("MAX_BACKOFF_SECONDS", "600")
	t.Setenv("SANDBOX_CPU_LIMIT", "1.5")
	t.Setenv("SANDBOX_NETWORK_ENABLED", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d", cfg.Pipeline.MaxAttempts)
	}
	if cfg.Pipeline.BaseBackoff.Seconds() != 10 || cfg.Pipeline.MaxBackoff.Seconds() != 600 {
		t.Fatalf("backoff wrong: %+v", cfg.Pipeline)
	}
	if cfg.Sandbox.CPULimit != 1.5 || !cfg.Sandbox.NetworkEnabled {
		t.Fatalf("sandbox wrong: %+v", cfg.Sandbox)
	}
}

func TestLoad_AccumulatesErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_PIPELINE_ATTEMPTS", "not-a-number")
	t.Setenv("WORKER_COUNT", "also-bad")
	_, err := Load()
	if err == nil {
		t.Fatalf("bad values must fail")
	}
	if !strings.Contains(err.Error(), "MAX_PIPELINE_ATTEMPTS") || !strings.Contains(err.Error(), "WORKER_COUNT") {
		t.Fatalf("both errors should be reported: %v", err)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"bad environment":   {"ENVIRONMENT", "staging"},
		"bad severity":      {"FAIL_ON_VULN_SEVERITY", "EXTREME"},
		"zero attempts":     {"MAX_PIPELINE_ATTEMPTS", "0"},
		"zero concurrency":  {"REPO_PIPELINE_CONCURRENCY_LIMIT", "0"},
		"zero workers":      {"WORKER_COUNT", "0"},
		"inverted backoffs": {"MAX_BACKOFF_SECONDS", "1"},
	}
	for name, kv := range cases {
		clearEnv(t)
		t.Setenv(kv[0], kv[1])
		if _, err := Load(); err == nil {
			t.Fatalf("%s accepted", name)
		}
	}
}

func TestLoad_MissingPolicyFileIsFatal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SAFETY_POLICY_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("missing policy file must fail")
	}
}

func TestLoad_ExistingPolicyFileAccepted(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("safe_max: 20\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SAFETY_POLICY_PATH", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SafetyPolicyPath != path {
		t.Fatalf("path not carried: %q", cfg.SafetyPolicyPath)
	}
}
