// Package config loads service configuration from the environment.
//
// Load collects every parse error before returning so a misconfigured
// deployment reports all problems at once. Validation distinguishes
// development from production: secrets that may be absent on a laptop are
// fatal in production.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Environment string // "development" or "production"
	LogLevel    string
	HTTPAddr    string

	DatabaseURL string
	RedisURL    string

	GitHub   GitHubConfig
	LLM      LLMConfig
	Sandbox  SandboxConfig
	Pipeline PipelineConfig

	SafetyPolicyPath string
	ArtifactsDir     string

	WorkerCount int
}

// GitHubConfig covers webhook verification and the VCS API token.
type GitHubConfig struct {
	WebhookSecret string
	Token         string
	APIBaseURL    string
}

// LLMConfig selects and bounds the model provider.
type LLMConfig struct {
	Provider   string
	Model      string
	MaxTokens  int
	MaxRetries int
	APIKey     string
}

// SandboxConfig bounds validation containers.
type SandboxConfig struct {
	Image              string
	MemoryLimitMB      int64
	CPULimit           float64
	Timeout            time.Duration
	NetworkEnabled     bool
	FailOnVulnSeverity string
}

// PipelineConfig tunes orchestrator retry, throttling, and cooldown.
type PipelineConfig struct {
	MaxAttempts          int
	RepoConcurrencyLimit int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	Cooldown             time.Duration
}

// IsProduction reports whether the service runs with production
// requirements.
func (c *Config) IsProduction() bool { return c.Environment == "production" }

// Load reads configuration from the environment, applying defaults and
// accumulating every error.
func Load() (*Config, error) {
	var errs []error
	e := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Environment: strings.ToLower(envStr("ENVIRONMENT", "development")),
		LogLevel:    envStr("LOG_LEVEL", ""),
		HTTPAddr:    envStr("HTTP_ADDR", ":8080"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", "redis://localhost:6379/0"),

		GitHub: GitHubConfig{
			WebhookSecret: envStr("GITHUB_WEBHOOK_SECRET", ""),
			Token:         envStr("GITHUB_TOKEN", ""),
			APIBaseURL:    envStr("GITHUB_API_BASE_URL", "https://api.github.com"),
		},

		SafetyPolicyPath: envStr("SAFETY_POLICY_PATH", ""),
		ArtifactsDir:     envStr("ARTIFACTS_DIR", "artifacts"),
	}

	cfg.LLM = LLMConfig{
		Provider: envStr("LLM_PROVIDER", ""),
		Model:    envStr("LLM_MODEL", ""),
		APIKey:   envStr("LLM_API_KEY", ""),
	}
	cfg.LLM.MaxTokens = envInt("LLM_MAX_TOKENS", 4096, e)
	cfg.LLM.MaxRetries = envInt("LLM_MAX_RETRIES", 2, e)

	cfg.Sandbox = SandboxConfig{
		Image:              envStr("SANDBOX_IMAGE", "python:3.12-slim"),
		FailOnVulnSeverity: strings.ToUpper(envStr("FAIL_ON_VULN_SEVERITY", "HIGH")),
	}
	cfg.Sandbox.MemoryLimitMB = int64(envInt("SANDBOX_MEMORY_LIMIT_MB", 2048, e))
	cfg.Sandbox.CPULimit = envFloat("SANDBOX_CPU_LIMIT", 2.0, e)
	cfg.Sandbox.Timeout = time.Duration(envInt("SANDBOX_TIMEOUT_SECONDS", 1800, e)) * time.Second
	cfg.Sandbox.NetworkEnabled = envBool("SANDBOX_NETWORK_ENABLED", false, e)

	cfg.Pipeline = PipelineConfig{}
	cfg.Pipeline.MaxAttempts = envInt("MAX_PIPELINE_ATTEMPTS", 3, e)
	cfg.Pipeline.RepoConcurrencyLimit = envInt("REPO_PIPELINE_CONCURRENCY_LIMIT", 2, e)
	cfg.Pipeline.BaseBackoff = time.Duration(envInt("BASE_BACKOFF_SECONDS", 30, e)) * time.Second
	cfg.Pipeline.MaxBackoff = time.Duration(envInt("MAX_BACKOFF_SECONDS", 900, e)) * time.Second
	cfg.Pipeline.Cooldown = time.Duration(envInt("COOLDOWN_SECONDS", 3600, e)) * time.Second

	cfg.WorkerCount = envInt("WORKER_COUNT", 4, e)

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

var validSeverities = map[string]bool{
	"CRITICAL": true, "HIGH": true, "MEDIUM": true, "LOW": true, "NEGLIGIBLE": true,
}

func (c *Config) validate() error {
	var errs []error

	switch c.Environment {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("config: ENVIRONMENT must be development or production, got %q", c.Environment))
	}
	if !validSeverities[c.Sandbox.FailOnVulnSeverity] {
		errs = append(errs, fmt.Errorf("config: FAIL_ON_VULN_SEVERITY %q not one of CRITICAL/HIGH/MEDIUM/LOW/NEGLIGIBLE", c.Sandbox.FailOnVulnSeverity))
	}
	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("config: MAX_PIPELINE_ATTEMPTS must be >= 1"))
	}
	if c.Pipeline.RepoConcurrencyLimit < 1 {
		errs = append(errs, fmt.Errorf("config: REPO_PIPELINE_CONCURRENCY_LIMIT must be >= 1"))
	}
	if c.Pipeline.MaxBackoff < c.Pipeline.BaseBackoff {
		errs = append(errs, fmt.Errorf("config: MAX_BACKOFF_SECONDS below BASE_BACKOFF_SECONDS"))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("config: WORKER_COUNT must be >= 1"))
	}
	if c.SafetyPolicyPath != "" {
		if _, err := os.Stat(c.SafetyPolicyPath); err != nil {
			errs = append(errs, fmt.Errorf("config: SAFETY_POLICY_PATH %q: %w", c.SafetyPolicyPath, err))
		}
	}

	// Secrets a production deployment cannot run without.
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("config: DATABASE_URL is required in production"))
		}
		if c.GitHub.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("config: GITHUB_WEBHOOK_SECRET is required in production"))
		}
		if c.GitHub.Token == "" {
			errs = append(errs, fmt.Errorf("config: GITHUB_TOKEN is required in production"))
		}
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int, report func(error)) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		report(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, report func(error)) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		report(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return f
}

func envBool(key string, def bool, report func(error)) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		report(fmt.Errorf("config: %s: %w", key, err))
		return def
	}
	return b
}
