package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from the YAML file at configPath, then overrides
// with EUREKA_-prefixed environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (EUREKA_SERVER_PORT, EUREKA_LLM_MODEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; env vars and defaults still apply. When
// the file exists it must be owner-readable only (0600 or 0400) and under
// 1MB.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	// Environment variables use underscore separator after the prefix.
	// EUREKA_SERVER_PORT -> server.port
	// EUREKA_LLM_MONTHLY_BUDGET_USD -> llm.monthly_budget_usd
	if err := k.Load(env.Provider("EUREKA_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "EUREKA_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// loadFile reads and validates the config file using a single open file
// descriptor to avoid a stat/open race.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimitRequests == 0 {
		cfg.Server.RateLimitRequests = 100
	}
	if cfg.Server.RateLimitWindow == 0 {
		cfg.Server.RateLimitWindow = time.Minute
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "EUREKA"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "eureka.apv.incoming"
	}
	if cfg.NATS.DurableName == "" {
		cfg.NATS.DurableName = "eureka-remediator"
	}
	if cfg.NATS.DLQSubject == "" {
		cfg.NATS.DLQSubject = "eureka.apv.dlq"
	}
	if cfg.NATS.BatchSize == 0 {
		cfg.NATS.BatchSize = 10
	}
	if cfg.NATS.MaxDeliver == 0 {
		cfg.NATS.MaxDeliver = 4
	}
	if cfg.NATS.DedupBucket == "" {
		cfg.NATS.DedupBucket = "eureka_dedup"
	}
	if cfg.NATS.DedupTTL == 0 {
		cfg.NATS.DedupTTL = 24 * time.Hour
	}

	if cfg.Confirm.ASTGrepBin == "" {
		cfg.Confirm.ASTGrepBin = "ast-grep"
	}
	if cfg.Confirm.MaxFiles == 0 {
		cfg.Confirm.MaxFiles = 200
	}
	if cfg.Confirm.CacheTTL == 0 {
		cfg.Confirm.CacheTTL = time.Hour
	}
	if cfg.Confirm.Timeout == 0 {
		cfg.Confirm.Timeout = 30 * time.Second
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 10
	}
	if cfg.LLM.MonthlyBudgetUSD == 0 {
		cfg.LLM.MonthlyBudgetUSD = 100
	}

	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}
	if cfg.Git.RemoteName == "" {
		cfg.Git.RemoteName = "origin"
	}
	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = "eureka"
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = "eureka@localhost"
	}

	if cfg.FixStore.Collection == "" {
		cfg.FixStore.Collection = "eureka_fix_examples"
	}

	if cfg.Coagulation.RuleTTL == 0 {
		cfg.Coagulation.RuleTTL = 7 * 24 * time.Hour
	}

	if cfg.Orchestrator.MaxConcurrent == 0 {
		cfg.Orchestrator.MaxConcurrent = 4
	}
	if cfg.Orchestrator.APVTimeout == 0 {
		cfg.Orchestrator.APVTimeout = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
