// Package config provides configuration loading for eureka.
package config

import (
	"fmt"
	"time"
)

// Config is the full eureka configuration tree.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	NATS         NATSConfig         `koanf:"nats"`
	Confirm      ConfirmConfig      `koanf:"confirm"`
	LLM          LLMConfig          `koanf:"llm"`
	GitHub       GitHubConfig       `koanf:"github"`
	Git          GitConfig          `koanf:"git"`
	FixStore     FixStoreConfig     `koanf:"fixstore"`
	Coagulation  CoagulationConfig  `koanf:"coagulation"`
	Strategy     StrategyConfig     `koanf:"strategy"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitRequests admitted per RateLimitWindow per client IP.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// NATSConfig configures the broker connection and the APV stream.
type NATSConfig struct {
	URL         string        `koanf:"url"`
	Stream      string        `koanf:"stream"`
	Subject     string        `koanf:"subject"`
	DurableName string        `koanf:"durable_name"`
	DLQSubject  string        `koanf:"dlq_subject"`
	BatchSize   int           `koanf:"batch_size"`
	MaxDeliver  int           `koanf:"max_deliver"`
	DedupBucket string        `koanf:"dedup_bucket"`
	DedupTTL    time.Duration `koanf:"dedup_ttl"`
}

// ConfirmConfig configures structural confirmation.
type ConfirmConfig struct {
	RepoRoot   string        `koanf:"repo_root"`
	ASTGrepBin string        `koanf:"ast_grep_bin"`
	MaxFiles   int           `koanf:"max_files"`
	CacheTTL   time.Duration `koanf:"cache_ttl"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ModelPrice is USD per token for one model.
type ModelPrice struct {
	InputPerToken  float64 `koanf:"input_per_token"`
	OutputPerToken float64 `koanf:"output_per_token"`
}

// LLMConfig configures the generative patch strategy and its budget.
type LLMConfig struct {
	BaseURL           string                `koanf:"base_url"`
	APIKey            Secret                `koanf:"api_key"`
	Model             string                `koanf:"model"`
	Temperature       float64               `koanf:"temperature"`
	MaxTokens         int                   `koanf:"max_tokens"`
	RequestsPerMinute int                   `koanf:"requests_per_minute"`
	MonthlyBudgetUSD  float64               `koanf:"monthly_budget_usd"`
	Pricing           map[string]ModelPrice `koanf:"pricing"`
}

// GitHubConfig configures pull request creation.
type GitHubConfig struct {
	Token      Secret   `koanf:"token"`
	Owner      string   `koanf:"owner"`
	Repo       string   `koanf:"repo"`
	BaseBranch string   `koanf:"base_branch"`
	Reviewers  []string `koanf:"reviewers"`
}

// GitConfig configures local repository operations.
type GitConfig struct {
	RemoteName  string `koanf:"remote_name"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// FixStoreConfig configures the historical fix example store.
type FixStoreConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// CoagulationConfig configures temporary network mitigation.
type CoagulationConfig struct {
	Enabled bool          `koanf:"enabled"`
	RuleTTL time.Duration `koanf:"rule_ttl"`

	// Endpoint is the enforcement point's rule API.
	Endpoint string `koanf:"endpoint"`
	Token    Secret `koanf:"token"`
}

// StrategyConfig configures remediation strategy selection.
type StrategyConfig struct {
	// Order is the fixed priority order strategies are tried in.
	Order []string `koanf:"order"`
}

// OrchestratorConfig bounds pipeline concurrency and per-APV work.
type OrchestratorConfig struct {
	MaxConcurrent int           `koanf:"max_concurrent"`
	APVTimeout    time.Duration `koanf:"apv_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Confirm.RepoRoot == "" {
		return fmt.Errorf("confirm.repo_root is required")
	}
	if c.LLM.MonthlyBudgetUSD < 0 {
		return fmt.Errorf("llm.monthly_budget_usd cannot be negative")
	}
	if c.NATS.MaxDeliver < 1 {
		return fmt.Errorf("nats.max_deliver must be at least 1")
	}
	if c.Orchestrator.MaxConcurrent < 1 {
		return fmt.Errorf("orchestrator.max_concurrent must be at least 1")
	}
	if c.Coagulation.Enabled && c.Coagulation.Endpoint == "" {
		return fmt.Errorf("coagulation.endpoint is required when coagulation is enabled")
	}
	return nil
}
