package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, "confirm:\n  repo_root: /srv/repo\n", 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "eureka.apv.incoming", cfg.NATS.Subject)
	assert.Equal(t, "eureka.apv.dlq", cfg.NATS.DLQSubject)
	assert.Equal(t, 24*time.Hour, cfg.NATS.DedupTTL)
	assert.Equal(t, "ast-grep", cfg.Confirm.ASTGrepBin)
	assert.Equal(t, "/srv/repo", cfg.Confirm.RepoRoot)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 100.0, cfg.LLM.MonthlyBudgetUSD)
	assert.Equal(t, "main", cfg.GitHub.BaseBranch)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8081
nats:
  url: nats://broker:4222
  max_deliver: 7
confirm:
  repo_root: /srv/repo
llm:
  model: gpt-4o-mini
  monthly_budget_usd: 25.5
  api_key: sk-test-123
github:
  token: ghp_secret
  owner: acme
  repo: web
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 7, cfg.NATS.MaxDeliver)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 25.5, cfg.LLM.MonthlyBudgetUSD)
	assert.Equal(t, "sk-test-123", cfg.LLM.APIKey.Value())
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "ghp_secret", cfg.GitHub.Token.Value())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8081\nconfirm:\n  repo_root: /srv/repo\n", 0o600)

	t.Setenv("EUREKA_SERVER_PORT", "9999")
	t.Setenv("EUREKA_LLM_MODEL", "gpt-4-turbo")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "gpt-4-turbo", cfg.LLM.Model)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("EUREKA_CONFIRM_REPO_ROOT", "/srv/repo")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/repo", cfg.Confirm.RepoRoot)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfigFile(t, "confirm:\n  repo_root: /srv/repo\n", 0o644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing repo root",
			yaml: "server:\n  port: 8081\n",
			want: "repo_root",
		},
		{
			name: "bad port",
			yaml: "server:\n  port: 70000\nconfirm:\n  repo_root: /srv/repo\n",
			want: "port",
		},
		{
			name: "negative budget",
			yaml: "confirm:\n  repo_root: /srv/repo\nllm:\n  monthly_budget_usd: -1\n",
			want: "monthly_budget_usd",
		},
		{
			name: "coagulation enabled without endpoint",
			yaml: "confirm:\n  repo_root: /srv/repo\ncoagulation:\n  enabled: true\n",
			want: "coagulation.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.yaml, 0o600)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("super-secret-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-token", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())

	data, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret-token")
	assert.Contains(t, string(data), "[REDACTED]")
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
