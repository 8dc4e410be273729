package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/executor"
	"github.com/capitalize-ai/agent-platform/internal/tools"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MAX_TOOL_HOPS", "")
	t.Setenv("ORCHESTRATOR_MODE", "")
	cfg := Load()
	assert.Equal(t, 5, cfg.MaxToolHops)
	assert.Equal(t, 60*time.Second, cfg.MaxExecutionTime)
	assert.Equal(t, "phased", cfg.OrchestratorMode)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAX_TOOL_HOPS", "9")
	t.Setenv("MAX_EXECUTION_TIME", "90s")
	t.Setenv("LLM_REQUESTS_PER_MINUTE", "120.5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("JOB_WORKERS", "not-a-number")
	t.Setenv("DEFAULT_LLM", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Load()
	assert.Equal(t, 9, cfg.MaxToolHops)
	assert.Equal(t, 90*time.Second, cfg.MaxExecutionTime)
	assert.InDelta(t, 120.5, cfg.LLMRequestsPerMinute, 0.001)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, 4, cfg.JobWorkers)
	assert.Equal(t, "sk-test", cfg.APIKey())
}

func TestLoadToolPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[tools.web_search]
timeout = "8s"
max_retries = 4

[tools.custom]
timeout = "1s"
`), 0o644))

	policies, err := LoadToolPolicies(path)
	require.NoError(t, err)

	search := policies[tools.WebSearchName]
	assert.Equal(t, 8*time.Second, search.Timeout)
	assert.Equal(t, 4, search.MaxRetries)
	assert.Equal(t, executor.DefaultPolicies()[tools.WebSearchName].BaseDelay, search.BaseDelay)

	assert.Equal(t, time.Second, policies["custom"].Timeout)
	assert.Equal(t, executor.DefaultPolicies()[tools.ShellName], policies[tools.ShellName])
}

func TestLoadToolPoliciesRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[tools.file]\ntimeout = \"soon\"\n"), 0o644))
	_, err := LoadToolPolicies(bad)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.toml")
	require.NoError(t, os.WriteFile(negative, []byte("[tools.file]\nmax_retries = -1\n"), 0o644))
	_, err = LoadToolPolicies(negative)
	assert.Error(t, err)

	shell := filepath.Join(dir, "shell.toml")
	require.NoError(t, os.WriteFile(shell, []byte("[tools.shell]\nmax_retries = 3\n"), 0o644))
	_, err = LoadToolPolicies(shell)
	assert.ErrorContains(t, err, "not idempotent")

	shellTimeout := filepath.Join(dir, "shell-timeout.toml")
	require.NoError(t, os.WriteFile(shellTimeout, []byte("[tools.shell]\ntimeout = \"45s\"\nmax_retries = 0\n"), 0o644))
	policies, err := LoadToolPolicies(shellTimeout)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, policies[tools.ShellName].Timeout)

	_, err = LoadToolPolicies(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	policies, err = LoadToolPolicies("")
	require.NoError(t, err)
	assert.Equal(t, executor.DefaultPolicies(), policies)
}
