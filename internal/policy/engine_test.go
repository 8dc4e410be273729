package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	cases := []struct {
		name    string
		tool    string
		args    map[string]any
		blocked bool
	}{
		{"search allowed", "web_search", map[string]any{"query": "gold"}, false},
		{"plain command allowed", "shell", map[string]any{"action": "execute_command", "command": "ls -la"}, false},
		{"scoped rm allowed", "shell", map[string]any{"action": "execute_command", "command": "rm -rf /tmp/build"}, false},
		{"root rm blocked", "shell", map[string]any{"action": "execute_command", "command": "rm -rf /"}, true},
		{"root glob rm blocked", "shell", map[string]any{"action": "execute_command", "command": "sudo rm -fr /*"}, true},
		{"mkfs blocked", "shell", map[string]any{"action": "execute_command", "command": "mkfs.ext4 /dev/sdb"}, true},
		{"session create allowed", "shell", map[string]any{"action": "create_session", "session_id": "mkfs"}, false},
		{"metadata scrape blocked", "web_scrape", map[string]any{"url": "http://169.254.169.254/latest"}, true},
		{"nil args allowed", "task_list", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := engine.Check(ctx, tc.tool, tc.args)
			if !tc.blocked {
				assert.NoError(t, err)
				return
			}
			var perr *agenterr.PolicyError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.tool, perr.Tool)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestEvaluateReturnsSortedReasons(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	reasons, err := engine.Evaluate(ctx, "shell", map[string]any{"action": "execute_command", "command": "mkfs /dev/sda; shutdown now"})
	require.NoError(t, err)
	require.Len(t, reasons, 2)
	assert.Contains(t, reasons[0], "mkfs")
	assert.Contains(t, reasons[1], "shutdown")
}

func TestNewEngineFromFile(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(`
package tool_policy

import rego.v1

deny contains "shell disabled" if input.tool == "shell"
`), 0o644))

	engine, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)
	assert.Error(t, engine.Check(ctx, "shell", map[string]any{"action": "list_sessions"}))
	assert.NoError(t, engine.Check(ctx, "web_search", map[string]any{"query": "x"}))

	_, err = NewEngineFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(ctx, "package tool_policy\n deny contains")
	assert.Error(t, err)
}
