package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, ev Event) map[string]any {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEventWireShape(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out := decode(t, NewText("hello"))
		assert.Equal(t, "text", out["type"])
		assert.Equal(t, "hello", out["content"])
		assert.Contains(t, out, "ts")
		assert.NotContains(t, out, "success")
	})

	t.Run("tool call without args still carries an object", func(t *testing.T) {
		out := decode(t, NewToolCall(ToolCall{ID: "c1", Name: "web_search"}))
		assert.Equal(t, "tool_call", out["type"])
		assert.Equal(t, map[string]any{}, out["args"])
	})

	t.Run("failed tool result keeps success and cached", func(t *testing.T) {
		out := decode(t, NewToolResult(ToolResult{ID: "c1", Name: "shell", Error: "boom"}))
		assert.Equal(t, false, out["success"])
		assert.Equal(t, false, out["cached"])
		assert.Equal(t, "boom", out["error"])
		assert.NotContains(t, out, "result")
	})

	t.Run("cached result", func(t *testing.T) {
		out := decode(t, NewToolResult(ToolResult{ID: "c2", Name: "web_search", Success: true, Cached: true, Result: json.RawMessage(`{"n":1}`)}))
		assert.Equal(t, true, out["cached"])
		assert.Equal(t, map[string]any{"n": float64(1)}, out["result"])
	})

	t.Run("phase", func(t *testing.T) {
		out := decode(t, NewPhase(PhaseExecute, PhaseStart))
		assert.Equal(t, "execute", out["phase"])
		assert.Equal(t, "start", out["status"])
	})

	t.Run("deliver", func(t *testing.T) {
		out := decode(t, NewDeliver(nil, "done"))
		assert.Equal(t, []any{}, out["artifacts"])
		assert.Equal(t, "done", out["summary"])
	})
}

func TestEventDecodesFromWire(t *testing.T) {
	data, err := json.Marshal(NewToolResult(ToolResult{ID: "x", Name: "file", Success: true, Result: json.RawMessage(`{"ok":true}`)}))
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, EventTypeToolResult, ev.Type)
	assert.Equal(t, "x", ev.ID)
	assert.True(t, ev.Success)
	assert.JSONEq(t, `{"ok":true}`, string(ev.Result))
}

func TestJobStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobPending, JobRunning, true},
		{JobPending, JobCancelled, true},
		{JobRunning, JobCompleted, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobPending, false},
		{JobCompleted, JobRunning, false},
		{JobFailed, JobCompleted, false},
		{JobCancelled, JobRunning, false},
		{JobPending, JobCompleted, false},
		{JobPending, JobFailed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
