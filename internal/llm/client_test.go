package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/agenterr"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

func TestStreamFromPreservesOrder(t *testing.T) {
	seq := streamFrom(context.Background(), "test", func(ctx context.Context, emit func(Increment) bool) error {
		for i := 0; i < 5; i++ {
			if !emit(TextIncrement(fmt.Sprint(i))) {
				return nil
			}
		}
		emit(ToolCallIncrement(model.ToolCall{ID: "c1", Name: "web_search", Args: map[string]any{"query": "gold"}}))
		return nil
	})

	text, calls, err := CollectText(seq)
	require.NoError(t, err)
	assert.Equal(t, "01234", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "gold", calls[0].Args["query"])
}

func TestStreamFromProviderErrorIsTerminal(t *testing.T) {
	seq := streamFrom(context.Background(), "test", func(ctx context.Context, emit func(Increment) bool) error {
		emit(TextIncrement("partial"))
		return errors.New("connection reset")
	})

	var got []Increment
	for inc := range seq {
		got = append(got, inc)
	}
	require.Len(t, got, 2)
	assert.Equal(t, IncrementText, got[0].Type)
	assert.Equal(t, IncrementError, got[1].Type)

	var perr *agenterr.ProviderError
	require.ErrorAs(t, got[1].Err, &perr)
	assert.Equal(t, "test", perr.Provider)
	assert.ErrorIs(t, got[1].Err, agenterr.ErrProvider)
}

func TestStreamFromRecoversPanics(t *testing.T) {
	seq := streamFrom(context.Background(), "test", func(context.Context, func(Increment) bool) error {
		panic("sdk bug")
	})
	_, _, err := CollectText(seq)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sdk bug")
}

func TestStreamFromStopsProducerWhenConsumerLeaves(t *testing.T) {
	var stopped atomic.Bool
	seq := streamFrom(context.Background(), "test", func(ctx context.Context, emit func(Increment) bool) error {
		defer stopped.Store(true)
		for {
			if !emit(TextIncrement("x")) {
				return ctx.Err()
			}
		}
	})

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
	assert.True(t, stopped.Load())
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient("bedrock", Config{APIKey: "k"}, logger.NewNop())
	assert.Error(t, err)

	_, err = NewClient(ProviderOpenAI, Config{}, logger.NewNop())
	assert.Error(t, err)
}

func TestHistoryConversion(t *testing.T) {
	history := []model.ConversationTurn{
		model.UserTurn("find gold price"),
		model.AssistantTurn("", []model.ToolCall{{ID: "c1", Name: "web_search", Args: map[string]any{"query": "gold"}}}),
		model.ToolTurn([]model.ToolResult{{ID: "c1", Name: "web_search", Success: true, Result: []byte(`{"price":1}`)}}),
		model.AssistantTurn("Gold is 1.", nil),
	}

	oa := openaiMessages("be brief", history, "thanks")
	require.Len(t, oa, 6)
	assert.Equal(t, "system", oa[0].Role)
	assert.Equal(t, "c1", oa[2].ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"gold"}`, oa[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", oa[3].Role)
	assert.Equal(t, "c1", oa[3].ToolCallID)
	assert.Equal(t, `{"price":1}`, oa[3].Content)
	assert.Equal(t, "thanks", oa[5].Content)

	an := anthropicMessages(history, "thanks")
	require.Len(t, an, 5)
}

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseToolArgs([]byte(`{"operation":"write","path":"gold.txt"}`))
	require.NoError(t, err)
	assert.Equal(t, "gold.txt", args["path"])

	_, err = parseToolArgs([]byte(`["not","an","object"]`))
	assert.Error(t, err)
}

func sseServer(t *testing.T, path string, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIStreamWithTools(t *testing.T) {
	chunks := []string{
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Looking "}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"it up."}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":""}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"file","arguments":"{\"operation\":\"list\",\"path\":\".\"}"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"gold price\"}"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}
	var body strings.Builder
	for _, c := range chunks {
		body.WriteString("data: " + c + "\n\n")
	}
	body.WriteString("data: [DONE]\n\n")

	srv := sseServer(t, "/v1/chat/completions", http.StatusOK, body.String())
	client, err := NewOpenAIClient(Config{APIKey: "test", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	var got []Increment
	for inc := range client.StreamWithTools(context.Background(), Request{
		Message: "gold?",
		Tools:   []model.ToolSpec{{Name: "web_search", Parameters: map[string]any{"type": "object"}}},
	}) {
		got = append(got, inc)
	}

	require.Len(t, got, 4)
	assert.Equal(t, "Looking ", got[0].Text)
	assert.Equal(t, "it up.", got[1].Text)
	assert.Equal(t, IncrementToolCall, got[2].Type)
	assert.Equal(t, "call_1", got[2].ToolCall.ID)
	assert.Equal(t, map[string]any{"query": "gold price"}, got[2].ToolCall.Args)
	assert.Equal(t, "file", got[3].ToolCall.Name)
}

func TestOpenAIProviderErrorBecomesIncrement(t *testing.T) {
	srv := sseServer(t, "/v1/chat/completions", http.StatusTooManyRequests,
		`{"error":{"message":"slow down","type":"rate_limit_error","code":"rate_limit"}}`)
	client, err := NewOpenAIClient(Config{APIKey: "test", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	_, _, err = CollectText(client.StreamWithTools(context.Background(), Request{Message: "hi"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrProvider)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIChatSimple(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Gold Price Research"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	text, err := client.ChatSimple(ctx, "title please", nil)
	require.NoError(t, err)
	assert.Equal(t, "Gold Price Research", text)
}

func TestAnthropicStreamWithTools(t *testing.T) {
	events := [][2]string{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-5","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Searching"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" now."}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"web_search","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\": "}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"gold\"}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}
	var body strings.Builder
	for _, ev := range events {
		body.WriteString("event: " + ev[0] + "\ndata: " + ev[1] + "\n\n")
	}

	srv := sseServer(t, "/v1/messages", http.StatusOK, body.String())
	client, err := NewAnthropicClient(Config{APIKey: "test", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	var got []Increment
	for inc := range client.StreamWithTools(context.Background(), Request{Message: "gold?"}) {
		got = append(got, inc)
	}

	require.Len(t, got, 3, "%+v", got)
	assert.Equal(t, "Searching", got[0].Text)
	assert.Equal(t, " now.", got[1].Text)
	assert.Equal(t, IncrementToolCall, got[2].Type)
	assert.Equal(t, "toolu_1", got[2].ToolCall.ID)
	assert.Equal(t, "web_search", got[2].ToolCall.Name)
	assert.Equal(t, map[string]any{"query": "gold"}, got[2].ToolCall.Args)
}

func TestAnthropicBadRequestBecomesIncrement(t *testing.T) {
	srv := sseServer(t, "/v1/messages", http.StatusBadRequest,
		`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`)
	client, err := NewAnthropicClient(Config{APIKey: "test", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	_, _, err = CollectText(client.StreamWithTools(context.Background(), Request{Message: "hi"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, agenterr.ErrProvider)
}

func TestAnthropicToolSchemaKeepsRequired(t *testing.T) {
	specs := []model.ToolSpec{{
		Name:        "file",
		Description: "Read or list files",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{"type": "string"},
				"path":      map[string]any{"type": "string"},
			},
			"required":             []any{"operation", "path"},
			"additionalProperties": false,
		},
	}}

	raw, err := json.Marshal(anthropicTools(specs))
	require.NoError(t, err)

	var decoded []struct {
		Name        string         `json:"name"`
		InputSchema map[string]any `json:"input_schema"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	schema := decoded[0].InputSchema
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"operation", "path"}, schema["required"])
	assert.Equal(t, false, schema["additionalProperties"])
	assert.Contains(t, schema["properties"], "path")

	assert.Equal(t, []string{"query"}, anthropicSchema(map[string]any{"required": []string{"query"}}).Required)
}

// captureServer answers every request with body and hands the decoded
// request JSON to the test.
func captureServer(t *testing.T, contentType, body string) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	captured := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		select {
		case captured <- req:
		default:
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func toolRoundHistory() []model.ConversationTurn {
	call := model.ToolCall{ID: "toolu_1", Name: "web_search", Args: map[string]any{"query": "gold"}}
	return []model.ConversationTurn{
		model.AssistantTurn("", []model.ToolCall{call}),
		model.ToolTurn([]model.ToolResult{{ID: "toolu_1", Name: "web_search", Success: true, Result: json.RawMessage(`"2400 USD"`)}}),
	}
}

func TestAnthropicNoToolCallsKeepsToolsDeclared(t *testing.T) {
	srv, captured := captureServer(t, "text/event-stream",
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"type\":\"message\",\"role\":\"assistant\",\"content\":[],\"model\":\"claude-sonnet-4-5\",\"stop_reason\":null,\"stop_sequence\":null,\"usage\":{\"input_tokens\":1,\"output_tokens\":1}}}\n\n"+
			"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	client, err := NewAnthropicClient(Config{APIKey: "test", BaseURL: srv.URL}, logger.NewNop())
	require.NoError(t, err)

	_, _, err = CollectText(client.StreamWithTools(context.Background(), Request{
		Message:     "summarise",
		History:     toolRoundHistory(),
		Tools:       []model.ToolSpec{{Name: "web_search", Parameters: map[string]any{"type": "object"}}},
		NoToolCalls: true,
	}))
	require.NoError(t, err)

	req := <-captured
	require.Contains(t, req, "tools")
	assert.Len(t, req["tools"], 1)
	assert.Equal(t, map[string]any{"type": "none"}, req["tool_choice"])
}

func TestOpenAINoToolCallsKeepsToolsDeclared(t *testing.T) {
	srv, captured := captureServer(t, "text/event-stream",
		"data: {\"id\":\"c\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"done\"}}]}\n\n"+
			"data: [DONE]\n\n")
	client, err := NewOpenAIClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, logger.NewNop())
	require.NoError(t, err)

	text, _, err := CollectText(client.StreamWithTools(context.Background(), Request{
		Message:     "summarise",
		History:     toolRoundHistory(),
		Tools:       []model.ToolSpec{{Name: "web_search", Parameters: map[string]any{"type": "object"}}},
		NoToolCalls: true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "done", text)

	req := <-captured
	assert.Len(t, req["tools"], 1)
	assert.Equal(t, "none", req["tool_choice"])
}
