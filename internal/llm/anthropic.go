package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	log       *logger.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(cfg Config, log *logger.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     modelName,
		maxTokens: maxTokens,
		log:       log.With(zap.String("provider", "anthropic")),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// StreamWithTools streams one model turn. Text deltas are forwarded as they
// arrive; a tool call is forwarded once its block is complete.
func (c *AnthropicClient) StreamWithTools(ctx context.Context, req Request) iter.Seq[Increment] {
	return streamFrom(ctx, c.Name(), func(ctx context.Context, emit func(Increment) bool) error {
		start := time.Now()
		params := c.params(req.System, req.MaxTokens, anthropicMessages(req.History, req.Message))
		if len(req.Tools) > 0 {
			params.Tools = anthropicTools(req.Tools)
			if req.NoToolCalls {
				params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
			}
		}

		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		calls := 0
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), calls)
				return fmt.Errorf("malformed stream event: %w", err)
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					if !emit(TextIncrement(delta.Text)) {
						return nil
					}
				}
			case anthropic.ContentBlockStopEvent:
				if int(ev.Index) >= len(message.Content) {
					continue
				}
				block, ok := message.Content[ev.Index].AsAny().(anthropic.ToolUseBlock)
				if !ok {
					continue
				}
				input, _ := json.Marshal(block.Input)
				args, err := parseToolArgs(input)
				if err != nil {
					metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), calls)
					return fmt.Errorf("malformed arguments for tool %s: %w", block.Name, err)
				}
				calls++
				if !emit(ToolCallIncrement(model.ToolCall{ID: block.ID, Name: block.Name, Args: args})) {
					return nil
				}
			}
		}

		if err := stream.Err(); err != nil {
			metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), calls)
			c.log.Warn("stream failed", zap.String("model", c.model), zap.Error(err))
			return classifyAnthropicError(err)
		}

		metrics.RecordLLMStream(c.Name(), c.model, "success", time.Since(start), calls)
		c.log.Debug("stream completed",
			zap.String("model", c.model),
			zap.String("stop_reason", string(message.StopReason)),
			zap.Int64("input_tokens", message.Usage.InputTokens),
			zap.Int64("output_tokens", message.Usage.OutputTokens),
			zap.Int("tool_calls", calls),
		)
		return nil
	})
}

// ChatSimple sends a non-streaming request and returns the text.
func (c *AnthropicClient) ChatSimple(ctx context.Context, prompt string, history []model.ConversationTurn) (string, error) {
	start := time.Now()
	resp, err := c.client.Messages.New(ctx, c.params("", 0, anthropicMessages(history, prompt)))
	if err != nil {
		metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), 0)
		return "", classifyAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	metrics.RecordLLMStream(c.Name(), c.model, "success", time.Since(start), 0)
	return sb.String(), nil
}

func (c *AnthropicClient) params(system string, maxTokens int, messages []anthropic.MessageParam) anthropic.MessageNewParams {
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return err
}

// anthropicMessages converts history plus the new user message. Tool results
// travel in a user message directly after the assistant's tool_use blocks.
func anthropicMessages(history []model.ConversationTurn, message string) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			if turn.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
			}
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, call := range turn.ToolCalls {
				args := call.Args
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: args,
					},
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(turn.ToolResults))
			for _, res := range turn.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(res.ID, res.Content(), !res.Success))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	if message != "" {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))
	}
	return out
}

func anthropicTools(specs []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropicSchema(spec.Parameters),
			},
		})
	}
	return out
}

// anthropicSchema maps a JSON schema object onto the SDK's input schema.
// Keys without a dedicated field ride along in ExtraFields.
func anthropicSchema(params map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{Properties: params["properties"]}
	switch required := params["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, name := range required {
			if s, ok := name.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	for key, value := range params {
		switch key {
		case "type", "properties", "required":
			continue
		}
		if schema.ExtraFields == nil {
			schema.ExtraFields = make(map[string]any)
		}
		schema.ExtraFields[key] = value
	}
	return schema
}

// parseToolArgs turns raw provider arguments into a plain JSON object.
func parseToolArgs(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
