package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
	"github.com/capitalize-ai/agent-platform/pkg/metrics"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient is the OpenAI LLM client. It also serves OpenAI-compatible
// endpoints through Config.BaseURL.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	log       *logger.Logger
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg Config, log *logger.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		config.BaseURL = baseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(config),
		model:     modelName,
		maxTokens: maxTokens,
		log:       log.With(zap.String("provider", "openai")),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// StreamWithTools streams one model turn. Text deltas are forwarded as they
// arrive. Tool call fragments are accumulated by index and forwarded in index
// order when the choice finishes.
func (c *OpenAIClient) StreamWithTools(ctx context.Context, req Request) iter.Seq[Increment] {
	return streamFrom(ctx, c.Name(), func(ctx context.Context, emit func(Increment) bool) error {
		start := time.Now()
		maxTokens := req.MaxTokens
		if maxTokens == 0 {
			maxTokens = c.maxTokens
		}

		chatReq := openai.ChatCompletionRequest{
			Model:     c.model,
			MaxTokens: maxTokens,
			Messages:  openaiMessages(req.System, req.History, req.Message),
			Stream:    true,
		}
		if len(req.Tools) > 0 {
			chatReq.Tools = openaiTools(req.Tools)
			if req.NoToolCalls {
				chatReq.ToolChoice = "none"
			}
		}

		stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), 0)
			return classifyOpenAIError(err)
		}
		defer stream.Close()

		var pending []openai.ToolCall
		emitted := 0
		flush := func() (bool, error) {
			for _, tc := range pending {
				args, err := parseToolArgs(json.RawMessage(tc.Function.Arguments))
				if err != nil {
					return false, fmt.Errorf("malformed arguments for tool %s: %w", tc.Function.Name, err)
				}
				emitted++
				if !emit(ToolCallIncrement(model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})) {
					return false, nil
				}
			}
			pending = nil
			return true, nil
		}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), emitted)
				c.log.Warn("stream failed", zap.String("model", c.model), zap.Error(err))
				return classifyOpenAIError(err)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				if !emit(TextIncrement(choice.Delta.Content)) {
					return nil
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				for len(pending) <= idx {
					pending = append(pending, openai.ToolCall{})
				}
				if tc.ID != "" {
					pending[idx].ID = tc.ID
				}
				pending[idx].Function.Name += tc.Function.Name
				pending[idx].Function.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason != "" && len(pending) > 0 {
				ok, err := flush()
				if err != nil {
					metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), emitted)
					return err
				}
				if !ok {
					return nil
				}
			}
		}

		if ok, err := flush(); err != nil {
			metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), emitted)
			return err
		} else if !ok {
			return nil
		}

		metrics.RecordLLMStream(c.Name(), c.model, "success", time.Since(start), emitted)
		c.log.Debug("stream completed", zap.String("model", c.model), zap.Int("tool_calls", emitted))
		return nil
	})
}

// ChatSimple sends a non-streaming request and returns the text.
func (c *OpenAIClient) ChatSimple(ctx context.Context, prompt string, history []model.ConversationTurn) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  openaiMessages("", history, prompt),
	})
	if err != nil {
		metrics.RecordLLMStream(c.Name(), c.model, "error", time.Since(start), 0)
		return "", classifyOpenAIError(err)
	}
	metrics.RecordLLMStream(c.Name(), c.model, "success", time.Since(start), 0)

	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return err
}

func openaiMessages(system string, history []model.ConversationTurn, message string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, turn := range history {
		switch turn.Role {
		case model.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: turn.Content})
		case model.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.Content}
			for _, call := range turn.ToolCalls {
				args, _ := json.Marshal(call.Args)
				if call.Args == nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case model.RoleTool:
			for _, res := range turn.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    res.Content(),
					ToolCallID: res.ID,
				})
			}
		}
	}
	if message != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
	}
	return out
}

func openaiTools(specs []model.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		}
	}
	return out
}
