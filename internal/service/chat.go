package service

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/model"
	"github.com/capitalize-ai/agent-platform/pkg/logger"
)

// TurnRunner runs an agent turn. *orchestrator.Orchestrator implements it.
type TurnRunner interface {
	ProcessMessage(ctx context.Context, message string, history []model.ConversationTurn) iter.Seq[model.Event]
}

const maxTitleLength = 60

// ChatService runs turns on threads and keeps the message log in sync.
type ChatService struct {
	threads     *ThreadService
	turns       TurnRunner
	llm         llm.Client
	historySize int
	logger      *logger.Logger
}

// NewChatService creates a chat service. historySize bounds how many past
// messages are handed to each turn.
func NewChatService(threads *ThreadService, turns TurnRunner, client llm.Client, historySize int, log *logger.Logger) *ChatService {
	if historySize <= 0 {
		historySize = 20
	}
	return &ChatService{
		threads:     threads,
		turns:       turns,
		llm:         client,
		historySize: historySize,
		logger:      log,
	}
}

// RunTurn persists the user message, runs a turn with the thread history
// and persists the final assistant text once the turn ends.
func (s *ChatService) RunTurn(ctx context.Context, thread *model.Thread, content string) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		history, err := s.threads.History(ctx, thread, s.historySize)
		if err != nil {
			s.logger.Error("failed to load history", zap.String("thread_id", thread.ID), zap.Error(err))
			yield(model.NewError("failed to load conversation history"))
			return
		}
		if _, err := s.threads.AppendMessage(ctx, thread, model.RoleUser, content); err != nil {
			s.logger.Error("failed to save user message", zap.String("thread_id", thread.ID), zap.Error(err))
			yield(model.NewError("failed to save message"))
			return
		}

		// Only the answer is persisted: text streamed before the deliver
		// phase is working output.
		var answer strings.Builder
		for ev := range s.turns.ProcessMessage(ctx, content, history) {
			switch {
			case ev.Type == model.EventTypeText:
				answer.WriteString(ev.Content)
			case ev.Type == model.EventTypePhase && ev.Phase == model.PhaseDeliver && ev.Status == model.PhaseStart:
				answer.Reset()
			}
			if !yield(ev) {
				break
			}
		}

		if answer.Len() == 0 {
			return
		}
		if _, err := s.threads.AppendMessage(context.WithoutCancel(ctx), thread, model.RoleAssistant, answer.String()); err != nil {
			s.logger.Error("failed to save assistant message", zap.String("thread_id", thread.ID), zap.Error(err))
		}
	}
}

// GenerateTitle asks the model for a short thread title.
func (s *ChatService) GenerateTitle(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf("Write a short title of at most six words for a conversation that starts with the message below. Reply with the title only.\n\n%s", content)
	title, err := s.llm.ChatSimple(ctx, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	title = strings.Trim(strings.TrimSpace(title), "\"'")
	if title == "" {
		title = fallbackTitle(content)
	}
	return truncate(title, maxTitleLength), nil
}

func fallbackTitle(content string) string {
	words := strings.Fields(content)
	if len(words) > 6 {
		words = words[:6]
	}
	if len(words) == 0 {
		return "New chat"
	}
	return strings.Join(words, " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
