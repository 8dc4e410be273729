package orchestrator

import (
	"strings"
)

// Route is the path a message takes.
type Route string

const (
	RouteInstant Route = "instant"
	RouteAgentic Route = "agentic"
)

var trivialPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "good morning": {}, "good afternoon": {}, "good evening": {},
	"thanks": {}, "thank you": {}, "bye": {}, "goodbye": {}, "see you": {},
	"yes": {}, "no": {}, "ok": {}, "okay": {}, "sure": {}, "alright": {},
	"what's your name": {}, "who are you": {}, "what can you do": {},
	"help": {}, "how are you": {}, "how do you work": {},
}

var questionPrefixes = []string{"what is", "what's", "how to", "when", "where", "why"}

// Classifier decides whether a message is trivial enough for a single
// completion.
type Classifier struct {
	wordLimit     int
	questionLimit int
}

// NewClassifier creates a classifier with the word limits of cfg.
func NewClassifier(cfg Config) Classifier {
	return Classifier{wordLimit: cfg.TrivialWordLimit, questionLimit: cfg.QuestionWordLimit}
}

// IsTrivial reports whether msg is a greeting, acknowledgment, very short
// message or short factual question.
func (c Classifier) IsTrivial(msg string) bool {
	normalized := strings.ToLower(strings.TrimSpace(msg))
	normalized = strings.TrimRight(normalized, "!?.")
	if _, ok := trivialPhrases[normalized]; ok {
		return true
	}

	words := len(strings.Fields(normalized))
	if words <= c.wordLimit {
		return true
	}
	if words <= c.questionLimit {
		for _, p := range questionPrefixes {
			if strings.HasPrefix(normalized, p) {
				return true
			}
		}
	}
	return false
}

// Route picks the path for msg under mode.
func (c Classifier) Route(mode Mode, msg string) Route {
	if mode == ModeInstant || c.IsTrivial(msg) {
		return RouteInstant
	}
	return RouteAgentic
}
