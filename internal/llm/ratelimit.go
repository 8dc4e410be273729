package llm

import (
	"context"
	"errors"
	"iter"
	"sync"

	"golang.org/x/time/rate"

	"github.com/capitalize-ai/agent-platform/internal/model"
)

// RateLimiter paces provider requests with a token bucket. The rate is
// halved when the provider reports rate limiting and recovers stepwise after
// successful requests.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	current float64
	floor   float64
	ceiling float64
	step    float64
}

// NewRateLimiter creates a limiter allowing rpm requests per minute.
func NewRateLimiter(rpm float64) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	burst := int(rpm / 10)
	if burst < 1 {
		burst = 1
	}
	minRPM := rpm * 0.1
	if minRPM < 1 {
		minRPM = 1
	}
	step := rpm * 0.05
	if step < 1 {
		step = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
		current: rpm,
		floor:   minRPM,
		ceiling: rpm,
		step:    step,
	}
}

// Wrap returns a client whose requests wait for capacity.
func (l *RateLimiter) Wrap(next Client) Client {
	return &limitedClient{next: next, limiter: l}
}

// Current returns the effective requests-per-minute budget.
func (l *RateLimiter) Current() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *RateLimiter) observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.current
	switch {
	case err == nil:
		next = min(l.current+l.step, l.ceiling)
	case errors.Is(err, ErrRateLimited):
		next = max(l.current*0.5, l.floor)
	default:
		return
	}
	if next == l.current {
		return
	}
	l.current = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
}

type limitedClient struct {
	next    Client
	limiter *RateLimiter
}

func (c *limitedClient) Name() string {
	return c.next.Name()
}

func (c *limitedClient) StreamWithTools(ctx context.Context, req Request) iter.Seq[Increment] {
	return func(yield func(Increment) bool) {
		if err := c.limiter.limiter.Wait(ctx); err != nil {
			yield(ErrorIncrement(asProviderError(c.next.Name(), err)))
			return
		}
		for inc := range c.next.StreamWithTools(ctx, req) {
			if inc.Type == IncrementError {
				c.limiter.observe(inc.Err)
				yield(inc)
				return
			}
			if !yield(inc) {
				return
			}
		}
		c.limiter.observe(nil)
	}
}

func (c *limitedClient) ChatSimple(ctx context.Context, prompt string, history []model.ConversationTurn) (string, error) {
	if err := c.limiter.limiter.Wait(ctx); err != nil {
		return "", err
	}
	text, err := c.next.ChatSimple(ctx, prompt, history)
	c.limiter.observe(err)
	return text, err
}
