package llm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-platform/internal/llm"
	"github.com/capitalize-ai/agent-platform/internal/llm/llmtest"
)

func TestRateLimiterBacksOffAndRecovers(t *testing.T) {
	limiter := llm.NewRateLimiter(6000)
	fake := llmtest.New(
		llmtest.Fail(fmt.Errorf("%w: 429", llm.ErrRateLimited)),
		llmtest.Text("ok"),
	)
	client := limiter.Wrap(fake)
	ctx := context.Background()

	_, _, err := llm.CollectText(client.StreamWithTools(ctx, llm.Request{Message: "a"}))
	require.Error(t, err)
	assert.Equal(t, 3000.0, limiter.Current())

	text, _, err := llm.CollectText(client.StreamWithTools(ctx, llm.Request{Message: "b"}))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3300.0, limiter.Current())

	assert.Len(t, fake.Requests(), 2)
	assert.Equal(t, "scripted", client.Name())
}

func TestRateLimiterHonorsContext(t *testing.T) {
	client := llm.NewRateLimiter(1).Wrap(llmtest.New())
	ctx, cancel := context.WithCancel(context.Background())

	// The first request takes the only token.
	_, err := client.ChatSimple(ctx, "one", nil)
	require.NoError(t, err)

	cancel()
	_, _, err = llm.CollectText(client.StreamWithTools(ctx, llm.Request{Message: "two"}))
	assert.Error(t, err)
}
