package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/models"
)

func record(t *testing.T, env *testEnv, chatID, agent string, in, out int, cost float64) {
	t.Helper()
	require.NoError(t, env.Usage.RecordUsage(context.Background(), &models.TokenUsage{
		ExecutionID:  "exec-" + agent,
		ChatID:       chatID,
		AgentName:    agent,
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
		InputTokens:  in,
		OutputTokens: out,
		CostEstimate: cost,
	}))
}

func TestUsageService_RecordComputesTotal(t *testing.T) {
	env := newTestEnv(t)
	_, chatID := seedChat(t, env)

	u := &models.TokenUsage{
		ExecutionID:      "e1",
		ChatID:           chatID,
		AgentName:        "research",
		Provider:         "anthropic",
		Model:            "claude-sonnet-4-5",
		InputTokens:      100,
		OutputTokens:     50,
		CacheReadTokens:  30,
		CacheWriteTokens: 20,
	}
	require.NoError(t, env.Usage.RecordUsage(context.Background(), u))
	assert.Equal(t, 200, u.TotalTokens)
	assert.NotZero(t, u.ID)
	assert.False(t, u.CreatedAt.IsZero())
}

func TestUsageService_ChatRollup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	record(t, env, chatID, "research", 100, 40, 0.01)
	record(t, env, chatID, "architect", 200, 80, 0.02)

	sum, err := env.Usage.ChatUsage(ctx, chatID)
	require.NoError(t, err)
	assert.EqualValues(t, 300, sum.InputTokens)
	assert.EqualValues(t, 120, sum.OutputTokens)
	assert.EqualValues(t, 420, sum.TotalTokens)
	assert.InDelta(t, 0.03, sum.CostEstimate, 1e-9)
	assert.EqualValues(t, 2, sum.Calls)

	cost, err := env.Usage.ChatCost(ctx, chatID)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, cost, 1e-9)
}

func TestUsageService_EmptyChatRollsUpToZero(t *testing.T) {
	env := newTestEnv(t)
	sum, err := env.Usage.ChatUsage(context.Background(), "no-such-chat")
	require.NoError(t, err)
	assert.Zero(t, sum.TotalTokens)
	assert.Zero(t, sum.Calls)
}

func TestUsageService_ProjectRollup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, chatA := seedChat(t, env)
	chatB, err := env.Chats.CreateChat(ctx, projectID, "second")
	require.NoError(t, err)
	_, otherChat := seedChat(t, env) // different project

	record(t, env, chatA, "research", 100, 50, 0.01)
	record(t, env, chatB.ID, "architect", 200, 100, 0.04)
	record(t, env, otherChat, "research", 999, 999, 9.99)

	byChat, err := env.Usage.ProjectUsage(ctx, projectID)
	require.NoError(t, err)
	assert.Len(t, byChat, 2)

	cost, err := env.Usage.ProjectCost(ctx, projectID)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, cost, 1e-9)
}
