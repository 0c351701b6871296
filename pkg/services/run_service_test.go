package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

func TestRunService_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	run, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{
		ChatID:        chatID,
		Intent:        "build",
		Scope:         "full",
		NeedsBackend:  true,
		UserMessage:   "make an app",
		PlannedAgents: []string{"research", "architect", "summary"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	got, err := env.Runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "build", got.Intent)
	assert.True(t, got.NeedsBackend)
	assert.Equal(t, []string{"research", "architect", "summary"}, got.PlannedAgents)
	assert.Nil(t, got.CompletedAt)
}

func TestRunService_SingleRunningPerChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	first, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "build"})
	require.NoError(t, err)

	_, err = env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "fix"})
	assert.ErrorIs(t, err, services.ErrAlreadyExists)

	// A finished run frees the slot.
	require.NoError(t, env.Runs.FinishRun(ctx, first.ID, models.RunStatusCompleted))
	_, err = env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "fix"})
	require.NoError(t, err)
}

func TestRunService_LatestResumable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	_, err := env.Runs.LatestResumable(ctx, chatID)
	assert.ErrorIs(t, err, services.ErrNotFound)

	first, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "build"})
	require.NoError(t, err)
	require.NoError(t, env.Runs.FinishRun(ctx, first.ID, models.RunStatusInterrupted))

	second, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "fix"})
	require.NoError(t, err)
	require.NoError(t, env.Runs.FinishRun(ctx, second.ID, models.RunStatusInterrupted))

	latest, err := env.Runs.LatestResumable(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)

	// Completed runs are not resumable.
	require.NoError(t, env.Runs.FinishRun(ctx, second.ID, models.RunStatusCompleted))
	latest, err = env.Runs.LatestResumable(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func TestRunService_InterruptRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatA := seedChat(t, env)
	_, chatB := seedChat(t, env)

	runA, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatA, Intent: "build"})
	require.NoError(t, err)
	runB, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatB, Intent: "fix"})
	require.NoError(t, err)

	n, err := env.Runs.InterruptRunning(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, id := range []string{runA.ID, runB.ID} {
		run, err := env.Runs.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusInterrupted, run.Status)
		assert.NotNil(t, run.CompletedAt)
	}

	// Idempotent once nothing is running.
	n, err = env.Runs.InterruptRunning(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunService_ListRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	first, err := env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "build"})
	require.NoError(t, err)
	require.NoError(t, env.Runs.FinishRun(ctx, first.ID, models.RunStatusCompleted))
	_, err = env.Runs.CreateRun(ctx, services.CreateRunRequest{ChatID: chatID, Intent: "fix"})
	require.NoError(t, err)

	runs, err := env.Runs.ListRuns(ctx, chatID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
