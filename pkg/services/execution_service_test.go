package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

func TestExecutionService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	exec := seedExecution(t, env, chatID, "research")

	require.NoError(t, env.Executions.CompleteExecution(ctx, exec.ID, models.ExecutionOutput{
		Content:     "findings",
		DisplayName: "research",
	}))

	execs, err := env.Executions.ListExecutions(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecStatusCompleted, execs[0].Status)
	assert.Equal(t, "findings", execs[0].OutputContent())
	assert.NotNil(t, execs[0].CompletedAt)
}

func TestExecutionService_FailAndRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	exec := seedExecution(t, env, chatID, "build-check")

	require.NoError(t, env.Executions.MarkRetrying(ctx, exec.ID, "timeout"))
	require.NoError(t, env.Executions.MarkRetrying(ctx, exec.ID, "timeout again"))
	require.NoError(t, env.Executions.MarkRunning(ctx, exec.ID))
	require.NoError(t, env.Executions.FailExecution(ctx, exec.ID, "gave up"))

	execs, err := env.Executions.ListExecutions(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, models.ExecStatusFailed, execs[0].Status)
	assert.Equal(t, 2, execs[0].RetryCount)
	assert.Equal(t, "gave up", execs[0].Error)
}

func TestExecutionService_TransitionMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.ErrorIs(t, env.Executions.FailExecution(ctx, "nope", "x"), services.ErrNotFound)
	assert.ErrorIs(t, env.Executions.MarkRetrying(ctx, "nope", "x"), services.ErrNotFound)
}

func TestExecutionService_ListCompletedOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	done := seedExecution(t, env, chatID, "architect")
	require.NoError(t, env.Executions.CompleteExecution(ctx, done.ID, models.ExecutionOutput{Content: "plan"}))
	failed := seedExecution(t, env, chatID, "build-check")
	require.NoError(t, env.Executions.FailExecution(ctx, failed.ID, "boom"))
	seedExecution(t, env, chatID, "styling") // still running

	completed, err := env.Executions.ListCompletedExecutions(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "architect", completed[0].AgentName)
}

func TestExecutionService_InterruptInFlight(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatA := seedChat(t, env)
	_, chatB := seedChat(t, env)

	seedExecution(t, env, chatA, "research")
	retrying := seedExecution(t, env, chatA, "architect")
	require.NoError(t, env.Executions.MarkRetrying(ctx, retrying.ID, "flaky"))
	done := seedExecution(t, env, chatA, "summary")
	require.NoError(t, env.Executions.CompleteExecution(ctx, done.ID, models.ExecutionOutput{Content: "ok"}))
	seedExecution(t, env, chatB, "research")

	t.Run("scoped to chat", func(t *testing.T) {
		n, err := env.Executions.InterruptInFlight(ctx, chatA, "Stopped by user", models.ExecStatusStopped)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		execs, err := env.Executions.ListExecutions(ctx, chatA)
		require.NoError(t, err)
		for _, e := range execs {
			if e.ID == done.ID {
				assert.Equal(t, models.ExecStatusCompleted, e.Status)
				continue
			}
			assert.Equal(t, models.ExecStatusStopped, e.Status)
			assert.Equal(t, "Stopped by user", e.Error)
		}
	})

	t.Run("global sweep", func(t *testing.T) {
		n, err := env.Executions.InterruptInFlight(ctx, "", "Server restarted - pipeline interrupted", models.ExecStatusFailed)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}
