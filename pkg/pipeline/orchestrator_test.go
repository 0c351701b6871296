package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/database"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// newDBOrchestrator wires an Orchestrator with the full service bundle over
// a fresh in-memory database. No LLM registry and no action executor are
// attached; tests here exercise the control surface and recovery paths only.
func newDBOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	client, err := database.NewClient(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := client.DB()
	return &Orchestrator{
		cfg:    &config.Config{},
		locker: workspace.NewLocker(),
		active: make(map[string]*pipelineRun),
		svc: Services{
			Projects:   services.NewProjectService(db),
			Chats:      services.NewChatService(db),
			Messages:   services.NewMessageService(db),
			Executions: services.NewExecutionService(db),
			Runs:       services.NewRunService(db),
			Usage:      services.NewUsageService(db),
			Settings:   services.NewSettingsService(db),
			Snapshots:  services.NewSnapshotService(db),
		},
	}
}

func seedRunningPipeline(t *testing.T, o *Orchestrator) (chatID, runID string) {
	t.Helper()
	ctx := context.Background()
	project, err := o.svc.Projects.CreateProject(ctx, "Test Project", t.TempDir())
	require.NoError(t, err)
	chat, err := o.svc.Chats.CreateChat(ctx, project.ID, "")
	require.NoError(t, err)
	run, err := o.svc.Runs.CreateRun(ctx, services.CreateRunRequest{
		ChatID:        chat.ID,
		Intent:        "build",
		Scope:         "full",
		UserMessage:   "make me a todo app",
		PlannedAgents: []string{"research", "architect"},
	})
	require.NoError(t, err)
	return chat.ID, run.ID
}

func TestRecoverOrphans(t *testing.T) {
	o := newDBOrchestrator(t)
	ctx := context.Background()
	chatID, runID := seedRunningPipeline(t, o)

	inflight, err := o.svc.Executions.CreateExecution(ctx, chatID, "research", models.ExecStatusRunning, "input")
	require.NoError(t, err)
	done, err := o.svc.Executions.CreateExecution(ctx, chatID, "vibe-intake", models.ExecStatusRunning, "input")
	require.NoError(t, err)
	require.NoError(t, o.svc.Executions.CompleteExecution(ctx, done.ID, models.ExecutionOutput{Content: "brief"}))

	require.NoError(t, o.RecoverOrphans(ctx))

	// The run becomes resumable and the in-flight execution is failed with
	// the restart marker; finished rows are untouched.
	run, err := o.svc.Runs.LatestResumable(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, models.RunStatusInterrupted, run.Status)

	execs, err := o.svc.Executions.ListExecutions(ctx, chatID)
	require.NoError(t, err)
	byID := make(map[string]*models.AgentExecution, len(execs))
	for _, e := range execs {
		byID[e.ID] = e
	}
	assert.Equal(t, models.ExecStatusFailed, byID[inflight.ID].Status)
	assert.Equal(t, InterruptedRestart, byID[inflight.ID].Error)
	assert.Equal(t, models.ExecStatusCompleted, byID[done.ID].Status)

	// Completed work survives recovery, so a resume picks it back up.
	completed, err := o.svc.Executions.ListCompletedExecutions(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "vibe-intake", completed[0].AgentName)
}

func TestRecoverOrphans_CleanDatabase(t *testing.T) {
	o := newDBOrchestrator(t)
	require.NoError(t, o.RecoverOrphans(context.Background()))
}

func TestStop_NoActivePipeline(t *testing.T) {
	o := newDBOrchestrator(t)
	assert.ErrorIs(t, o.Stop("no-such-chat"), services.ErrNotFound)
}

func TestResolveCheckpoint_NoActivePipeline(t *testing.T) {
	o := newDBOrchestrator(t)
	err := o.ResolveCheckpoint("no-such-chat", "design-checkpoint", "approve")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestStatus(t *testing.T) {
	o := newDBOrchestrator(t)
	ctx := context.Background()
	chatID, runID := seedRunningPipeline(t, o)

	_, err := o.svc.Executions.CreateExecution(ctx, chatID, "research", models.ExecStatusRunning, "input")
	require.NoError(t, err)

	status, err := o.Status(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, status.Running, "no in-process pipeline registered")
	assert.Len(t, status.Executions, 1)
	assert.Empty(t, status.InterruptedPipelineID, "a running run is not resumable")

	require.NoError(t, o.svc.Runs.FinishRun(ctx, runID, models.RunStatusInterrupted))
	status, err = o.Status(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, runID, status.InterruptedPipelineID)
}

func TestAcquireLock_FailFast(t *testing.T) {
	o := newDBOrchestrator(t)
	o.cfg.Pipeline.ProjectLockFailFast = true
	require.NoError(t, o.locker.Acquire("proj", "other-chat"))

	pr := &pipelineRun{orch: o, projectID: "proj", chatID: "chat"}
	err := pr.acquireLock(context.Background())
	assert.ErrorIs(t, err, workspace.ErrProjectLocked)
}

func TestAcquireLock_WaitCancelled(t *testing.T) {
	o := newDBOrchestrator(t)
	require.NoError(t, o.locker.Acquire("proj", "other-chat"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	pr := &pipelineRun{orch: o, projectID: "proj", chatID: "chat"}
	err := pr.acquireLock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	o := newDBOrchestrator(t)
	require.NoError(t, o.locker.Acquire("proj", "other-chat"))
	go func() {
		time.Sleep(50 * time.Millisecond)
		o.locker.Release("proj", "other-chat")
	}()

	pr := &pipelineRun{orch: o, projectID: "proj", chatID: "chat"}
	require.NoError(t, pr.acquireLock(context.Background()))

	holder, ok := o.locker.Holder("proj")
	require.True(t, ok)
	assert.Equal(t, "chat", holder)
}

func TestComposeSystemPrompt(t *testing.T) {
	pr := &pipelineRun{plan: &flow.Plan{BaseSystemPrompt: "Base rules."}}

	got := pr.composeSystemPrompt("", config.AgentConfig{SystemPrompt: "You are the architect."}, nil)
	assert.Equal(t, "Base rules.\n\nYou are the architect.", got)

	got = pr.composeSystemPrompt("Override prompt.", config.AgentConfig{SystemPrompt: "ignored"}, nil)
	assert.Equal(t, "Base rules.\n\nOverride prompt.", got)

	pr.plan = nil
	got = pr.composeSystemPrompt("", config.AgentConfig{}, nil)
	assert.Empty(t, got)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Todo App", firstLine("  \"Todo App\"\nsecond line\n"))
	assert.Equal(t, "plain", firstLine("plain"))
	assert.Equal(t, "", firstLine("   \n\n"))
}

func TestFirstPositive(t *testing.T) {
	assert.Equal(t, 5, firstPositive(0, -1, 5, 9))
	assert.Equal(t, 0, firstPositive(0, 0))
}
