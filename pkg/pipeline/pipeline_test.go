package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/database"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/llm"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// fakeLLM scripts provider responses per request and records the order agent
// inputs arrived in.
type fakeLLM struct {
	mu     sync.Mutex
	inputs []string
	fn     func(req llm.Request) (string, *llm.Usage, error)
}

func (f *fakeLLM) Provider() string { return "anthropic" }

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, <-chan error) {
	input := req.Messages[len(req.Messages)-1].Content
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	chunks := make(chan llm.Chunk, 2)
	errs := make(chan error, 1)
	text, usage, err := f.fn(req)
	if err != nil {
		errs <- err
	} else {
		if usage != nil {
			chunks <- llm.Chunk{Usage: usage}
		}
		chunks <- llm.Chunk{Delta: text}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeLLM) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

func (f *fakeLLM) indexOf(input string) int {
	for i, in := range f.seen() {
		if in == input {
			return i
		}
	}
	return -1
}

const classifyBuildFull = `{"intent":"build","scope":"full","needsBackend":true}`

// newPipelineHarness wires a full orchestrator over an in-memory database
// and a scripted provider, plus one project with one chat. The chat gets a
// non-default title so auto-rename stays out of the call log.
func newPipelineHarness(t *testing.T, fn func(req llm.Request) (string, *llm.Usage, error)) (*Orchestrator, *fakeLLM, string) {
	t.Helper()
	client, err := database.NewClient(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := client.DB()
	svc := Services{
		Projects:   services.NewProjectService(db),
		Chats:      services.NewChatService(db),
		Messages:   services.NewMessageService(db),
		Executions: services.NewExecutionService(db),
		Runs:       services.NewRunService(db),
		Usage:      services.NewUsageService(db),
		Settings:   services.NewSettingsService(db),
		Snapshots:  services.NewSnapshotService(db),
	}

	providers := config.NewProviderRegistry()
	providers.Register(config.ProviderConfig{Name: "anthropic", Model: "claude-sonnet-4-5"})
	cfg := &config.Config{
		Pipeline: config.PipelineDefaults{
			DefaultMaxOutputTokens: 1024,
			DefaultMaxToolSteps:    4,
			AgentTimeoutBase:       5 * time.Second,
			AgentTimeoutPerToken:   time.Millisecond,
		},
		Providers: providers,
		Agents:    config.BuiltinAgentRegistry(),
	}
	fake := &fakeLLM{fn: fn}
	registry := llm.NewStaticRegistry(providers, map[string]llm.Client{"anthropic": fake})
	publisher := events.NewPublisher(events.NewBus())
	store := workspace.NewStore(t.TempDir(), publisher)

	o := NewOrchestrator(cfg, registry, publisher, store, workspace.NewRunner(), workspace.NewLocker(), svc)

	ctx := context.Background()
	project, err := svc.Projects.CreateProject(ctx, "Harness", t.TempDir())
	require.NoError(t, err)
	chat, err := svc.Chats.CreateChat(ctx, project.ID, "Work chat")
	require.NoError(t, err)
	return o, fake, chat.ID
}

func activateTemplate(t *testing.T, o *Orchestrator, tmpl *flow.Template) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, o.svc.Settings.SaveFlowTemplate(ctx, tmpl.ID, tmpl))
	require.NoError(t, o.svc.Settings.SetActiveTemplate(ctx, string(tmpl.Intent), tmpl.ID))
}

// waitForRun blocks until the chat's pipeline finishes and returns the
// terminal run record, skipping any pre-seeded run ids.
func waitForRun(t *testing.T, o *Orchestrator, chatID string, ignore ...string) *models.PipelineRun {
	t.Helper()
	skip := make(map[string]bool, len(ignore))
	for _, id := range ignore {
		skip[id] = true
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if o.lookup(chatID) == nil {
			runs, err := o.svc.Runs.ListRuns(context.Background(), chatID)
			require.NoError(t, err)
			for _, run := range runs {
				if !skip[run.ID] && run.Status != models.RunStatusRunning {
					return run
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline did not reach a terminal state")
	return nil
}

func executionsByName(t *testing.T, o *Orchestrator, chatID string) map[string]*models.AgentExecution {
	t.Helper()
	execs, err := o.svc.Executions.ListExecutions(context.Background(), chatID)
	require.NoError(t, err)
	byName := make(map[string]*models.AgentExecution, len(execs))
	for _, e := range execs {
		byName[e.AgentName] = e
	}
	return byName
}

func TestPipeline_DispatchRespectsDependencies(t *testing.T) {
	o, fake, chatID := newPipelineHarness(t, func(req llm.Request) (string, *llm.Usage, error) {
		if req.Messages[0].Content == "make a landing page" {
			return classifyBuildFull, nil, nil
		}
		return "done", nil, nil
	})
	activateTemplate(t, o, &flow.Template{
		ID: "diamond", Name: "Diamond", Intent: flow.IntentBuild, Enabled: true, Version: 1,
		Nodes: []flow.FlowNode{
			{ID: "gather", Type: flow.NodeAgent, AgentName: "research", InputTemplate: "gather-notes"},
			{ID: "plan-fe", Type: flow.NodeAgent, AgentName: "frontend-dev", InputTemplate: "frontend-pass"},
			{ID: "plan-be", Type: flow.NodeAgent, AgentName: "backend-dev", InputTemplate: "backend-pass"},
			{ID: "review", Type: flow.NodeAgent, AgentName: "code-review", InputTemplate: "review-pass"},
		},
		Edges: []flow.FlowEdge{
			{Source: "gather", Target: "plan-fe"},
			{Source: "gather", Target: "plan-be"},
			{Source: "plan-fe", Target: "review"},
			{Source: "plan-be", Target: "review"},
		},
	})

	require.NoError(t, o.Run(context.Background(), RunRequest{ChatID: chatID, UserMessage: "make a landing page"}))
	run := waitForRun(t, o, chatID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	byName := executionsByName(t, o, chatID)
	for _, key := range []string{"gather", "plan-fe", "plan-be", "review"} {
		require.Contains(t, byName, key)
		assert.Equal(t, models.ExecStatusCompleted, byName[key].Status, "step %s", key)
	}

	// Dependents only start after their dependencies reported in.
	gather := fake.indexOf("gather-notes")
	review := fake.indexOf("review-pass")
	require.GreaterOrEqual(t, gather, 0)
	require.GreaterOrEqual(t, review, 0)
	assert.Less(t, gather, fake.indexOf("frontend-pass"))
	assert.Less(t, gather, fake.indexOf("backend-pass"))
	assert.Greater(t, review, fake.indexOf("frontend-pass"))
	assert.Greater(t, review, fake.indexOf("backend-pass"))
}

func TestPipeline_StepFailureIsStepLocal(t *testing.T) {
	o, fake, chatID := newPipelineHarness(t, func(req llm.Request) (string, *llm.Usage, error) {
		switch req.Messages[0].Content {
		case "fix the login":
			return classifyBuildFull, nil, nil
		case "boom-input":
			return "", nil, errors.New("agent exploded")
		case "peer-input":
			// The peer outlives the failure on purpose.
			time.Sleep(75 * time.Millisecond)
			return "peer-ok", nil, nil
		}
		return "done", nil, nil
	})
	activateTemplate(t, o, &flow.Template{
		ID: "split", Name: "Split", Intent: flow.IntentBuild, Enabled: true, Version: 1,
		Nodes: []flow.FlowNode{
			{ID: "broken", Type: flow.NodeAgent, AgentName: "research", InputTemplate: "boom-input"},
			{ID: "downstream", Type: flow.NodeAgent, AgentName: "qa", InputTemplate: "after-broken"},
			{ID: "peer", Type: flow.NodeAgent, AgentName: "styling", InputTemplate: "peer-input"},
		},
		Edges: []flow.FlowEdge{
			{Source: "broken", Target: "downstream"},
		},
	})

	require.NoError(t, o.Run(context.Background(), RunRequest{ChatID: chatID, UserMessage: "fix the login"}))
	run := waitForRun(t, o, chatID)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	byName := executionsByName(t, o, chatID)

	require.Contains(t, byName, "broken")
	assert.Equal(t, models.ExecStatusFailed, byName["broken"].Status)
	assert.Contains(t, byName["broken"].Error, "agent exploded")

	// The independent peer keeps running and completes despite the failure.
	require.Contains(t, byName, "peer")
	assert.Equal(t, models.ExecStatusCompleted, byName["peer"].Status)
	assert.Equal(t, "peer-ok", byName["peer"].OutputContent())

	// Only the failed step's downstream cone is stranded, and it never ran.
	require.Contains(t, byName, "downstream")
	assert.Equal(t, models.ExecStatusSkipped, byName["downstream"].Status)
	assert.Equal(t, -1, fake.indexOf("after-broken"))
}

func TestPipeline_CostLimitInterrupts(t *testing.T) {
	o, fake, chatID := newPipelineHarness(t, func(req llm.Request) (string, *llm.Usage, error) {
		switch req.Messages[0].Content {
		case "burn tokens":
			return classifyBuildFull, nil, nil
		case "expensive-input":
			return "big output", &llm.Usage{InputTokens: 1_000_000}, nil
		}
		return "done", nil, nil
	})
	o.cfg.Budget.ChatCostLimitUSD = 0.5
	activateTemplate(t, o, &flow.Template{
		ID: "spendy", Name: "Spendy", Intent: flow.IntentBuild, Enabled: true, Version: 1,
		Nodes: []flow.FlowNode{
			{ID: "spender", Type: flow.NodeAgent, AgentName: "research", InputTemplate: "expensive-input"},
			{ID: "never", Type: flow.NodeAgent, AgentName: "qa", InputTemplate: "after-spender"},
		},
		Edges: []flow.FlowEdge{
			{Source: "spender", Target: "never"},
		},
	})

	require.NoError(t, o.Run(context.Background(), RunRequest{ChatID: chatID, UserMessage: "burn tokens"}))
	run := waitForRun(t, o, chatID)
	assert.Equal(t, models.RunStatusInterrupted, run.Status)

	// The interrupted run is resumable.
	resumable, err := o.svc.Runs.LatestResumable(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, resumable.ID)

	byName := executionsByName(t, o, chatID)
	require.Contains(t, byName, "spender")
	assert.Equal(t, models.ExecStatusStopped, byName["spender"].Status)
	assert.NotContains(t, byName, "never")
	assert.Equal(t, -1, fake.indexOf("after-spender"))
}

func TestPipeline_ResumeSkipsCompletedSteps(t *testing.T) {
	o, fake, chatID := newPipelineHarness(t, func(req llm.Request) (string, *llm.Usage, error) {
		return "resumed output", nil, nil
	})
	activateTemplate(t, o, &flow.Template{
		ID: "twostep", Name: "Two Step", Intent: flow.IntentBuild, Enabled: true, Version: 1,
		Nodes: []flow.FlowNode{
			{ID: "first", Type: flow.NodeAgent, AgentName: "research", InputTemplate: "fresh-start"},
			{ID: "second", Type: flow.NodeAgent, AgentName: "architect", InputTemplate: "continue-work",
				UpstreamSources: []flow.UpstreamSource{{SourceKey: "first", Alias: "Earlier notes"}}},
		},
		Edges: []flow.FlowEdge{
			{Source: "first", Target: "second"},
		},
	})

	// An earlier run finished "first" and was interrupted before "second".
	ctx := context.Background()
	seeded, err := o.svc.Runs.CreateRun(ctx, services.CreateRunRequest{
		ChatID: chatID, Intent: "build", Scope: "full", NeedsBackend: true,
		UserMessage: "resume me", PlannedAgents: []string{"first", "second"},
	})
	require.NoError(t, err)
	require.NoError(t, o.svc.Runs.FinishRun(ctx, seeded.ID, models.RunStatusInterrupted))
	exec, err := o.svc.Executions.CreateExecution(ctx, chatID, "first", models.ExecStatusRunning, "fresh-start")
	require.NoError(t, err)
	require.NoError(t, o.svc.Executions.CompleteExecution(ctx, exec.ID, models.ExecutionOutput{
		Content: "prior research notes", DisplayName: "research",
	}))

	require.NoError(t, o.Run(ctx, RunRequest{ChatID: chatID, Resume: true}))
	run := waitForRun(t, o, chatID, seeded.ID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	// The completed step is not re-executed; no classification happens on
	// resume either.
	assert.Equal(t, -1, fake.indexOf("fresh-start"))
	require.Len(t, fake.seen(), 1)

	// The rerun step sees the prior step's durable output.
	input := fake.seen()[0]
	assert.Contains(t, input, "continue-work")
	assert.Contains(t, input, "Earlier notes")
	assert.Contains(t, input, "prior research notes")
}
