// Package pipeline is the orchestrator: it classifies the user message,
// resolves the active flow template into a plan, and dispatches plan steps
// with dependency gating, checkpoints, retries, budget enforcement, and
// resume from durable execution records.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/craftwork-ai/loom/pkg/actions"
	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/llm"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// InterruptedRestart is the synthetic error written on executions orphaned by
// a server restart.
const InterruptedRestart = "Server restarted - pipeline interrupted"

// Services bundles the persistence gateways the orchestrator depends on.
type Services struct {
	Projects   *services.ProjectService
	Chats      *services.ChatService
	Messages   *services.MessageService
	Executions *services.ExecutionService
	Runs       *services.RunService
	Usage      *services.UsageService
	Settings   *services.SettingsService
	Snapshots  *services.SnapshotService
}

// Orchestrator owns pipeline execution. One pipeline may run per chat at a
// time; the active map is the in-process registry the cancel, checkpoint,
// and status paths go through.
type Orchestrator struct {
	cfg       *config.Config
	llm       *llm.Registry
	publisher *events.Publisher
	store     *workspace.Store
	runner    *workspace.Runner
	locker    *workspace.Locker
	svc       Services
	actions   *actions.Executor

	mu     sync.Mutex
	active map[string]*pipelineRun // chat id → running pipeline
}

// NewOrchestrator wires an Orchestrator. The action executor is constructed
// here because its LLM calls route back through the orchestrator for usage
// accounting.
func NewOrchestrator(cfg *config.Config, registry *llm.Registry, publisher *events.Publisher, store *workspace.Store, runner *workspace.Runner, locker *workspace.Locker, svc Services) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		llm:       registry,
		publisher: publisher,
		store:     store,
		runner:    runner,
		locker:    locker,
		svc:       svc,
		active:    make(map[string]*pipelineRun),
	}
	o.actions = actions.NewExecutor(cfg, runner, publisher, o, svc.Messages, svc.Projects, svc.Snapshots)
	return o
}

// RecoverOrphans flips runs and executions left behind by a previous process
// into resumable/terminal states. Call once at startup before serving.
func (o *Orchestrator) RecoverOrphans(ctx context.Context) error {
	runs, err := o.svc.Runs.InterruptRunning(ctx)
	if err != nil {
		return err
	}
	execs, err := o.svc.Executions.InterruptInFlight(ctx, "", InterruptedRestart, models.ExecStatusFailed)
	if err != nil {
		return err
	}
	if runs > 0 || execs > 0 {
		slog.Info("Recovered orphaned pipeline state", "runs", runs, "executions", execs)
	}
	return nil
}

// Shutdown interrupts every active pipeline and waits for their terminal
// writes to land, bounded by ctx. Interrupted runs resume after restart.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	active := make([]*pipelineRun, 0, len(o.active))
	for _, pr := range o.active {
		active = append(active, pr)
	}
	o.mu.Unlock()

	for _, pr := range active {
		pr.interrupt("restart", InterruptedRestart)
	}
	for _, pr := range active {
		select {
		case <-pr.done:
		case <-ctx.Done():
			return
		}
	}
}

// RunRequest starts (or resumes) a pipeline for a chat.
type RunRequest struct {
	ChatID      string
	UserMessage string
	Resume      bool
}

// Run launches a pipeline in the background. A pipeline already running for
// the chat is cancelled and superseded. Run returns an error only for setup
// problems visible synchronously; everything later is reported through
// events and the durable run record.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) error {
	chat, err := o.svc.Chats.GetChat(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}

	if prev := o.lookup(chat.ID); prev != nil {
		prev.interrupt("stopped", "Superseded by a new request")
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	pr := &pipelineRun{
		orch:        o,
		chatID:      chat.ID,
		projectID:   chat.ProjectID,
		userMessage: req.UserMessage,
		resume:      req.Resume,
		results:     make(map[string]string),
		execIDs:     make(map[string]string),
		checkpoints: newCheckpointRegistry(),
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	if _, running := o.active[chat.ID]; running {
		o.mu.Unlock()
		return services.ErrAlreadyExists
	}
	o.active[chat.ID] = pr
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	pr.cancel = cancel
	go func() {
		defer close(pr.done)
		defer o.release(chat.ID)
		pr.execute(runCtx)
	}()
	return nil
}

func (o *Orchestrator) release(chatID string) {
	o.mu.Lock()
	delete(o.active, chatID)
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(chatID string) *pipelineRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[chatID]
}

// Stop cancels the chat's running pipeline. In-flight executions are marked
// stopped and the run becomes resumable.
func (o *Orchestrator) Stop(chatID string) error {
	pr := o.lookup(chatID)
	if pr == nil {
		return services.ErrNotFound
	}
	pr.interrupt("stopped", "Stopped by user")
	return nil
}

// ResolveCheckpoint delivers a choice to a pending checkpoint gate.
func (o *Orchestrator) ResolveCheckpoint(chatID, checkpointID, choice string) error {
	pr := o.lookup(chatID)
	if pr == nil {
		return services.ErrNotFound
	}
	return pr.checkpoints.resolve(checkpointID, choice)
}

// PipelineStatus is the orchestrator's answer to the status endpoint.
type PipelineStatus struct {
	Running               bool                     `json:"running"`
	Executions            []*models.AgentExecution `json:"executions"`
	InterruptedPipelineID string                   `json:"interruptedPipelineId,omitempty"`
}

// Status reports whether a pipeline runs for the chat, its execution history,
// and the most recent resumable run if any.
func (o *Orchestrator) Status(ctx context.Context, chatID string) (*PipelineStatus, error) {
	execs, err := o.svc.Executions.ListExecutions(ctx, chatID)
	if err != nil {
		return nil, err
	}
	status := &PipelineStatus{
		Running:    o.lookup(chatID) != nil,
		Executions: execs,
	}
	if run, err := o.svc.Runs.LatestResumable(ctx, chatID); err == nil {
		status.InterruptedPipelineID = run.ID
	}
	return status, nil
}

// Complete implements actions.LLMCaller: one plain completion charged to the
// calling step's execution row.
func (o *Orchestrator) Complete(ctx context.Context, req actions.CompletionRequest) (string, error) {
	pr := o.lookup(req.ChatID)
	if pr == nil {
		return "", fmt.Errorf("no pipeline running for chat %s", req.ChatID)
	}
	return pr.complete(ctx, req)
}
