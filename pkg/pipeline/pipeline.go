package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/craftwork-ai/loom/pkg/actions"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// lockPollInterval paces lock acquisition when fail-fast is off.
const lockPollInterval = 500 * time.Millisecond

// pipelineRun is one orchestration for one chat, from classification to the
// terminal run status.
type pipelineRun struct {
	orch        *Orchestrator
	chatID      string
	projectID   string
	runID       string
	userMessage string
	resume      bool
	yolo        bool

	intent       flow.Intent
	scope        string
	needsBackend bool

	tree        *workspace.Tree
	plan        *flow.Plan
	checkpoints *checkpointRegistry
	cancel      context.CancelFunc
	done        chan struct{}

	mu        sync.Mutex
	results   map[string]string // step key → output content
	execIDs   map[string]string // step key → latest execution id
	reason    string            // interrupt reason: "", "stopped", "cost_limit"
	reasonMsg string
}

// interrupt records the first interruption reason and cancels the run.
func (pr *pipelineRun) interrupt(reason, msg string) {
	pr.mu.Lock()
	if pr.reason == "" {
		pr.reason = reason
		pr.reasonMsg = msg
	}
	pr.mu.Unlock()
	pr.cancel()
}

func (pr *pipelineRun) interruptReason() (string, string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.reason, pr.reasonMsg
}

func (pr *pipelineRun) setResult(key, output string) {
	pr.mu.Lock()
	pr.results[key] = output
	pr.mu.Unlock()
}

func (pr *pipelineRun) result(key string) (string, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	v, ok := pr.results[key]
	return v, ok
}

func (pr *pipelineRun) allResults() map[string]string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make(map[string]string, len(pr.results))
	for k, v := range pr.results {
		out[k] = v
	}
	return out
}

func (pr *pipelineRun) setExecID(key, id string) {
	pr.mu.Lock()
	pr.execIDs[key] = id
	pr.mu.Unlock()
}

func (pr *pipelineRun) execID(key string) string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.execIDs[key]
}

// execute drives the whole run. It never returns an error; outcomes are
// written to the run record and broadcast as events.
func (pr *pipelineRun) execute(ctx context.Context) {
	o := pr.orch
	o.publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    pr.chatID,
		AgentName: events.OrchestratorAgentName,
		Status:    string(models.ExecStatusRunning),
	})

	err := pr.run(ctx)
	pr.finalize(err)
}

func (pr *pipelineRun) run(ctx context.Context) error {
	o := pr.orch

	tree, err := o.store.Tree(pr.projectID)
	if err != nil {
		return fmt.Errorf("failed to open project tree: %w", err)
	}
	pr.tree = tree
	pr.yolo = o.svc.Settings.Yolo(ctx, pr.chatID)

	completed := make(map[string]bool)
	if pr.resume {
		if err := pr.prepareResume(ctx, completed); err != nil {
			return err
		}
	} else {
		cls, err := pr.classify(ctx)
		if err != nil {
			return err
		}
		pr.intent = cls.Intent
		pr.scope = cls.Scope
		pr.needsBackend = cls.NeedsBackend
	}

	tmpl, err := o.loadTemplate(ctx, pr.intent)
	if err != nil {
		return err
	}
	files, _ := tree.ListFiles()
	rctx := flow.ResolutionContext{
		Intent:       string(pr.intent),
		Scope:        pr.scope,
		NeedsBackend: pr.needsBackend,
		HasFiles:     len(files) > 0,
		UserMessage:  pr.userMessage,
	}
	pr.plan = flow.Resolve(tmpl, rctx)
	if len(pr.plan.Steps) == 0 {
		return fmt.Errorf("template %q resolved to an empty plan", tmpl.ID)
	}

	// Resume state recorded before the plan existed; drop anything the
	// current template no longer emits.
	for key := range completed {
		if pr.plan.Step(key) == nil {
			delete(completed, key)
			pr.mu.Lock()
			delete(pr.results, key)
			pr.mu.Unlock()
		}
	}

	if err := pr.acquireLock(ctx); err != nil {
		return err
	}
	defer o.locker.Release(pr.projectID, pr.chatID)

	run, err := o.svc.Runs.CreateRun(ctx, services.CreateRunRequest{
		ChatID:        pr.chatID,
		Intent:        string(pr.intent),
		Scope:         pr.scope,
		NeedsBackend:  pr.needsBackend,
		UserMessage:   pr.userMessage,
		PlannedAgents: pr.plan.Order,
	})
	if err != nil {
		if errors.Is(err, services.ErrAlreadyExists) {
			return fmt.Errorf("a pipeline is already running for this chat")
		}
		return err
	}
	pr.runID = run.ID

	o.publisher.PublishPipelinePlan(events.PipelinePlanPayload{
		ChatID: pr.chatID,
		Intent: string(pr.intent),
		Agents: pr.plan.Order,
	})
	o.publisher.PublishPipelineStatus(events.PipelineStatusPayload{
		ChatID: pr.chatID,
		Status: string(models.RunStatusRunning),
	})
	if pr.resume {
		for i := range pr.plan.Steps {
			if key := pr.plan.Steps[i].InstanceID; !completed[key] {
				o.publisher.PublishAgentStatus(events.AgentStatusPayload{
					ChatID:    pr.chatID,
					AgentName: key,
					Status:    string(models.ExecStatusRunning),
				})
			}
		}
	}

	return pr.dispatch(ctx, completed)
}

// prepareResume loads the interrupted run and rebuilds step results from
// completed execution rows.
func (pr *pipelineRun) prepareResume(ctx context.Context, completed map[string]bool) error {
	o := pr.orch
	run, err := o.svc.Runs.LatestResumable(ctx, pr.chatID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return fmt.Errorf("nothing to resume for this chat")
		}
		return err
	}
	pr.intent = flow.Intent(run.Intent)
	pr.scope = run.Scope
	pr.needsBackend = run.NeedsBackend
	if pr.userMessage == "" {
		pr.userMessage = run.UserMessage
	}

	execs, err := o.svc.Executions.ListCompletedExecutions(ctx, pr.chatID)
	if err != nil {
		return err
	}
	for _, e := range execs {
		completed[e.AgentName] = true
		pr.setResult(e.AgentName, e.OutputContent())
	}
	return nil
}

// acquireLock takes the project's advisory lock, waiting unless fail-fast is
// configured.
func (pr *pipelineRun) acquireLock(ctx context.Context) error {
	o := pr.orch
	for {
		err := o.locker.Acquire(pr.projectID, pr.chatID)
		if err == nil {
			return nil
		}
		if o.cfg.Pipeline.ProjectLockFailFast {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// dispatch runs the plan reactively: seed every step whose dependencies are
// already satisfied, then launch dependents as completions arrive. Step
// failures stay step-local: the failed step's downstream cone is marked
// skipped and independent peers keep running. Only pipeline-global
// cancellation (stop, budget, shutdown, supersede) stops in-flight work;
// the loop exits when nothing is in flight, and the first step error is
// surfaced then.
func (pr *pipelineRun) dispatch(ctx context.Context, completed map[string]bool) error {
	remaining := make(map[string]int)
	dependents := make(map[string][]string)
	for i := range pr.plan.Steps {
		s := &pr.plan.Steps[i]
		if completed[s.InstanceID] {
			continue
		}
		n := 0
		for _, dep := range s.DependsOn {
			if !completed[dep] {
				n++
				dependents[dep] = append(dependents[dep], s.InstanceID)
			}
		}
		remaining[s.InstanceID] = n
	}

	type outcome struct {
		key string
		err error
	}
	results := make(chan outcome, len(remaining))
	inflight := 0
	launch := func(key string) {
		inflight++
		step := pr.plan.Step(key)
		go func() {
			_, err := pr.runStep(ctx, step)
			results <- outcome{key: key, err: err}
		}()
	}
	for key, n := range remaining {
		if n == 0 {
			launch(key)
		}
	}

	dead := make(map[string]bool)
	var skipCone func(key string)
	skipCone = func(key string) {
		for _, dep := range dependents[key] {
			if dead[dep] {
				continue
			}
			dead[dep] = true
			pr.markSkipped(dep, key)
			skipCone(dep)
		}
	}

	var firstErr error
	for inflight > 0 {
		res := <-results
		inflight--
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			if ctx.Err() == nil {
				// Step-local failure: strand only the failed step's
				// downstream cone.
				dead[res.key] = true
				skipCone(res.key)
			}
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		for _, dep := range dependents[res.key] {
			if dead[dep] {
				continue
			}
			remaining[dep]--
			if remaining[dep] == 0 {
				launch(dep)
			}
		}
	}
	return firstErr
}

// markSkipped records a step stranded by an upstream failure. Skipped steps
// get no output row content, so a later resume runs them afresh.
func (pr *pipelineRun) markSkipped(key, failedDep string) {
	o := pr.orch
	bg := context.Background()
	reason := fmt.Sprintf("skipped: upstream step %s failed", failedDep)
	exec, err := o.svc.Executions.CreateExecution(bg, pr.chatID, key, models.ExecStatusSkipped, reason)
	if err != nil {
		slog.Error("Failed to record skipped step", "chat", pr.chatID, "step", key, "error", err)
	} else {
		pr.setExecID(key, exec.ID)
	}
	o.publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    pr.chatID,
		AgentName: key,
		Status:    string(models.ExecStatusSkipped),
		Error:     reason,
	})
}

// runStep executes one plan step end to end: gates, execution record, the
// agent or action body, and the terminal status transition.
func (pr *pipelineRun) runStep(ctx context.Context, step *flow.PlanStep) (string, error) {
	o := pr.orch
	for _, gate := range step.Gates {
		if err := pr.awaitGate(ctx, gate); err != nil {
			return "", err
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	input := step.Input
	if step.Type == flow.StepAction {
		input = step.ActionKind
	}
	exec, err := o.svc.Executions.CreateExecution(ctx, pr.chatID, step.InstanceID, models.ExecStatusRunning, input)
	if err != nil {
		return "", err
	}
	pr.setExecID(step.InstanceID, exec.ID)
	o.publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    pr.chatID,
		AgentName: step.InstanceID,
		Status:    string(models.ExecStatusRunning),
	})

	var output string
	var display string
	switch step.Type {
	case flow.StepAgent:
		display = step.AgentName
		output, err = pr.runAgentStep(ctx, step, exec.ID)
	default:
		display = step.ActionKind
		output, err = o.actions.Execute(ctx, step, pr.env())
	}

	// Terminal writes use a background context so cancellation cannot lose
	// the record.
	bg := context.Background()
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted rather than failed; finalize rewrites the row.
			return "", ctx.Err()
		}
		if dbErr := o.svc.Executions.FailExecution(bg, exec.ID, err.Error()); dbErr != nil {
			slog.Error("Failed to record execution failure", "execution", exec.ID, "error", dbErr)
		}
		o.publisher.PublishAgentError(events.AgentErrorPayload{
			ChatID:    pr.chatID,
			AgentName: step.InstanceID,
			Error:     err.Error(),
		})
		o.publisher.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    pr.chatID,
			AgentName: step.InstanceID,
			Status:    string(models.ExecStatusFailed),
			Error:     err.Error(),
		})
		return "", fmt.Errorf("step %s failed: %w", step.InstanceID, err)
	}

	if dbErr := o.svc.Executions.CompleteExecution(bg, exec.ID, models.ExecutionOutput{
		Content:     output,
		DisplayName: display,
	}); dbErr != nil {
		slog.Error("Failed to record execution completion", "execution", exec.ID, "error", dbErr)
	}
	pr.setResult(step.InstanceID, output)
	o.publisher.PublishAgentStatus(events.AgentStatusPayload{
		ChatID:    pr.chatID,
		AgentName: step.InstanceID,
		Status:    string(models.ExecStatusCompleted),
	})
	return output, nil
}

// env builds the callback environment handed to action executors.
func (pr *pipelineRun) env() actions.Env {
	return actions.Env{
		ChatID:      pr.chatID,
		ProjectID:   pr.projectID,
		UserMessage: pr.userMessage,
		Scope:       pr.scope,
		Tree:        pr.tree,
		Result: func(key string) (string, bool) {
			v, err := pr.resolveSource(key)
			if err != nil || v == "" {
				return "", false
			}
			return v, true
		},
		AllResults: pr.allResults,
		RunAgent:   pr.runAdhocAgent,
		RerunStep: func(ctx context.Context, key string) (string, error) {
			step := pr.plan.Step(key)
			if step == nil {
				return "", fmt.Errorf("unknown step %q", key)
			}
			return pr.runStep(ctx, step)
		},
	}
}

// finalize writes the terminal run state and broadcasts it. Uses a
// background context throughout: the run context is usually already
// cancelled by the time we get here.
func (pr *pipelineRun) finalize(err error) {
	o := pr.orch
	bg := context.Background()
	reason, reasonMsg := pr.interruptReason()

	switch {
	case err == nil:
		if pr.runID != "" {
			if dbErr := o.svc.Runs.FinishRun(bg, pr.runID, models.RunStatusCompleted); dbErr != nil {
				slog.Error("Failed to mark run completed", "run", pr.runID, "error", dbErr)
			}
		}
		o.publisher.PublishPipelineStatus(events.PipelineStatusPayload{
			ChatID: pr.chatID,
			Status: string(models.RunStatusCompleted),
		})
		o.publisher.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    pr.chatID,
			AgentName: events.OrchestratorAgentName,
			Status:    string(models.ExecStatusCompleted),
		})
		pr.maybeRenameChat(bg)

	case reason != "":
		if _, dbErr := o.svc.Executions.InterruptInFlight(bg, pr.chatID, reasonMsg, models.ExecStatusStopped); dbErr != nil {
			slog.Error("Failed to stop in-flight executions", "chat", pr.chatID, "error", dbErr)
		}
		if pr.runID != "" {
			if dbErr := o.svc.Runs.FinishRun(bg, pr.runID, models.RunStatusInterrupted); dbErr != nil {
				slog.Error("Failed to mark run interrupted", "run", pr.runID, "error", dbErr)
			}
		}
		o.publisher.PublishPipelineInterrupted(events.PipelineInterruptedPayload{
			ChatID:     pr.chatID,
			Reason:     reason,
			PipelineID: pr.runID,
		})
		o.publisher.PublishPipelineStatus(events.PipelineStatusPayload{
			ChatID: pr.chatID,
			Status: string(models.RunStatusInterrupted),
		})
		o.publisher.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    pr.chatID,
			AgentName: events.OrchestratorAgentName,
			Status:    string(models.ExecStatusStopped),
		})

	default:
		slog.Error("Pipeline failed", "chat", pr.chatID, "run", pr.runID, "error", err)
		if _, dbErr := o.svc.Executions.InterruptInFlight(bg, pr.chatID, "Pipeline aborted", models.ExecStatusStopped); dbErr != nil {
			slog.Error("Failed to stop in-flight executions", "chat", pr.chatID, "error", dbErr)
		}
		if pr.runID != "" {
			if dbErr := o.svc.Runs.FinishRun(bg, pr.runID, models.RunStatusFailed); dbErr != nil {
				slog.Error("Failed to mark run failed", "run", pr.runID, "error", dbErr)
			}
		}
		o.publisher.PublishAgentError(events.AgentErrorPayload{
			ChatID:    pr.chatID,
			AgentName: events.OrchestratorAgentName,
			Error:     err.Error(),
		})
		o.publisher.PublishPipelineStatus(events.PipelineStatusPayload{
			ChatID: pr.chatID,
			Status: string(models.RunStatusFailed),
		})
		o.publisher.PublishAgentStatus(events.AgentStatusPayload{
			ChatID:    pr.chatID,
			AgentName: events.OrchestratorAgentName,
			Status:    string(models.ExecStatusFailed),
			Error:     err.Error(),
		})
	}
}

// maybeRenameChat replaces the default chat title after the first successful
// pipeline using the chat-renamer agent.
func (pr *pipelineRun) maybeRenameChat(ctx context.Context) {
	o := pr.orch
	chat, err := o.svc.Chats.GetChat(ctx, pr.chatID)
	if err != nil || chat.Title != models.DefaultChatTitle {
		return
	}
	title, err := pr.runAdhocAgent(ctx, "chat-renamer", pr.userMessage)
	if err != nil {
		slog.Warn("Chat rename failed", "chat", pr.chatID, "error", err)
		return
	}
	title = firstLine(title)
	if title == "" {
		return
	}
	if _, err := o.svc.Chats.RenameChat(ctx, pr.chatID, title); err != nil {
		slog.Warn("Chat rename failed", "chat", pr.chatID, "error", err)
		return
	}
	o.publisher.PublishChatRenamed(events.ChatRenamedPayload{
		ChatID: pr.chatID,
		Title:  title,
	})
}
