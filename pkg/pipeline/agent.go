package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/craftwork-ai/loom/pkg/actions"
	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/llm"
	"github.com/craftwork-ai/loom/pkg/models"
)

// errTimeout marks a step that exceeded its token-budget-derived wall clock.
var errTimeout = errors.New("agent step timed out")

// runAgentStep executes one agent step: prompt assembly, the streaming tool
// loop, and the final agent_stream broadcast. The returned transcript is the
// surfaced text of every turn plus tool activity markers.
func (pr *pipelineRun) runAgentStep(ctx context.Context, step *flow.PlanStep, execID string) (string, error) {
	o := pr.orch
	agentCfg, err := o.cfg.Agents.Get(step.AgentName)
	if err != nil {
		return "", err
	}

	input, err := pr.buildAgentInput(step)
	if err != nil {
		return "", err
	}
	tools := step.Tools
	if len(tools) == 0 {
		tools = agentCfg.Tools
	}
	maxTokens := firstPositive(step.MaxOutputTokens, agentCfg.MaxOutputTokens, o.cfg.Pipeline.DefaultMaxOutputTokens)
	maxToolSteps := firstPositive(step.MaxToolSteps, agentCfg.MaxToolSteps, o.cfg.Pipeline.DefaultMaxToolSteps)

	system := pr.composeSystemPrompt(step.SystemPrompt, agentCfg, tools)
	client := o.llm.Client(agentCfg.Provider)
	model := agentCfg.Model
	if model == "" {
		model = o.llm.Model(client.Provider())
	}
	timeout := o.cfg.Pipeline.AgentTimeout(maxTokens)

	messages := []llm.Message{{Role: models.RoleUser, Content: input}}
	var transcript strings.Builder
	toolSteps := 0

	for {
		text, calls, err := pr.streamWithRetry(ctx, execID, step.InstanceID, client, llm.Request{
			Model:           model,
			SystemPrompt:    system,
			Messages:        messages,
			MaxOutputTokens: maxTokens,
		}, timeout, true)
		if err != nil {
			return "", err
		}
		transcript.WriteString(text)

		if len(calls) == 0 {
			break
		}
		if toolSteps+len(calls) > maxToolSteps {
			slog.Warn("Tool step budget exhausted",
				"chat", pr.chatID, "step", step.InstanceID, "budget", maxToolSteps)
			break
		}

		var toolResults strings.Builder
		for _, call := range calls {
			toolSteps++
			result, written := pr.executeToolCall(ctx, tools, call)
			for _, path := range written {
				fmt.Fprintf(&transcript, "\n[write_file] %s", path)
			}
			fmt.Fprintf(&toolResults, "%s\n", result)
		}
		messages = append(messages,
			llm.Message{Role: models.RoleAssistant, Content: text + "\n(tool calls executed)"},
			llm.Message{Role: models.RoleUser, Content: "Tool results:\n" + toolResults.String() + "\nContinue."},
		)
	}

	content := transcript.String()
	o.publisher.PublishAgentStream(events.AgentStreamPayload{
		ChatID:    pr.chatID,
		AgentName: step.InstanceID,
		Content:   content,
	})
	return content, nil
}

// runAdhocAgent runs a named agent outside the plan (fix loops, classifier,
// chat rename). It gets its own execution row keyed by the agent name.
func (pr *pipelineRun) runAdhocAgent(ctx context.Context, agentName, input string) (string, error) {
	o := pr.orch
	exec, err := o.svc.Executions.CreateExecution(ctx, pr.chatID, agentName, models.ExecStatusRunning, input)
	if err != nil {
		return "", err
	}
	step := &flow.PlanStep{
		Type:       flow.StepAgent,
		InstanceID: agentName,
		AgentName:  agentName,
		Input:      input,
	}
	output, err := pr.runAgentStep(ctx, step, exec.ID)
	bg := context.Background()
	if err != nil {
		if ctx.Err() == nil {
			_ = o.svc.Executions.FailExecution(bg, exec.ID, err.Error())
		}
		return "", err
	}
	if dbErr := o.svc.Executions.CompleteExecution(bg, exec.ID, models.ExecutionOutput{
		Content:     output,
		DisplayName: agentName,
	}); dbErr != nil {
		slog.Error("Failed to record execution completion", "execution", exec.ID, "error", dbErr)
	}
	return output, nil
}

// complete is the plain completion path used by action executors: one
// streamed call, no tool parsing, charged to the action's execution row.
func (pr *pipelineRun) complete(ctx context.Context, req actions.CompletionRequest) (string, error) {
	o := pr.orch
	client := o.llm.Client("")
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = o.cfg.Pipeline.DefaultMaxOutputTokens
	}
	timeout := o.cfg.Pipeline.AgentTimeout(maxTokens)
	execID := pr.execID(req.StepKey)

	text, _, err := pr.streamWithRetry(ctx, execID, req.StepKey, client, llm.Request{
		Model:           o.llm.Model(client.Provider()),
		SystemPrompt:    req.SystemPrompt,
		Messages:        []llm.Message{{Role: models.RoleUser, Content: req.Input}},
		MaxOutputTokens: maxTokens,
	}, timeout, false)
	return text, err
}

// streamWithRetry wraps streamOnce with bounded retries on transient
// provider failures. Each retry flips the execution row to retrying and
// back.
func (pr *pipelineRun) streamWithRetry(ctx context.Context, execID, stepKey string, client llm.Client, req llm.Request, timeout time.Duration, parseTools bool) (string, []string, error) {
	o := pr.orch
	var text string
	var calls []string

	attempt := 0
	operation := func() error {
		if attempt > 0 {
			if execID != "" {
				_ = o.svc.Executions.MarkRunning(ctx, execID)
			}
		}
		var err error
		text, calls, err = pr.streamOnce(ctx, execID, stepKey, client, req, timeout, parseTools)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !llm.IsTransient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		if execID != "" {
			_ = o.svc.Executions.MarkRetrying(ctx, execID, err.Error())
		}
		o.publisher.PublishAgentError(events.AgentErrorPayload{
			ChatID:    pr.chatID,
			AgentName: stepKey,
			Error:     err.Error(),
			Retrying:  true,
		})
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(o.cfg.Pipeline.MaxAgentRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", nil, err
	}
	return text, calls, nil
}

// streamOnce consumes one provider stream: deltas fan out as agent_thinking
// frames, usage chunks are recorded as they arrive, tool-call blocks are
// extracted when parseTools is set.
func (pr *pipelineRun) streamOnce(ctx context.Context, execID, stepKey string, client llm.Client, req llm.Request, timeout time.Duration, parseTools bool) (string, []string, error) {
	o := pr.orch
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chunks, errs := client.Stream(sctx, req)
	scanner := llm.NewToolCallScanner()
	var b strings.Builder
	var calls []string
	var streamErr error

	emit := func(text string) {
		if text == "" {
			return
		}
		b.WriteString(text)
		o.publisher.PublishAgentThinking(events.AgentThinkingPayload{
			ChatID:    pr.chatID,
			AgentName: stepKey,
			Delta:     text,
		})
	}

	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if c.Usage != nil {
				pr.recordUsage(execID, stepKey, client.Provider(), req.Model, *c.Usage)
			}
			if c.Delta == "" {
				continue
			}
			if !parseTools {
				emit(c.Delta)
				continue
			}
			text, newCalls := scanner.Feed(c.Delta)
			emit(text)
			calls = append(calls, newCalls...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && streamErr == nil {
				streamErr = err
			}
		}
	}
	if parseTools {
		emit(scanner.Flush())
	}

	if streamErr != nil {
		if sctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return "", nil, fmt.Errorf("%w after %s", errTimeout, timeout)
		}
		return "", nil, streamErr
	}
	if ctx.Err() != nil {
		return "", nil, ctx.Err()
	}
	return b.String(), calls, nil
}

// recordUsage persists one usage record, broadcasts it, and enforces the
// cost budgets. Persistence failures are logged, never fatal.
func (pr *pipelineRun) recordUsage(execID, stepKey, provider, model string, u llm.Usage) {
	o := pr.orch
	bg := context.Background()
	cost := o.llm.Cost(model, u)
	row := &models.TokenUsage{
		ExecutionID:      execID,
		ChatID:           pr.chatID,
		AgentName:        stepKey,
		Provider:         provider,
		Model:            model,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CostEstimate:     cost,
	}
	if err := o.svc.Usage.RecordUsage(bg, row); err != nil {
		slog.Error("Failed to record token usage", "chat", pr.chatID, "error", err)
	}
	o.publisher.PublishTokenUsage(events.TokenUsagePayload{
		ChatID:       pr.chatID,
		AgentName:    stepKey,
		Provider:     provider,
		Model:        model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  row.TotalTokens,
		CostEstimate: cost,
	})
	pr.checkBudget(bg)
}

// checkBudget interrupts the pipeline when cumulative spend crosses a
// configured chat or project limit.
func (pr *pipelineRun) checkBudget(ctx context.Context) {
	o := pr.orch
	if limit := o.cfg.Budget.ChatCostLimitUSD; limit > 0 {
		cost, err := o.svc.Usage.ChatCost(ctx, pr.chatID)
		if err == nil && cost >= limit {
			slog.Warn("Chat cost limit reached", "chat", pr.chatID, "cost", cost, "limit", limit)
			pr.interrupt("cost_limit", fmt.Sprintf("Chat cost limit of $%.2f reached", limit))
			return
		}
	}
	if limit := o.cfg.Budget.ProjectCostLimitUSD; limit > 0 {
		cost, err := o.svc.Usage.ProjectCost(ctx, pr.projectID)
		if err == nil && cost >= limit {
			slog.Warn("Project cost limit reached", "project", pr.projectID, "cost", cost, "limit", limit)
			pr.interrupt("cost_limit", fmt.Sprintf("Project cost limit of $%.2f reached", limit))
		}
	}
}

// composeSystemPrompt layers the template's base prompt, the agent's role
// prompt (or the node override), and the tool protocol.
func (pr *pipelineRun) composeSystemPrompt(override string, agentCfg config.AgentConfig, tools []string) string {
	var parts []string
	if pr.plan != nil && pr.plan.BaseSystemPrompt != "" {
		parts = append(parts, pr.plan.BaseSystemPrompt)
	}
	role := agentCfg.SystemPrompt
	if override != "" {
		role = override
	}
	if role != "" {
		parts = append(parts, role)
	}
	if len(tools) > 0 {
		parts = append(parts, pr.toolProtocol(tools))
	}
	return strings.Join(parts, "\n\n")
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(s, `"`)
}
