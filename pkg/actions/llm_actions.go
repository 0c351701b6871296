package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

// Single-call LLM actions. Each makes one completion with a kind-specific
// system prompt and persists the result as a chat message; metadata.type
// tells the client how to render it.

const (
	defaultSummaryTokens = 1024

	summaryPrompt = "Summarize what was just built for the user in a few short paragraphs. " +
		"Mention what works now and anything left incomplete. Plain prose, no headings."

	vibeIntakePrompt = "Extract the design vibe from the user's request. Respond with strict JSON: " +
		`{"adjectives":[string],"metaphor":string,"targetUser":string,"antiReferences":[string]}. No prose.`

	moodAnalysisPrompt = "Given a design brief, describe the visual mood to aim for: palette direction, " +
		"typography feel, density, and motion. Be concrete and brief."

	answerPrompt = "Answer the user's question about their project. Use the provided project source " +
		"when it is relevant. Do not propose code changes; just answer."
)

func (e *Executor) summary(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	maxTokens := step.Action.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultSummaryTokens
	}
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\nPipeline step outputs:\n\n", env.UserMessage)
	results := env.AllResults()
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "## %s\n%s\n\n", k, firstLines(results[k], 30))
	}

	content, err := e.llm.Complete(ctx, CompletionRequest{
		ChatID:          env.ChatID,
		StepKey:         step.InstanceID,
		SystemPrompt:    promptOverride(step, summaryPrompt),
		Input:           b.String(),
		MaxOutputTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	if err := e.postMessage(ctx, env, step, content, "plain"); err != nil {
		return "", err
	}
	return content, nil
}

func (e *Executor) vibeIntake(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	content, err := e.llm.Complete(ctx, CompletionRequest{
		ChatID:          env.ChatID,
		StepKey:         step.InstanceID,
		SystemPrompt:    promptOverride(step, vibeIntakePrompt),
		Input:           env.UserMessage,
		MaxOutputTokens: step.Action.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}

	var brief models.VibeBrief
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &brief); err != nil {
		return "", fmt.Errorf("vibe intake returned malformed JSON: %w", err)
	}
	if err := e.projects.SetVibeBrief(ctx, env.ProjectID, &brief); err != nil {
		return "", err
	}
	if err := e.postMessage(ctx, env, step, content, models.MessageTypeVibeBrief); err != nil {
		return "", err
	}
	return content, nil
}

func (e *Executor) moodAnalysis(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	input := env.UserMessage
	if brief, ok := env.Result(flow.SourceVibeBrief); ok {
		input = fmt.Sprintf("%s\n\nVibe brief:\n%s", env.UserMessage, brief)
	}
	content, err := e.llm.Complete(ctx, CompletionRequest{
		ChatID:          env.ChatID,
		StepKey:         step.InstanceID,
		SystemPrompt:    promptOverride(step, moodAnalysisPrompt),
		Input:           input,
		MaxOutputTokens: step.Action.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	if err := e.postMessage(ctx, env, step, content, models.MessageTypeMoodAnalysis); err != nil {
		return "", err
	}
	return content, nil
}

func (e *Executor) answer(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	input := env.UserMessage
	if source, err := env.Tree.SerializeSource(); err == nil && source != "" {
		input = fmt.Sprintf("%s\n\nProject source:\n\n%s", env.UserMessage, source)
	}
	content, err := e.llm.Complete(ctx, CompletionRequest{
		ChatID:          env.ChatID,
		StepKey:         step.InstanceID,
		SystemPrompt:    promptOverride(step, answerPrompt),
		Input:           input,
		MaxOutputTokens: step.Action.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	if err := e.postMessage(ctx, env, step, content, "plain"); err != nil {
		return "", err
	}
	return content, nil
}

// llmCall is the generic one-shot completion action. No chat message is
// written; downstream steps consume the output through upstream sources.
func (e *Executor) llmCall(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	if step.Action.SystemPrompt == "" {
		return "", fmt.Errorf("llm-call action %q has no system prompt", step.InstanceID)
	}
	return e.llm.Complete(ctx, CompletionRequest{
		ChatID:          env.ChatID,
		StepKey:         step.InstanceID,
		SystemPrompt:    step.Action.SystemPrompt,
		Input:           env.UserMessage,
		MaxOutputTokens: step.Action.MaxOutputTokens,
	})
}

func promptOverride(step *flow.PlanStep, fallback string) string {
	if step.Action.SystemPrompt != "" {
		return step.Action.SystemPrompt
	}
	return fallback
}

func (e *Executor) postMessage(ctx context.Context, env Env, step *flow.PlanStep, content, msgType string) error {
	metadata := map[string]any{"type": msgType}
	msg, err := e.messages.CreateMessage(ctx, services.CreateMessageRequest{
		ChatID:    env.ChatID,
		Role:      models.RoleAssistant,
		Content:   content,
		AgentName: step.InstanceID,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s message: %w", step.ActionKind, err)
	}
	e.publisher.PublishChatMessage(events.ChatMessagePayload{
		ChatID:    env.ChatID,
		MessageID: msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		AgentName: msg.AgentName,
		Metadata:  metadata,
	})
	return nil
}
