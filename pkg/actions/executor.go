// Package actions implements the post-processing step executors: build
// checks with fix loops, test runs, reviewer-driven remediation, snapshot
// versions, and the single-call LLM actions (summary, vibe-intake,
// mood-analysis, answer).
//
// Executors are pure step runners: inputs come from the step's resolved
// config and the Env callbacks; the returned string is written into
// agentResults under the step's instance id by the scheduler.
package actions

import (
	"context"
	"fmt"

	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/services"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// CompletionRequest is one plain (non-tool) LLM call made by an action.
type CompletionRequest struct {
	ChatID          string
	StepKey         string
	SystemPrompt    string
	Input           string
	MaxOutputTokens int
}

// LLMCaller issues single completions with usage accounting. Implemented by
// the pipeline so cost limits see action calls too.
type LLMCaller interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Env carries the per-pipeline callbacks an action needs. The scheduler owns
// agentResults; actions only see it through Result and RerunStep.
type Env struct {
	ChatID      string
	ProjectID   string
	UserMessage string
	Scope       string
	Tree        *workspace.Tree

	// Result looks up a completed step's output by step key.
	Result func(key string) (string, bool)
	// AllResults returns a copy of every completed step output, keyed by
	// step key. Used by the summary action.
	AllResults func() map[string]string
	// RunAgent invokes a named agent with a one-off input and returns its
	// final content. Used by fix loops.
	RunAgent func(ctx context.Context, agentName, input string) (string, error)
	// RerunStep re-executes an emitted agent step and refreshes its result.
	// Used by remediation to re-run reviewers.
	RerunStep func(ctx context.Context, key string) (string, error)
}

// Executor dispatches action steps by kind.
type Executor struct {
	cfg       *config.Config
	runner    *workspace.Runner
	publisher *events.Publisher
	llm       LLMCaller
	messages  *services.MessageService
	projects  *services.ProjectService
	snapshots *services.SnapshotService
}

// NewExecutor creates an Executor.
func NewExecutor(cfg *config.Config, runner *workspace.Runner, publisher *events.Publisher, llm LLMCaller, messages *services.MessageService, projects *services.ProjectService, snapshots *services.SnapshotService) *Executor {
	return &Executor{
		cfg:       cfg,
		runner:    runner,
		publisher: publisher,
		llm:       llm,
		messages:  messages,
		projects:  projects,
		snapshots: snapshots,
	}
}

// Execute runs one action step and returns its output text.
func (e *Executor) Execute(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	switch step.ActionKind {
	case flow.ActionBuildCheck:
		return e.buildCheck(ctx, step, env)
	case flow.ActionTestRun:
		return e.testRun(ctx, step, env)
	case flow.ActionRemediation:
		return e.remediation(ctx, step, env)
	case flow.ActionSummary:
		return e.summary(ctx, step, env)
	case flow.ActionVibeIntake:
		return e.vibeIntake(ctx, step, env)
	case flow.ActionMoodAnalysis:
		return e.moodAnalysis(ctx, step, env)
	case flow.ActionAnswer:
		return e.answer(ctx, step, env)
	case flow.ActionShell:
		return e.shell(ctx, step, env)
	case flow.ActionLLMCall:
		return e.llmCall(ctx, step, env)
	case flow.ActionVersionSnapshot:
		return e.version(ctx, step, env)
	}
	return "", fmt.Errorf("unknown action kind %q", step.ActionKind)
}

// shell runs the configured command in the working tree and returns combined
// output. A non-zero exit is an action failure.
func (e *Executor) shell(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	if step.Action.Command == "" {
		return "", fmt.Errorf("shell action %q has no command", step.InstanceID)
	}
	res, err := e.runner.Run(ctx, env.Tree.Dir(), step.Action.Command, actionTimeout(step, e.cfg.Pipeline.BuildTimeout))
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("shell command timed out: %s", step.Action.Command)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("shell command exited %d: %s", res.ExitCode, firstLines(res.Stderr, 10))
	}
	return res.Stdout, nil
}

// version writes a labeled snapshot of the working tree and announces it
// with the snapshot path sentinel.
func (e *Executor) version(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	manifest, err := env.Tree.Manifest()
	if err != nil {
		return "", fmt.Errorf("failed to read working tree for snapshot: %w", err)
	}
	label := step.Action.Label
	if label == "" {
		label = step.InstanceID
	}
	snap, err := e.snapshots.CreateSnapshot(ctx, env.ProjectID, env.ChatID, label, manifest)
	if err != nil {
		return "", err
	}
	e.publisher.PublishFilesChanged(events.FilesChangedPayload{
		ChatID: env.ChatID,
		Paths:  []string{events.SnapshotPathSentinel},
	})
	return fmt.Sprintf("Snapshot %q saved (%d files)", label, len(snap.FileManifest)), nil
}
