package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
)

const defaultBuildCommand = "npm run build"

// buildCheck runs the build command and, on failure, loops a fix agent over
// the deduplicated errors until the build passes or attempts run out.
func (e *Executor) buildCheck(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	command := step.Action.Command
	if command == "" {
		command = defaultBuildCommand
	}
	maxAttempts := step.Action.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.Pipeline.MaxBuildFixAttempts
	}
	fixAgent := "build-fixer"
	if len(step.Action.FixAgents) > 0 {
		fixAgent = step.Action.FixAgents[0]
	}
	timeout := actionTimeout(step, e.cfg.Pipeline.BuildTimeout)

	var lastErrors []string
	for attempt := 1; ; attempt++ {
		res, err := e.runner.Run(ctx, env.Tree.Dir(), command, timeout)
		if err != nil {
			return "", err
		}
		if !res.TimedOut && res.ExitCode == 0 {
			e.publisher.PublishPreviewReady(events.PreviewReadyPayload{ChatID: env.ChatID})
			if attempt == 1 {
				return "Build passed", nil
			}
			return fmt.Sprintf("Build passed after %d fix attempts", attempt-1), nil
		}

		if res.TimedOut {
			lastErrors = []string{fmt.Sprintf("build command timed out after %s", timeout)}
		} else {
			combined := res.Stderr
			if strings.TrimSpace(combined) == "" {
				combined = res.Stdout
			}
			lastErrors = uniqueErrorLines(combined, e.cfg.Pipeline.MaxUniqueErrors)
			if len(lastErrors) == 0 {
				lastErrors = []string{fmt.Sprintf("build command exited %d with no output", res.ExitCode)}
			}
		}
		if attempt > maxAttempts {
			break
		}

		source, err := env.Tree.SerializeSource()
		if err != nil {
			return "", fmt.Errorf("failed to serialize project source: %w", err)
		}
		input := fmt.Sprintf("The build failed with these errors:\n\n%s\n\nProject source:\n\n%s\nFix the broken files.",
			strings.Join(lastErrors, "\n"), source)
		if _, err := env.RunAgent(ctx, fixAgent, input); err != nil {
			return "", fmt.Errorf("build fix agent failed: %w", err)
		}
	}

	return "", fmt.Errorf("build still failing after %d fix attempts: %s",
		maxAttempts, strings.Join(lastErrors, "; "))
}
