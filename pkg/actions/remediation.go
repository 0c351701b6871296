package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/craftwork-ai/loom/pkg/flow"
)

// remediation collects issues from the configured reviewer steps, routes a
// consolidated report to the fix agents, then re-runs the reviewers. It
// cycles until the reviews come back clean or the cycle budget is spent;
// leftover issues are reported in the output rather than failing the
// pipeline, since reviewers flag judgment calls as well as defects.
func (e *Executor) remediation(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	if len(step.Action.ReviewerKeys) == 0 {
		return "No reviewers configured", nil
	}
	maxCycles := step.Action.MaxAttempts
	if maxCycles <= 0 {
		maxCycles = e.cfg.Pipeline.MaxRemediationCycles
	}
	fixAgents := step.Action.FixAgents
	if len(fixAgents) == 0 {
		fixAgents = defaultFixAgents(env.Scope)
	}

	issues := collectIssues(step.Action.ReviewerKeys, env)
	if len(issues) == 0 {
		return "Reviews clean", nil
	}

	for cycle := 1; cycle <= maxCycles; cycle++ {
		report := issueReport(issues)
		for _, agent := range fixAgents {
			if _, err := env.RunAgent(ctx, agent, report); err != nil {
				return "", fmt.Errorf("remediation fix agent %s failed: %w", agent, err)
			}
		}
		for _, key := range step.Action.ReviewerKeys {
			if _, err := env.RerunStep(ctx, key); err != nil {
				return "", fmt.Errorf("failed to re-run reviewer %s: %w", key, err)
			}
		}
		issues = collectIssues(step.Action.ReviewerKeys, env)
		if len(issues) == 0 {
			return fmt.Sprintf("Reviews clean after %d remediation cycle(s)", cycle), nil
		}
	}
	return fmt.Sprintf("%d issue(s) remain after %d remediation cycle(s):\n%s",
		len(issues), maxCycles, strings.Join(issues, "\n")), nil
}

func defaultFixAgents(scope string) []string {
	switch scope {
	case "backend":
		return []string{"backend-dev"}
	case "full":
		return []string{"backend-dev", "frontend-dev"}
	default:
		return []string{"frontend-dev"}
	}
}

func collectIssues(reviewerKeys []string, env Env) []string {
	var issues []string
	for _, key := range reviewerKeys {
		output, ok := env.Result(key)
		if !ok {
			continue
		}
		for _, issue := range parseIssues(output) {
			issues = append(issues, fmt.Sprintf("[%s] %s", key, issue))
		}
	}
	return issues
}

// parseIssues extracts the issues array from a reviewer's output. Reviewers
// are prompted for {"issues":[...]} but a bare array or fenced JSON is
// accepted too. Output that does not parse is treated as clean: a reviewer
// that rambles instead of reporting structured issues should not wedge the
// pipeline in a fix loop.
func parseIssues(output string) []string {
	raw := stripCodeFence(output)

	var wrapper struct {
		Issues []json.RawMessage `json:"issues"`
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &wrapper); err == nil && wrapper.Issues != nil {
		items = wrapper.Issues
	} else if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	var issues []string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			issues = append(issues, s)
			continue
		}
		issues = append(issues, string(item))
	}
	return issues
}

func issueReport(issues []string) string {
	var b strings.Builder
	b.WriteString("Code review found the following issues. Fix each one using write_file tool calls:\n\n")
	for _, issue := range issues {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
	return b.String()
}
