package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
)

const defaultTestCommand = "npm test"

type testResult struct {
	name    string
	passed  bool
	message string
}

// testRun executes the test command, streams per-test results, and loops a
// fix agent over the failures. A failure count above the configured ceiling
// aborts the fix loop: past that point the tree needs a developer pass, not
// another patch attempt.
func (e *Executor) testRun(ctx context.Context, step *flow.PlanStep, env Env) (string, error) {
	command := step.Action.Command
	if command == "" {
		command = defaultTestCommand
	}
	maxAttempts := step.Action.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.Pipeline.MaxBuildFixAttempts
	}
	maxFailures := step.Action.MaxTestFailures
	if maxFailures <= 0 {
		maxFailures = e.cfg.Pipeline.MaxTestFailures
	}
	fixAgent := "test-fixer"
	if len(step.Action.FixAgents) > 0 {
		fixAgent = step.Action.FixAgents[0]
	}
	timeout := actionTimeout(step, e.cfg.Pipeline.TestTimeout)

	var results []testResult
	for attempt := 1; ; attempt++ {
		res, err := e.runner.Run(ctx, env.Tree.Dir(), command, timeout)
		if err != nil {
			return "", err
		}
		if res.TimedOut {
			return "", fmt.Errorf("test command timed out after %s", timeout)
		}

		results = parseTestOutput(res.Stdout + "\n" + res.Stderr)
		for _, r := range results {
			e.publisher.PublishTestResultIncremental(events.TestResultIncrementalPayload{
				ChatID:  env.ChatID,
				Name:    r.name,
				Passed:  r.passed,
				Message: r.message,
			})
		}
		passed, failures := tally(results)
		e.publisher.PublishTestResults(events.TestResultsPayload{
			ChatID:   env.ChatID,
			Passed:   passed,
			Failed:   len(failures),
			Total:    len(results),
			Failures: failures,
		})

		if len(failures) == 0 && res.ExitCode == 0 {
			return fmt.Sprintf("%d tests passed", passed), nil
		}
		if len(failures) == 0 {
			// Runner exited non-zero without reporting a failing test.
			return "", fmt.Errorf("test command exited %d: %s", res.ExitCode, firstLines(res.Stderr, 10))
		}
		if len(failures) > maxFailures {
			return "", fmt.Errorf("%d tests failing, above the fix ceiling of %d", len(failures), maxFailures)
		}
		if attempt > maxAttempts {
			return "", fmt.Errorf("%d tests still failing after %d fix attempts", len(failures), maxAttempts)
		}

		source, err := env.Tree.SerializeSource()
		if err != nil {
			return "", fmt.Errorf("failed to serialize project source: %w", err)
		}
		var b strings.Builder
		b.WriteString("These tests are failing:\n\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "- %s", f.Name)
			if f.Message != "" {
				fmt.Fprintf(&b, ": %s", f.Message)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\nProject source:\n\n%s\nFix the failing tests.", source)
		if _, err := env.RunAgent(ctx, fixAgent, b.String()); err != nil {
			return "", fmt.Errorf("test fix agent failed: %w", err)
		}
	}
}

func tally(results []testResult) (passed int, failures []events.TestFailure) {
	for _, r := range results {
		if r.passed {
			passed++
		} else {
			failures = append(failures, events.TestFailure{Name: r.name, Message: r.message})
		}
	}
	return passed, failures
}

// parseTestOutput recognizes the common line formats emitted by JS test
// runners: TAP ("ok 1 name" / "not ok 1 name"), check marks, and PASS/FAIL
// prefixes. Unrecognized lines are ignored.
func parseTestOutput(output string) []testResult {
	var results []testResult
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "not ok "):
			results = append(results, testResult{name: tapName(line[len("not ok "):]), passed: false})
		case strings.HasPrefix(line, "ok "):
			results = append(results, testResult{name: tapName(line[len("ok "):]), passed: true})
		case strings.HasPrefix(line, "✓ "):
			results = append(results, testResult{name: strings.TrimSpace(line[len("✓ "):]), passed: true})
		case strings.HasPrefix(line, "✗ ") || strings.HasPrefix(line, "✕ "):
			results = append(results, testResult{name: strings.TrimSpace(line[4:]), passed: false})
		case strings.HasPrefix(line, "PASS "):
			results = append(results, testResult{name: strings.TrimSpace(line[len("PASS "):]), passed: true})
		case strings.HasPrefix(line, "FAIL "):
			results = append(results, testResult{name: strings.TrimSpace(line[len("FAIL "):]), passed: false})
		}
	}
	return results
}

// tapName drops the leading test number from a TAP line remainder.
func tapName(rest string) string {
	rest = strings.TrimSpace(rest)
	if i := strings.IndexByte(rest, ' '); i > 0 && isDigits(rest[:i]) {
		rest = strings.TrimSpace(rest[i+1:])
	}
	return strings.TrimPrefix(rest, "- ")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
