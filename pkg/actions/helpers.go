package actions

import (
	"strings"
	"time"

	"github.com/craftwork-ai/loom/pkg/flow"
)

// actionTimeout returns the node's timeout override or the fallback.
func actionTimeout(step *flow.PlanStep, fallback time.Duration) time.Duration {
	if step.Action.TimeoutMs > 0 {
		return time.Duration(step.Action.TimeoutMs) * time.Millisecond
	}
	return fallback
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// uniqueErrorLines collapses repeated compiler output into distinct error
// signatures, capped at max. Blank lines and pure stack-frame noise are
// dropped.
func uniqueErrorLines(output string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "at ") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
		if len(out) >= max {
			break
		}
	}
	return out
}

// stripCodeFence unwraps ```json ... ``` style fences around model output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
