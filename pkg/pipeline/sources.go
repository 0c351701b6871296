package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/craftwork-ai/loom/pkg/flow"
)

// buildAgentInput renders the effective prompt for an agent step: the
// "Previous Agent Outputs" block assembled from the step's upstream sources,
// followed by the rendered input template.
func (pr *pipelineRun) buildAgentInput(step *flow.PlanStep) (string, error) {
	if len(step.UpstreamSources) == 0 {
		return step.Input, nil
	}

	var b strings.Builder
	b.WriteString("## Previous Agent Outputs\n\n")
	wrote := false
	for _, src := range step.UpstreamSources {
		value, err := pr.resolveSource(src.SourceKey)
		if err != nil {
			return "", fmt.Errorf("failed to resolve upstream source %q: %w", src.SourceKey, err)
		}
		value = pr.applyTransform(src.Transform, value)
		if value == "" {
			continue
		}
		label := src.Alias
		if label == "" {
			label = src.SourceKey
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", label, value)
		wrote = true
	}
	if !wrote {
		return step.Input, nil
	}
	b.WriteString("---\n\n")
	b.WriteString(step.Input)
	return b.String(), nil
}

// resolveSource returns the raw value for a source key: well-known keys are
// resolved by the orchestrator, everything else is a step-result lookup.
func (pr *pipelineRun) resolveSource(key string) (string, error) {
	switch key {
	case flow.SourceProjectSource:
		return pr.tree.SerializeSource()
	case flow.SourceVibeBrief:
		if v, ok := pr.resultOfKind(flow.ActionVibeIntake); ok {
			return v, nil
		}
		// Fall back to the brief persisted on the project by an earlier chat.
		project, err := pr.orch.svc.Projects.GetProject(context.Background(), pr.projectID)
		if err != nil || project.VibeBrief == nil {
			return "", nil
		}
		data, err := json.Marshal(project.VibeBrief)
		if err != nil {
			return "", nil
		}
		return string(data), nil
	case flow.SourceMoodAnalysis:
		v, _ := pr.resultOfKind(flow.ActionMoodAnalysis)
		return v, nil
	}
	v, _ := pr.result(key)
	return v, nil
}

// resultOfKind finds the completed output of the plan's step with the given
// action kind.
func (pr *pipelineRun) resultOfKind(kind string) (string, bool) {
	if pr.plan == nil {
		return "", false
	}
	for i := range pr.plan.Steps {
		s := &pr.plan.Steps[i]
		if s.ActionKind != kind {
			continue
		}
		if v, ok := pr.result(s.InstanceID); ok {
			return v, true
		}
	}
	return "", false
}

// applyTransform reshapes an upstream value for the consuming agent.
func (pr *pipelineRun) applyTransform(transform, value string) string {
	switch transform {
	case flow.TransformDesignSystem:
		return extractDesignSystem(value)
	case flow.TransformFileManifest:
		return scrapeWritePaths(value)
	case flow.TransformProjectSource:
		// The value already is the serialized tree when the source key is
		// project-source; for node sources the transform re-reads the tree so
		// the consumer sees files written after the upstream step ran.
		source, err := pr.tree.SerializeSource()
		if err != nil {
			return value
		}
		return source
	}
	return value
}

// extractDesignSystem pulls the design_system field out of architect JSON
// output, falling back to the raw value when the shape is unexpected.
func extractDesignSystem(value string) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFence(value)), &doc); err != nil {
		return value
	}
	ds, ok := doc["design_system"]
	if !ok {
		return value
	}
	return string(ds)
}

// scrapeWritePaths lists the file paths an upstream agent wrote, taken from
// the tool activity markers in its transcript.
func scrapeWritePaths(value string) string {
	var paths []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		path, ok := strings.CutPrefix(line, "[write_file] ")
		if !ok || path == "" || seen[path] {
			continue
		}
		seen[path] = true
		paths = append(paths, path)
	}
	return strings.Join(paths, "\n")
}

func stripFence(s string) string {
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
