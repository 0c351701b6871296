package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/craftwork-ai/loom/pkg/flow"
)

// classifierAgent is the built-in agent that maps a user message to intent
// and scope.
const classifierAgent = "intent-classifier"

// classification is the classifier's strict-JSON response shape.
type classification struct {
	Intent       flow.Intent `json:"intent"`
	Scope        string      `json:"scope"`
	NeedsBackend bool        `json:"needsBackend"`
	Reasoning    string      `json:"reasoning"`
}

// classify runs the intent classifier against the user message. A broken or
// malformed response degrades to the widest plan (build, full scope) instead
// of failing the pipeline.
func (pr *pipelineRun) classify(ctx context.Context) (classification, error) {
	fallback := classification{Intent: flow.IntentBuild, Scope: "full"}

	output, err := pr.runAdhocAgent(ctx, classifierAgent, pr.userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return classification{}, err
		}
		slog.Warn("Intent classification failed, assuming build/full", "chat", pr.chatID, "error", err)
		return fallback, nil
	}

	var cls classification
	if err := json.Unmarshal([]byte(stripFence(output)), &cls); err != nil {
		slog.Warn("Intent classifier returned malformed JSON, assuming build/full", "chat", pr.chatID, "error", err)
		return fallback, nil
	}
	switch cls.Intent {
	case flow.IntentBuild, flow.IntentFix, flow.IntentQuestion:
	default:
		slog.Warn("Intent classifier returned unknown intent, assuming build", "chat", pr.chatID, "intent", cls.Intent)
		cls.Intent = flow.IntentBuild
	}
	switch cls.Scope {
	case "frontend", "backend", "styling", "full":
	default:
		cls.Scope = "full"
	}
	return cls, nil
}
