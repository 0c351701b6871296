package flow

// DefaultsVersion is bumped whenever the default DAG shapes change. Stored
// default templates with an older version are regenerated on read,
// preserving id and name.
const DefaultsVersion = 3

// Default template ids.
const (
	DefaultBuildID    = "default-build"
	DefaultFixID      = "default-fix"
	DefaultQuestionID = "default-question"
)

// DefaultTemplates returns the stock Build/Fix/Question templates.
func DefaultTemplates() []*Template {
	return []*Template{
		DefaultBuild(),
		DefaultFix(),
		DefaultQuestion(),
	}
}

// DefaultTemplateFor returns the stock template for an intent.
func DefaultTemplateFor(intent Intent) *Template {
	switch intent {
	case IntentFix:
		return DefaultFix()
	case IntentQuestion:
		return DefaultQuestion()
	default:
		return DefaultBuild()
	}
}

// DefaultBuild is the full build pipeline: intake and mood analysis, research
// and architecture, a design checkpoint, conditional backend work, frontend
// and styling passes, build and test loops, three parallel reviewers feeding
// remediation, and a final snapshot plus summary.
func DefaultBuild() *Template {
	return &Template{
		ID:        DefaultBuildID,
		Name:      "Build",
		Intent:    IntentBuild,
		Enabled:   true,
		IsDefault: true,
		Version:   DefaultsVersion,
		Nodes: []FlowNode{
			{ID: "vibe-intake", Type: NodeAction, ActionKind: ActionVibeIntake, Label: "Vibe intake"},
			{ID: "mood-analysis", Type: NodeAction, ActionKind: ActionMoodAnalysis, Label: "Mood analysis"},
			{ID: "research", Type: NodeAgent, AgentName: "research",
				InputTemplate: "Research the best approach for: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceVibeBrief},
					{SourceKey: SourceMoodAnalysis},
				}},
			{ID: "architect", Type: NodeAgent, AgentName: "architect",
				InputTemplate: "Design the application architecture for: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: "research"},
					{SourceKey: SourceVibeBrief},
				}},
			{ID: "design-checkpoint", Type: NodeCheckpoint, CheckpointType: CheckpointDesignDirection,
				Label: "Design direction", Message: "Review the proposed design direction before implementation starts.",
				Options: []string{"approve", "bolder", "softer"}, SkipInYolo: true, TimeoutMs: 300_000},
			{ID: "cond-backend", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: PredefinedNeedsBackend},
			{ID: "backend-dev", Type: NodeAgent, AgentName: "backend-dev",
				InputTemplate: "Implement the backend for: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: "architect"},
				}},
			{ID: "frontend-dev", Type: NodeAgent, AgentName: "frontend-dev",
				InputTemplate: "Implement the frontend for: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: "architect", Alias: "design", Transform: TransformDesignSystem},
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "version-post-dev", Type: NodeVersion, Label: "After development"},
			{ID: "styling", Type: NodeAgent, AgentName: "styling",
				InputTemplate: "Polish the styling for: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: "frontend-dev", Transform: TransformFileManifest, Alias: "changed-files"},
					{SourceKey: SourceMoodAnalysis},
				}},
			{ID: "build-check", Type: NodeAction, ActionKind: ActionBuildCheck, Label: "Build check"},
			{ID: "test-run", Type: NodeAction, ActionKind: ActionTestRun, Label: "Tests"},
			{ID: "version-post-test", Type: NodeVersion, Label: "After tests"},
			{ID: "code-review", Type: NodeAgent, AgentName: "code-review",
				InputTemplate: "Review the implementation of: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "security", Type: NodeAgent, AgentName: "security",
				InputTemplate: "Audit the implementation of: {{userMessage}} for security issues",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "qa", Type: NodeAgent, AgentName: "qa",
				InputTemplate: "Test the implementation of: {{userMessage}} for functional issues",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "remediation", Type: NodeAction, ActionKind: ActionRemediation, Label: "Remediation",
				ReviewerKeys: []string{"code-review", "security", "qa"}},
			{ID: "version-build", Type: NodeVersion, Label: "Build complete"},
			{ID: "summary", Type: NodeAction, ActionKind: ActionSummary, Label: "Summary", MaxOutputTokens: 1024},
			{ID: "config-base", Type: NodeConfig,
				BaseSystemPrompt: "You are part of a coordinated build pipeline. Stay within your role, produce production-quality output, and never repeat work other agents already did."},
		},
		Edges: []FlowEdge{
			{Source: "vibe-intake", Target: "mood-analysis"},
			{Source: "mood-analysis", Target: "research"},
			{Source: "config-base", Target: "research"},
			{Source: "research", Target: "architect"},
			{Source: "architect", Target: "design-checkpoint"},
			{Source: "design-checkpoint", Target: "cond-backend"},
			{Source: "cond-backend", Target: "backend-dev", SourceHandle: "true"},
			{Source: "cond-backend", Target: "frontend-dev", SourceHandle: "false"},
			{Source: "backend-dev", Target: "frontend-dev"},
			{Source: "frontend-dev", Target: "version-post-dev"},
			{Source: "version-post-dev", Target: "styling"},
			{Source: "styling", Target: "build-check"},
			{Source: "build-check", Target: "test-run"},
			{Source: "test-run", Target: "version-post-test"},
			{Source: "version-post-test", Target: "code-review"},
			{Source: "version-post-test", Target: "security"},
			{Source: "version-post-test", Target: "qa"},
			{Source: "code-review", Target: "remediation"},
			{Source: "security", Target: "remediation"},
			{Source: "qa", Target: "remediation"},
			{Source: "remediation", Target: "version-build"},
			{Source: "version-build", Target: "summary"},
		},
	}
}

// DefaultFix is the scoped fix pipeline: scope conditions route to the
// matching fix agent, backend/frontend fixes pass through a build check, and
// all branches rejoin at a snapshot plus summary. Styling fixes skip the
// build loop entirely.
func DefaultFix() *Template {
	return &Template{
		ID:        DefaultFixID,
		Name:      "Fix",
		Intent:    IntentFix,
		Enabled:   true,
		IsDefault: true,
		Version:   DefaultsVersion,
		Nodes: []FlowNode{
			{ID: "cond-scope-backend", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: PredefinedScopeBackend},
			{ID: "cond-scope-frontend", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: PredefinedScopeFrontend},
			{ID: "cond-scope-styling", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: PredefinedScopeStyling},
			{ID: "backend-fix", Type: NodeAgent, AgentName: "backend-dev",
				InputTemplate: "Fix this backend issue: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "frontend-fix", Type: NodeAgent, AgentName: "frontend-dev",
				InputTemplate: "Fix this frontend issue: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "styling-quick", Type: NodeAgent, AgentName: "styling",
				InputTemplate: "Fix this styling issue: {{userMessage}}",
				UpstreamSources: []UpstreamSource{
					{SourceKey: SourceProjectSource, Transform: TransformProjectSource},
				}},
			{ID: "build-check-fix", Type: NodeAction, ActionKind: ActionBuildCheck, Label: "Build check"},
			{ID: "version-quick", Type: NodeVersion, Label: "Fix applied"},
			{ID: "summary-fix", Type: NodeAction, ActionKind: ActionSummary, Label: "Summary", MaxOutputTokens: 1024},
		},
		Edges: []FlowEdge{
			{Source: "cond-scope-backend", Target: "backend-fix", SourceHandle: "true"},
			{Source: "cond-scope-frontend", Target: "frontend-fix", SourceHandle: "true"},
			{Source: "cond-scope-styling", Target: "styling-quick", SourceHandle: "true"},
			{Source: "backend-fix", Target: "build-check-fix"},
			{Source: "frontend-fix", Target: "build-check-fix"},
			{Source: "build-check-fix", Target: "version-quick"},
			{Source: "styling-quick", Target: "version-quick"},
			{Source: "version-quick", Target: "summary-fix"},
		},
	}
}

// DefaultQuestion answers without touching the working tree: one answer
// action with project source available for grounding.
func DefaultQuestion() *Template {
	return &Template{
		ID:        DefaultQuestionID,
		Name:      "Question",
		Intent:    IntentQuestion,
		Enabled:   true,
		IsDefault: true,
		Version:   DefaultsVersion,
		Nodes: []FlowNode{
			{ID: "answer", Type: NodeAction, ActionKind: ActionAnswer, Label: "Answer"},
		},
		Edges: []FlowEdge{},
	}
}
