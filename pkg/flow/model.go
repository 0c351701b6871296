// Package flow defines the pipeline template model: a versioned DAG of typed
// nodes, its validator, and the resolver that prunes condition branches and
// emits a concrete execution plan.
package flow

// Intent selects which template family serves a user message.
type Intent string

const (
	IntentBuild    Intent = "build"
	IntentFix      Intent = "fix"
	IntentQuestion Intent = "question"
)

// Intents lists all known intents in a stable order.
var Intents = []Intent{IntentBuild, IntentFix, IntentQuestion}

// NodeType discriminates the FlowNode variant. Switches over it must be
// exhaustive.
type NodeType string

const (
	NodeAgent      NodeType = "agent"
	NodeCondition  NodeType = "condition"
	NodeCheckpoint NodeType = "checkpoint"
	NodeAction     NodeType = "action"
	NodeVersion    NodeType = "version"
	NodeConfig     NodeType = "config"
)

// Action kinds.
const (
	ActionBuildCheck   = "build-check"
	ActionTestRun      = "test-run"
	ActionRemediation  = "remediation"
	ActionSummary      = "summary"
	ActionVibeIntake   = "vibe-intake"
	ActionMoodAnalysis = "mood-analysis"
	ActionAnswer       = "answer"
	ActionShell        = "shell"
	ActionLLMCall      = "llm-call"
	// ActionVersionSnapshot is the step kind emitted for version nodes.
	ActionVersionSnapshot = "version"
)

// Condition modes.
const (
	ConditionPredefined = "predefined"
	ConditionExpression = "expression"
)

// Predefined condition ids.
const (
	PredefinedNeedsBackend    = "needsBackend"
	PredefinedHasFiles        = "hasFiles"
	PredefinedScopeFrontend   = "scopeIncludes:frontend"
	PredefinedScopeBackend    = "scopeIncludes:backend"
	PredefinedScopeStyling    = "scopeIncludes:styling"
)

// Checkpoint types.
const (
	CheckpointApprove         = "approve"
	CheckpointDesignDirection = "design_direction"
)

// Well-known upstream source keys, resolved by the orchestrator instead of
// node-id lookup.
const (
	SourceVibeBrief     = "vibe-brief"
	SourceMoodAnalysis  = "mood-analysis"
	SourceProjectSource = "project-source"
)

// Transforms applied to upstream source values during prompt assembly.
const (
	TransformRaw           = "raw"
	TransformDesignSystem  = "design-system"
	TransformFileManifest  = "file-manifest"
	TransformProjectSource = "project-source"
)

// UpstreamSource is a declarative reference to a prior step's output.
type UpstreamSource struct {
	SourceKey string `json:"sourceKey"`
	Alias     string `json:"alias,omitempty"`
	Transform string `json:"transform,omitempty"` // defaults to raw
}

// FlowNode is a tagged variant over {agent, condition, checkpoint, action,
// version, config}. Only the fields for the node's Type are meaningful.
type FlowNode struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label,omitempty"`

	// agent
	AgentName       string           `json:"agentName,omitempty"`
	InputTemplate   string           `json:"inputTemplate,omitempty"` // {{userMessage}} placeholder
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	MaxToolSteps    int              `json:"maxToolSteps,omitempty"`
	SystemPrompt    string           `json:"systemPrompt,omitempty"`
	ToolOverrides   []string         `json:"toolOverrides,omitempty"`
	UpstreamSources []UpstreamSource `json:"upstreamSources,omitempty"`

	// condition
	ConditionMode string `json:"conditionMode,omitempty"` // predefined | expression
	PredefinedID  string `json:"predefinedId,omitempty"`
	Expression    string `json:"expression,omitempty"`

	// checkpoint
	CheckpointType string   `json:"checkpointType,omitempty"` // approve | design_direction
	Message        string   `json:"message,omitempty"`
	Options        []string `json:"options,omitempty"`
	SkipInYolo     bool     `json:"skipInYolo,omitempty"`
	TimeoutMs      int      `json:"timeoutMs,omitempty"` // also action timeout

	// action
	ActionKind      string   `json:"actionKind,omitempty"`
	Command         string   `json:"command,omitempty"`
	MaxAttempts     int      `json:"maxAttempts,omitempty"`
	MaxTestFailures int      `json:"maxTestFailures,omitempty"`
	ReviewerKeys    []string `json:"reviewerKeys,omitempty"`
	FixAgents       []string `json:"fixAgents,omitempty"`

	// config
	BaseSystemPrompt string `json:"baseSystemPrompt,omitempty"`
}

// FlowEdge is a directed edge. SourceHandle labels condition branches.
type FlowEdge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"` // "true" | "false" on condition edges
	Label        string `json:"label,omitempty"`
}

// Template is a versioned DAG bound to an intent.
type Template struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Intent    Intent     `json:"intent"`
	Enabled   bool       `json:"enabled"`
	IsDefault bool       `json:"isDefault"`
	Version   int        `json:"version"`
	Nodes     []FlowNode `json:"nodes"`
	Edges     []FlowEdge `json:"edges"`
}

// Node returns the node with the given id, or nil.
func (t *Template) Node(id string) *FlowNode {
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i]
		}
	}
	return nil
}

// WellKnownSource reports whether key is a reserved upstream key.
func WellKnownSource(key string) bool {
	switch key {
	case SourceVibeBrief, SourceMoodAnalysis, SourceProjectSource:
		return true
	}
	return false
}
