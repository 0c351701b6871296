package flow

import (
	"log/slog"
	"sort"
)

// StepType discriminates PlanStep variants.
type StepType string

const (
	StepAgent  StepType = "agent"
	StepAction StepType = "action"
)

// Gate is a checkpoint encountered on a step's dependency walk. The
// orchestrator pauses dispatch of the gated step until the gate resolves.
type Gate struct {
	NodeID         string   `json:"nodeId"`
	CheckpointType string   `json:"checkpointType"`
	Message        string   `json:"message,omitempty"`
	Options        []string `json:"options,omitempty"`
	SkipInYolo     bool     `json:"skipInYolo,omitempty"`
	TimeoutMs      int      `json:"timeoutMs,omitempty"`
}

// ActionConfig is the resolved per-node configuration for an action step.
type ActionConfig struct {
	Kind            string   `json:"kind"`
	Label           string   `json:"label,omitempty"`
	Command         string   `json:"command,omitempty"`
	TimeoutMs       int      `json:"timeoutMs,omitempty"`
	MaxAttempts     int      `json:"maxAttempts,omitempty"`
	MaxTestFailures int      `json:"maxTestFailures,omitempty"`
	ReviewerKeys    []string `json:"reviewerKeys,omitempty"`
	FixAgents       []string `json:"fixAgents,omitempty"`
	SystemPrompt    string   `json:"systemPrompt,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// PlanStep is one dispatchable unit. The step key is InstanceID (the
// originating node id, never the agent name: the same agent can serve
// multiple nodes and resume keys by step).
type PlanStep struct {
	Type       StepType `json:"type"`
	InstanceID string   `json:"instanceId"`
	DependsOn  []string `json:"dependsOn,omitempty"`
	Gates      []Gate   `json:"gates,omitempty"`

	// agent
	AgentName       string           `json:"agentName,omitempty"`
	Input           string           `json:"input,omitempty"`
	MaxOutputTokens int              `json:"maxOutputTokens,omitempty"`
	MaxToolSteps    int              `json:"maxToolSteps,omitempty"`
	SystemPrompt    string           `json:"systemPrompt,omitempty"`
	Tools           []string         `json:"tools,omitempty"`
	UpstreamSources []UpstreamSource `json:"upstreamSources,omitempty"`

	// action
	ActionKind string       `json:"actionKind,omitempty"`
	Action     ActionConfig `json:"action,omitempty"`
}

// Key returns the step's dependency key.
func (s *PlanStep) Key() string { return s.InstanceID }

// Plan is the resolver's output.
type Plan struct {
	Intent           Intent                  `json:"intent"`
	Steps            []PlanStep              `json:"steps"`
	Order            []string                `json:"order"` // active non-config node ids, topological
	Checkpoints      []Gate                  `json:"checkpoints,omitempty"`
	ActionOverrides  map[string]ActionConfig `json:"actionOverrides,omitempty"`
	BaseSystemPrompt string                  `json:"baseSystemPrompt,omitempty"`
}

// Step returns the plan step with the given key, or nil.
func (p *Plan) Step(key string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].InstanceID == key {
			return &p.Steps[i]
		}
	}
	return nil
}

// Resolve prunes condition branches against the context and emits the
// execution plan. A cyclic template resolves to an empty plan.
func Resolve(t *Template, ctx ResolutionContext) *Plan {
	plan := &Plan{
		Intent:          t.Intent,
		ActionOverrides: make(map[string]ActionConfig),
	}

	order, ok := TopologicalOrder(t.Nodes, t.Edges)
	if !ok {
		slog.Warn("Template has a cycle, resolving to empty plan", "template", t.ID)
		return plan
	}
	topoPos := make(map[string]int, len(order))
	for i, id := range order {
		topoPos[id] = i
	}

	incoming := make(map[string][]FlowEdge)
	indegree := make(map[string]int)
	for _, e := range t.Edges {
		incoming[e.Target] = append(incoming[e.Target], e)
		indegree[e.Target]++
	}

	// Prune pass: walk forward. A node stays active when it is a start node
	// or at least one incoming edge comes from an active source whose
	// branch label agrees with the evaluated condition. Requiring only one
	// live edge is what preserves rejoin semantics.
	active := make(map[string]bool, len(order))
	condResult := make(map[string]bool)
	for _, id := range order {
		node := t.Node(id)
		isActive := indegree[id] == 0
		if !isActive {
			for _, e := range incoming[id] {
				if active[e.Source] && edgeAgrees(t.Node(e.Source), e, condResult) {
					isActive = true
					break
				}
			}
		}
		active[id] = isActive
		if isActive && node.Type == NodeCondition {
			condResult[id] = evalCondition(node, ctx)
		}
	}

	// Emit pass.
	for _, id := range order {
		if !active[id] {
			continue
		}
		node := t.Node(id)
		if node.Type == NodeConfig {
			if node.BaseSystemPrompt != "" {
				plan.BaseSystemPrompt = node.BaseSystemPrompt
			}
			continue
		}
		plan.Order = append(plan.Order, id)

		switch node.Type {
		case NodeAgent:
			deps, gates := dependencyWalk(t, id, active, condResult, incoming, topoPos)
			plan.Steps = append(plan.Steps, PlanStep{
				Type:            StepAgent,
				InstanceID:      id,
				DependsOn:       deps,
				Gates:           gates,
				AgentName:       node.AgentName,
				Input:           renderTemplate(node.InputTemplate, ctx),
				MaxOutputTokens: node.MaxOutputTokens,
				MaxToolSteps:    node.MaxToolSteps,
				SystemPrompt:    node.SystemPrompt,
				Tools:           node.ToolOverrides,
				UpstreamSources: node.UpstreamSources,
			})
		case NodeAction:
			deps, gates := dependencyWalk(t, id, active, condResult, incoming, topoPos)
			cfg := ActionConfig{
				Kind:            node.ActionKind,
				Label:           node.Label,
				Command:         node.Command,
				TimeoutMs:       node.TimeoutMs,
				MaxAttempts:     node.MaxAttempts,
				MaxTestFailures: node.MaxTestFailures,
				ReviewerKeys:    node.ReviewerKeys,
				FixAgents:       node.FixAgents,
				SystemPrompt:    node.SystemPrompt,
				MaxOutputTokens: node.MaxOutputTokens,
			}
			plan.ActionOverrides[id] = cfg
			plan.Steps = append(plan.Steps, PlanStep{
				Type:       StepAction,
				InstanceID: id,
				DependsOn:  deps,
				Gates:      gates,
				ActionKind: node.ActionKind,
				Action:     cfg,
			})
		case NodeVersion:
			deps, gates := dependencyWalk(t, id, active, condResult, incoming, topoPos)
			cfg := ActionConfig{Kind: ActionVersionSnapshot, Label: node.Label}
			plan.ActionOverrides[id] = cfg
			plan.Steps = append(plan.Steps, PlanStep{
				Type:       StepAction,
				InstanceID: id,
				DependsOn:  deps,
				Gates:      gates,
				ActionKind: ActionVersionSnapshot,
				Action:     cfg,
			})
		case NodeCheckpoint:
			plan.Checkpoints = append(plan.Checkpoints, Gate{
				NodeID:         id,
				CheckpointType: node.CheckpointType,
				Message:        node.Message,
				Options:        node.Options,
				SkipInYolo:     node.SkipInYolo,
				TimeoutMs:      node.TimeoutMs,
			})
		case NodeCondition, NodeConfig:
			// No step; participates in the dependency walk only.
		}
	}

	return plan
}

// edgeAgrees reports whether an edge from source is live given the
// condition results. Edges from non-condition nodes and unlabeled edges are
// always live.
func edgeAgrees(source *FlowNode, e FlowEdge, condResult map[string]bool) bool {
	if source == nil || source.Type != NodeCondition || e.SourceHandle == "" {
		return true
	}
	want := e.SourceHandle == "true"
	return condResult[e.Source] == want
}

func evalCondition(node *FlowNode, ctx ResolutionContext) bool {
	switch node.ConditionMode {
	case ConditionPredefined:
		v, err := EvalPredefined(node.PredefinedID, ctx)
		if err != nil {
			slog.Warn("Predefined condition failed, treating as false",
				"node", node.ID, "error", err)
			return false
		}
		return v
	case ConditionExpression:
		v, err := EvalExpression(node.Expression, ctx)
		if err != nil {
			slog.Warn("Condition expression failed, treating as false",
				"node", node.ID, "error", err)
			return false
		}
		return v
	}
	slog.Warn("Condition has no mode, treating as false", "node", node.ID)
	return false
}

// dependencyWalk walks backwards from a node over live edges, collecting the
// keys of the nearest step-emitting ancestors (agent, action, version) and
// any checkpoints passed through. Condition and config nodes are transparent
// so a node whose sole upstream is a condition still depends on the step
// above it.
func dependencyWalk(t *Template, id string, active map[string]bool, condResult map[string]bool, incoming map[string][]FlowEdge, topoPos map[string]int) ([]string, []Gate) {
	depSet := make(map[string]bool)
	gateSet := make(map[string]Gate)
	visited := make(map[string]bool)

	var walk func(nodeID string)
	walk = func(nodeID string) {
		for _, e := range incoming[nodeID] {
			src := t.Node(e.Source)
			if src == nil || !active[e.Source] || !edgeAgrees(src, e, condResult) {
				continue
			}
			// A condition's incoming walk ignores branch labels on its own
			// outgoing edges, but here the edge points at nodeID so the
			// label was already checked above.
			if visited[e.Source] {
				continue
			}
			visited[e.Source] = true
			switch src.Type {
			case NodeAgent, NodeAction, NodeVersion:
				depSet[src.ID] = true
			case NodeCheckpoint:
				gateSet[src.ID] = Gate{
					NodeID:         src.ID,
					CheckpointType: src.CheckpointType,
					Message:        src.Message,
					Options:        src.Options,
					SkipInYolo:     src.SkipInYolo,
					TimeoutMs:      src.TimeoutMs,
				}
				walk(src.ID)
			case NodeCondition, NodeConfig:
				walk(src.ID)
			}
		}
	}
	walk(id)

	deps := make([]string, 0, len(depSet))
	for d := range depSet {
		deps = append(deps, d)
	}
	sort.Slice(deps, func(i, j int) bool { return topoPos[deps[i]] < topoPos[deps[j]] })

	gates := make([]Gate, 0, len(gateSet))
	for _, g := range gateSet {
		gates = append(gates, g)
	}
	sort.Slice(gates, func(i, j int) bool { return topoPos[gates[i].NodeID] < topoPos[gates[j].NodeID] })

	return deps, gates
}
