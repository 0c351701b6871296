package flow

import (
	"fmt"
	"strings"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationIssue is one finding from Validate. Errors block saving a
// template; warnings do not.
type ValidationIssue struct {
	Severity string `json:"severity"`
	NodeID   string `json:"nodeId,omitempty"`
	Message  string `json:"message"`
}

func issueErr(nodeID, format string, args ...any) ValidationIssue {
	return ValidationIssue{Severity: SeverityError, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

func issueWarn(nodeID, format string, args ...any) ValidationIssue {
	return ValidationIssue{Severity: SeverityWarning, NodeID: nodeID, Message: fmt.Sprintf(format, args...)}
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks a template and accumulates issues in a fixed pass order
// instead of short-circuiting, so a template editor can show everything at
// once. knownAgents is the set of registered agent names.
func Validate(t *Template, knownAgents map[string]bool) []ValidationIssue {
	var issues []ValidationIssue

	// Pass 1: non-empty shape. Nothing else is checkable without it.
	if len(t.Nodes) == 0 {
		issues = append(issues, issueErr("", "template has no nodes"))
	}
	if strings.TrimSpace(t.Name) == "" {
		issues = append(issues, issueErr("", "template name is required"))
	}
	if len(issues) > 0 {
		return issues
	}

	nodeByID := make(map[string]*FlowNode, len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if _, dup := nodeByID[n.ID]; dup {
			issues = append(issues, issueErr(n.ID, "duplicate node id %q", n.ID))
		}
		nodeByID[n.ID] = n
	}

	// Pass 2: edge endpoints exist.
	for _, e := range t.Edges {
		if _, ok := nodeByID[e.Source]; !ok {
			issues = append(issues, issueErr("", "edge references unknown source node %q", e.Source))
		}
		if _, ok := nodeByID[e.Target]; !ok {
			issues = append(issues, issueErr("", "edge references unknown target node %q", e.Target))
		}
	}

	// Pass 3: at least one start and one terminal.
	indegree := make(map[string]int)
	outdegree := make(map[string]int)
	for _, e := range t.Edges {
		if _, ok := nodeByID[e.Source]; !ok {
			continue
		}
		if _, ok := nodeByID[e.Target]; !ok {
			continue
		}
		outdegree[e.Source]++
		indegree[e.Target]++
	}
	starts := make([]string, 0)
	hasTerminal := false
	for _, n := range t.Nodes {
		if indegree[n.ID] == 0 {
			starts = append(starts, n.ID)
		}
		if outdegree[n.ID] == 0 {
			hasTerminal = true
		}
	}
	if len(starts) == 0 {
		issues = append(issues, issueErr("", "template has no start node (every node has an incoming edge)"))
	}
	if !hasTerminal {
		issues = append(issues, issueErr("", "template has no terminal node (every node has an outgoing edge)"))
	}

	// Pass 4: acyclic.
	if _, ok := TopologicalOrder(t.Nodes, t.Edges); !ok {
		issues = append(issues, issueErr("", "template contains a cycle"))
	}

	// Pass 5: every node reachable from some start.
	reachable := make(map[string]bool)
	queue := append([]string(nil), starts...)
	adjacency := make(map[string][]string)
	for _, e := range t.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		queue = append(queue, adjacency[id]...)
	}
	for _, n := range t.Nodes {
		if !reachable[n.ID] {
			issues = append(issues, issueErr(n.ID, "node %q is unreachable from any start node", n.ID))
		}
	}

	// Pass 6: per-type checks.
	for i := range t.Nodes {
		issues = append(issues, validateNode(&t.Nodes[i], knownAgents)...)
	}

	// Pass 7: condition branch labels.
	branchHandles := make(map[string]map[string]bool)
	for _, e := range t.Edges {
		src, ok := nodeByID[e.Source]
		if !ok || src.Type != NodeCondition {
			continue
		}
		if branchHandles[e.Source] == nil {
			branchHandles[e.Source] = make(map[string]bool)
		}
		branchHandles[e.Source][e.SourceHandle] = true
	}
	for _, n := range t.Nodes {
		if n.Type != NodeCondition {
			continue
		}
		handles := branchHandles[n.ID]
		if !handles["true"] && !handles["false"] {
			issues = append(issues, issueWarn(n.ID, "condition %q has no labeled true/false branch", n.ID))
		}
	}

	// Pass 8: upstream sources resolve to an ancestor or a well-known key.
	ancestors := buildAncestors(t)
	for _, n := range t.Nodes {
		if len(n.UpstreamSources) == 0 {
			continue
		}
		seenAlias := make(map[string]bool)
		for _, src := range n.UpstreamSources {
			label := src.Alias
			if label == "" {
				label = src.SourceKey
			}
			if seenAlias[label] {
				issues = append(issues, issueErr(n.ID, "duplicate upstream alias %q", label))
			}
			seenAlias[label] = true

			if WellKnownSource(src.SourceKey) {
				continue
			}
			if !ancestors[n.ID][src.SourceKey] {
				issues = append(issues, issueErr(n.ID, "upstream source %q is not an ancestor of %q", src.SourceKey, n.ID))
				continue
			}
			if src.Transform == TransformDesignSystem {
				if up := nodeByID[src.SourceKey]; up != nil && up.AgentName != "architect" {
					issues = append(issues, issueWarn(n.ID, "design-system transform on non-architect source %q", src.SourceKey))
				}
			}
		}
	}

	return issues
}

func validateNode(n *FlowNode, knownAgents map[string]bool) []ValidationIssue {
	var issues []ValidationIssue
	switch n.Type {
	case NodeAgent:
		if n.AgentName == "" {
			issues = append(issues, issueErr(n.ID, "agent node %q has no agentName", n.ID))
		} else if knownAgents != nil && !knownAgents[n.AgentName] {
			issues = append(issues, issueErr(n.ID, "agent node %q references unknown agent %q", n.ID, n.AgentName))
		}
	case NodeCondition:
		switch n.ConditionMode {
		case ConditionPredefined:
			if _, err := EvalPredefined(n.PredefinedID, ResolutionContext{}); err != nil {
				issues = append(issues, issueErr(n.ID, "condition %q: %v", n.ID, err))
			}
		case ConditionExpression:
			if strings.TrimSpace(n.Expression) == "" {
				issues = append(issues, issueErr(n.ID, "condition %q has an empty expression", n.ID))
				break
			}
			for _, ident := range ExtractIdentifiers(n.Expression) {
				for _, dangerous := range DangerousIdentifiers {
					if ident == dangerous {
						issues = append(issues, issueErr(n.ID, "condition %q uses forbidden identifier %q", n.ID, ident))
					}
				}
				if !AllowedVariables[ident] {
					issues = append(issues, issueErr(n.ID, "condition %q references unknown variable %q", n.ID, ident))
				}
			}
		default:
			issues = append(issues, issueErr(n.ID, "condition %q has invalid mode %q", n.ID, n.ConditionMode))
		}
	case NodeCheckpoint:
		if n.Label == "" && n.Message == "" {
			issues = append(issues, issueWarn(n.ID, "checkpoint %q has no label or message", n.ID))
		}
	case NodeVersion:
		if n.Label == "" {
			issues = append(issues, issueWarn(n.ID, "version node %q has no label", n.ID))
		}
	case NodeAction:
		if n.ActionKind == "" {
			issues = append(issues, issueErr(n.ID, "action node %q has no kind", n.ID))
		}
	case NodeConfig:
		// Nothing required.
	default:
		issues = append(issues, issueErr(n.ID, "node %q has unknown type %q", n.ID, n.Type))
	}
	return issues
}

// buildAncestors computes, for each node, the set of all ancestor node ids.
func buildAncestors(t *Template) map[string]map[string]bool {
	parents := make(map[string][]string)
	for _, e := range t.Edges {
		parents[e.Target] = append(parents[e.Target], e.Source)
	}
	ancestors := make(map[string]map[string]bool, len(t.Nodes))
	var collect func(id string, visited map[string]bool)
	collect = func(id string, visited map[string]bool) {
		for _, p := range parents[id] {
			if visited[p] {
				continue
			}
			visited[p] = true
			collect(p, visited)
		}
	}
	for _, n := range t.Nodes {
		set := make(map[string]bool)
		collect(n.ID, set)
		ancestors[n.ID] = set
	}
	return ancestors
}
