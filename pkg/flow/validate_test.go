package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAgents() map[string]bool {
	return map[string]bool{
		"research": true, "architect": true, "frontend-dev": true,
		"backend-dev": true, "styling": true, "code-review": true,
		"security": true, "qa": true,
	}
}

// linear builds a minimal valid template: a → b.
func linear() *Template {
	return &Template{
		ID:      "t1",
		Name:    "Test",
		Intent:  IntentBuild,
		Enabled: true,
		Nodes: []FlowNode{
			{ID: "a", Type: NodeAgent, AgentName: "research"},
			{ID: "b", Type: NodeAgent, AgentName: "architect"},
		},
		Edges: []FlowEdge{{Source: "a", Target: "b"}},
	}
}

func TestValidate_ValidTemplate(t *testing.T) {
	issues := Validate(linear(), testAgents())
	assert.Empty(t, issues)
}

func TestValidate_EmptyTemplate(t *testing.T) {
	issues := Validate(&Template{Name: "x"}, nil)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "no nodes")

	issues = Validate(&Template{Nodes: []FlowNode{{ID: "a", Type: NodeAgent, AgentName: "qa"}}}, nil)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, "name is required")
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	tmpl := linear()
	tmpl.Nodes = append(tmpl.Nodes, FlowNode{ID: "a", Type: NodeAgent, AgentName: "qa"})
	issues := Validate(tmpl, testAgents())
	assert.True(t, HasErrors(issues))
	assert.Contains(t, issues[0].Message, "duplicate node id")
}

func TestValidate_UnknownEdgeEndpoint(t *testing.T) {
	tmpl := linear()
	tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "a", Target: "ghost"})
	issues := Validate(tmpl, testAgents())
	require.True(t, HasErrors(issues))

	found := false
	for _, i := range issues {
		if i.Message == `edge references unknown target node "ghost"` {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidate_Cycle(t *testing.T) {
	tmpl := linear()
	tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "b", Target: "a"})
	issues := Validate(tmpl, testAgents())

	messages := make([]string, 0, len(issues))
	for _, i := range issues {
		messages = append(messages, i.Message)
	}
	assert.Contains(t, messages, "template contains a cycle")
	// A pure cycle also has no start and no terminal.
	assert.Contains(t, messages, "template has no start node (every node has an incoming edge)")
}

func TestValidate_IsolatedNodeIsItsOwnStart(t *testing.T) {
	tmpl := linear()
	tmpl.Nodes = append(tmpl.Nodes,
		FlowNode{ID: "c", Type: NodeAgent, AgentName: "qa"},
	)
	issues := Validate(tmpl, testAgents())
	assert.False(t, HasErrors(issues))
}

func TestValidate_UnknownAgent(t *testing.T) {
	tmpl := linear()
	tmpl.Nodes[0].AgentName = "nonexistent"
	issues := Validate(tmpl, testAgents())
	require.True(t, HasErrors(issues))
	assert.Contains(t, issues[0].Message, `unknown agent "nonexistent"`)

	// Without a registry the reference check is skipped.
	assert.Empty(t, Validate(tmpl, nil))
}

func TestValidate_ConditionChecks(t *testing.T) {
	t.Run("dangerous identifier", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes = append(tmpl.Nodes, FlowNode{
			ID: "cond", Type: NodeCondition, ConditionMode: ConditionExpression,
			Expression: `eval === "x"`,
		})
		tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "b", Target: "cond"})
		issues := Validate(tmpl, testAgents())
		require.True(t, HasErrors(issues))

		var messages []string
		for _, i := range issues {
			if i.Severity == SeverityError {
				messages = append(messages, i.Message)
			}
		}
		assert.Contains(t, messages, `condition "cond" uses forbidden identifier "eval"`)
	})

	t.Run("unknown variable", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes = append(tmpl.Nodes, FlowNode{
			ID: "cond", Type: NodeCondition, ConditionMode: ConditionExpression,
			Expression: `mystery === "x"`,
		})
		tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "b", Target: "cond"})
		issues := Validate(tmpl, testAgents())
		assert.True(t, HasErrors(issues))
	})

	t.Run("unknown predefined id", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes = append(tmpl.Nodes, FlowNode{
			ID: "cond", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: "nope",
		})
		tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "b", Target: "cond"})
		issues := Validate(tmpl, testAgents())
		assert.True(t, HasErrors(issues))
	})

	t.Run("unlabeled branches warn", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes = append(tmpl.Nodes,
			FlowNode{ID: "cond", Type: NodeCondition, ConditionMode: ConditionPredefined, PredefinedID: PredefinedNeedsBackend},
			FlowNode{ID: "c", Type: NodeAgent, AgentName: "qa"},
		)
		tmpl.Edges = append(tmpl.Edges,
			FlowEdge{Source: "b", Target: "cond"},
			FlowEdge{Source: "cond", Target: "c"},
		)
		issues := Validate(tmpl, testAgents())
		assert.False(t, HasErrors(issues))
		require.Len(t, issues, 1)
		assert.Equal(t, SeverityWarning, issues[0].Severity)
		assert.Contains(t, issues[0].Message, "no labeled true/false branch")
	})
}

func TestValidate_UpstreamSources(t *testing.T) {
	t.Run("non-ancestor source", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes[0].UpstreamSources = []UpstreamSource{{SourceKey: "b"}}
		issues := Validate(tmpl, testAgents())
		require.True(t, HasErrors(issues))
		assert.Contains(t, issues[0].Message, "is not an ancestor")
	})

	t.Run("well-known keys always allowed", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes[0].UpstreamSources = []UpstreamSource{
			{SourceKey: SourceProjectSource},
			{SourceKey: SourceVibeBrief},
		}
		assert.Empty(t, Validate(tmpl, testAgents()))
	})

	t.Run("duplicate alias", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes[1].UpstreamSources = []UpstreamSource{
			{SourceKey: "a", Alias: "ctx"},
			{SourceKey: SourceVibeBrief, Alias: "ctx"},
		}
		issues := Validate(tmpl, testAgents())
		require.True(t, HasErrors(issues))
		assert.Contains(t, issues[0].Message, `duplicate upstream alias "ctx"`)
	})

	t.Run("design-system transform on non-architect source warns", func(t *testing.T) {
		tmpl := linear()
		tmpl.Nodes[1].UpstreamSources = []UpstreamSource{
			{SourceKey: "a", Transform: TransformDesignSystem},
		}
		issues := Validate(tmpl, testAgents())
		assert.False(t, HasErrors(issues))
		require.Len(t, issues, 1)
		assert.Equal(t, SeverityWarning, issues[0].Severity)
	})
}

func TestValidate_ActionKindRequired(t *testing.T) {
	tmpl := linear()
	tmpl.Nodes = append(tmpl.Nodes, FlowNode{ID: "act", Type: NodeAction})
	tmpl.Edges = append(tmpl.Edges, FlowEdge{Source: "b", Target: "act"})
	issues := Validate(tmpl, testAgents())
	require.True(t, HasErrors(issues))
	assert.Contains(t, issues[0].Message, "has no kind")
}

func TestValidate_DefaultTemplatesAreClean(t *testing.T) {
	agents := testAgents()
	for _, tmpl := range DefaultTemplates() {
		issues := Validate(tmpl, agents)
		assert.False(t, HasErrors(issues), "template %s: %v", tmpl.ID, issues)
	}
}
