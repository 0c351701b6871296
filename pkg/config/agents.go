package config

import (
	"fmt"
	"sort"
)

// AgentConfig describes a named LLM agent role: its system prompt, tool set,
// and limits. Per-node flow overrides take precedence over these values.
type AgentConfig struct {
	Name            string
	Description     string
	SystemPrompt    string
	Tools           []string // tool names the agent may call; empty = none
	MaxOutputTokens int      // 0 = pipeline default
	MaxToolSteps    int      // 0 = pipeline default
	Provider        string   // "" = default provider
	Model           string   // "" = provider default
}

// AgentRegistry resolves agent configs by name.
type AgentRegistry struct {
	agents map[string]AgentConfig
}

// Get retrieves an agent configuration by name.
func (r *AgentRegistry) Get(name string) (AgentConfig, error) {
	a, ok := r.agents[name]
	if !ok {
		return AgentConfig{}, fmt.Errorf("agent %q not found", name)
	}
	return a, nil
}

// Has reports whether the agent is registered.
func (r *AgentRegistry) Has(name string) bool {
	_, ok := r.agents[name]
	return ok
}

// Names returns all registered agent names, sorted.
func (r *AgentRegistry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Register adds or replaces an agent config (used by tests).
func (r *AgentRegistry) Register(a AgentConfig) {
	r.agents[a.Name] = a
}

const writeTools = "write_file,write_files,read_file,list_files,save_version"
const readTools = "read_file,list_files"

// BuiltinAgentRegistry returns the stock agent roster the default flow
// templates reference.
func BuiltinAgentRegistry() *AgentRegistry {
	r := &AgentRegistry{agents: make(map[string]AgentConfig)}
	for _, a := range builtinAgents() {
		r.agents[a.Name] = a
	}
	return r
}

func builtinAgents() []AgentConfig {
	return []AgentConfig{
		{
			Name:         "intent-classifier",
			Description:  "Classifies the user request into intent and scope.",
			SystemPrompt: "You classify a user request for an app-building pipeline. Respond with strict JSON: {\"intent\":\"build|fix|question\",\"scope\":\"frontend|backend|styling|full\",\"needsBackend\":bool,\"reasoning\":string}. No prose.",
			MaxOutputTokens: 512,
		},
		{
			Name:         "research",
			Description:  "Researches the problem space and similar products.",
			SystemPrompt: "You are a product researcher. Given a request, outline the product landscape, target users, and the minimal feature set that satisfies the request.",
		},
		{
			Name:         "architect",
			Description:  "Produces the technical plan and design system.",
			SystemPrompt: "You are a software architect. Produce a JSON plan with keys \"architecture\", \"files\", and \"design_system\" (colors, typography, spacing) for the requested app.",
		},
		{
			Name:         "frontend-dev",
			Description:  "Implements frontend code in the project tree.",
			SystemPrompt: "You are a senior frontend developer. Implement the requested UI. Write complete files with write_file tool calls.",
			Tools:        splitTools(writeTools),
		},
		{
			Name:         "backend-dev",
			Description:  "Implements backend code in the project tree.",
			SystemPrompt: "You are a senior backend developer. Implement the requested server code. Write complete files with write_file tool calls.",
			Tools:        splitTools(writeTools),
		},
		{
			Name:         "styling",
			Description:  "Applies the design system across the project.",
			SystemPrompt: "You are a UI stylist. Apply the design system consistently across all files. Use write_file tool calls for every change.",
			Tools:        splitTools(writeTools),
		},
		{
			Name:         "code-review",
			Description:  "Reviews generated code for defects.",
			SystemPrompt: "You are a code reviewer. List concrete issues as a JSON array under key \"issues\"; use an empty array when the code is clean.",
			Tools:        splitTools(readTools),
		},
		{
			Name:         "security",
			Description:  "Reviews generated code for security problems.",
			SystemPrompt: "You are a security reviewer. List vulnerabilities as a JSON array under key \"issues\"; use an empty array when none are found.",
			Tools:        splitTools(readTools),
		},
		{
			Name:         "qa",
			Description:  "Checks the result against the original request.",
			SystemPrompt: "You are a QA engineer. Compare the implementation against the user request and list gaps as a JSON array under key \"issues\".",
			Tools:        splitTools(readTools),
		},
		{
			Name:         "build-fixer",
			Description:  "Fixes build errors reported by the build-check action.",
			SystemPrompt: "You fix build errors. You receive compiler output and project source; rewrite only the broken files using write_file tool calls.",
			Tools:        splitTools(writeTools),
		},
		{
			Name:         "test-fixer",
			Description:  "Fixes failing tests reported by the test-run action.",
			SystemPrompt: "You fix failing tests. You receive failing test output and project source; rewrite only what is needed using write_file tool calls.",
			Tools:        splitTools(writeTools),
		},
		{
			Name:            "chat-renamer",
			Description:     "Produces a short chat title after the first pipeline.",
			SystemPrompt:    "Produce a 3-6 word title for this conversation. Respond with the title only.",
			MaxOutputTokens: 64,
		},
	}
}

func splitTools(csv string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}
