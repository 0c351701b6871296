package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// PipelineRun is the durable record a pipeline leaves behind for resume.
// At most one run with status "running" may exist per chat.
type PipelineRun struct {
	ID            string     `json:"id"`
	ChatID        string     `json:"chatId"`
	Intent        string     `json:"intent"`
	Scope         string     `json:"scope"`
	NeedsBackend  bool       `json:"needsBackend"`
	UserMessage   string     `json:"userMessage"`
	PlannedAgents []string   `json:"plannedAgents"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// ExecStatus is the lifecycle status of a single agent execution.
type ExecStatus string

const (
	ExecStatusPending   ExecStatus = "pending"
	ExecStatusRunning   ExecStatus = "running"
	ExecStatusCompleted ExecStatus = "completed"
	ExecStatusFailed    ExecStatus = "failed"
	ExecStatusRetrying  ExecStatus = "retrying"
	ExecStatusStopped   ExecStatus = "stopped"
	ExecStatusSkipped   ExecStatus = "skipped"
)

// AgentExecution records one step invocation. The agent_name column stores
// the step's instance id (the originating flow node id) so that resume keyed
// by step key stays correct when the same agent appears on multiple nodes.
// The display agent name travels inside Input/Output JSON.
type AgentExecution struct {
	ID          string     `json:"id"`
	ChatID      string     `json:"chatId"`
	AgentName   string     `json:"agentName"`
	Status      ExecStatus `json:"status"`
	Input       string     `json:"input,omitempty"`
	Output      string     `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ExecutionOutput is the JSON envelope stored in agent_executions.output.
// Content is the authoritative text used to reconstruct upstream results on
// resume.
type ExecutionOutput struct {
	Content     string `json:"content"`
	DisplayName string `json:"displayName,omitempty"`
}

// OutputContent parses the output envelope and returns its content. Falls
// back to the raw output string for rows written before the envelope existed.
func (e *AgentExecution) OutputContent() string {
	if e.Output == "" {
		return ""
	}
	var out ExecutionOutput
	if err := json.Unmarshal([]byte(e.Output), &out); err != nil {
		return e.Output
	}
	return out.Content
}

// TokenUsage is per-LLM-call accounting, linked to an execution and a chat.
type TokenUsage struct {
	ID               int64     `json:"id"`
	ExecutionID      string    `json:"executionId"`
	ChatID           string    `json:"chatId"`
	AgentName        string    `json:"agentName"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	APIKeyHash       string    `json:"apiKeyHash,omitempty"`
	InputTokens      int       `json:"inputTokens"`
	OutputTokens     int       `json:"outputTokens"`
	CacheReadTokens  int       `json:"cacheReadTokens"`
	CacheWriteTokens int       `json:"cacheWriteTokens"`
	TotalTokens      int       `json:"totalTokens"`
	CostEstimate     float64   `json:"costEstimate"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Snapshot is a versioned file manifest for a project+chat at a named label.
// The manifest maps relative file paths to full file contents.
type Snapshot struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"projectId"`
	ChatID       string            `json:"chatId"`
	Label        string            `json:"label"`
	FileManifest map[string]string `json:"fileManifest"`
	CreatedAt    time.Time         `json:"createdAt"`
}
