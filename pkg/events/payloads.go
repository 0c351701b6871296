package events

// Frame is the wire envelope for every server→client WebSocket message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// AgentStatusPayload is the payload for agent_status frames.
// Published on every step lifecycle transition.
type AgentStatusPayload struct {
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"` // step instance id, or "orchestrator"
	Status    string `json:"status"`    // pending, running, completed, failed, retrying, stopped
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentThinkingPayload is the payload for agent_thinking frames.
// Published for each LLM streaming chunk — high frequency, ephemeral.
type AgentThinkingPayload struct {
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Delta     string `json:"delta"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentStreamPayload is the payload for agent_stream frames: the full
// accumulated content at stream end, for clients that skipped the deltas.
type AgentStreamPayload struct {
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentErrorPayload is the payload for agent_error frames.
type AgentErrorPayload struct {
	ChatID    string `json:"chatId"`
	AgentName string `json:"agentName"`
	Error     string `json:"error"`
	Retrying  bool   `json:"retrying,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ChatMessagePayload is the payload for chat_message frames. Metadata.type
// routes client rendering (agent-output, vibe-brief, mood-analysis, plain).
type ChatMessagePayload struct {
	ChatID    string         `json:"chatId"`
	MessageID string         `json:"messageId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	AgentName string         `json:"agentName,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp"` // RFC3339Nano
}

// ChatRenamedPayload is the payload for chat_renamed frames.
type ChatRenamedPayload struct {
	ChatID    string `json:"chatId"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// TokenUsagePayload is the payload for token_usage frames, published after
// every usage row insert so clients can render a live cost meter.
type TokenUsagePayload struct {
	ChatID       string  `json:"chatId"`
	AgentName    string  `json:"agentName"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalTokens  int     `json:"totalTokens"`
	CostEstimate float64 `json:"costEstimate"`
	Timestamp    string  `json:"timestamp"` // RFC3339Nano
}

// FilesChangedPayload is the payload for files_changed frames. Paths carries
// relative paths, or the single sentinel "__snapshot__" after a version
// snapshot.
type FilesChangedPayload struct {
	ChatID    string   `json:"chatId"`
	Paths     []string `json:"paths"`
	Timestamp string   `json:"timestamp"` // RFC3339Nano
}

// PreviewReadyPayload is the payload for preview_ready frames, published when
// a build-check passes.
type PreviewReadyPayload struct {
	ChatID    string `json:"chatId"`
	URL       string `json:"url,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PipelinePlanPayload announces the resolved plan: step instance ids in
// planned order.
type PipelinePlanPayload struct {
	ChatID    string   `json:"chatId"`
	Intent    string   `json:"intent"`
	Agents    []string `json:"agents"`
	Timestamp string   `json:"timestamp"` // RFC3339Nano
}

// PipelineStatusPayload is the payload for pipeline_status frames.
type PipelineStatusPayload struct {
	ChatID    string `json:"chatId"`
	Status    string `json:"status"`    // running, completed, failed, interrupted
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PipelineInterruptedPayload is the payload for pipeline_interrupted frames.
// Reason is "cost_limit", "stopped", or "restart".
type PipelineInterruptedPayload struct {
	ChatID     string `json:"chatId"`
	Reason     string `json:"reason"`
	PipelineID string `json:"pipelineId,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339Nano
}

// PipelineCheckpointPayload is the payload for pipeline_checkpoint frames.
// The pipeline is paused until the checkpoint is resolved or times out.
type PipelineCheckpointPayload struct {
	ChatID         string   `json:"chatId"`
	CheckpointID   string   `json:"checkpointId"`
	CheckpointType string   `json:"checkpointType"` // approve, design_direction
	Message        string   `json:"message"`
	Options        []string `json:"options,omitempty"`
	TimeoutMs      int      `json:"timeoutMs,omitempty"`
	Timestamp      string   `json:"timestamp"` // RFC3339Nano
}

// PipelineCheckpointResolvedPayload is the payload for
// pipeline_checkpoint_resolved frames.
type PipelineCheckpointResolvedPayload struct {
	ChatID       string `json:"chatId"`
	CheckpointID string `json:"checkpointId"`
	Choice       string `json:"choice"`
	Timestamp    string `json:"timestamp"` // RFC3339Nano
}

// TestFailure is one failing test inside a test_results payload.
type TestFailure struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// TestResultsPayload is the final payload for a test-run action.
type TestResultsPayload struct {
	ChatID    string        `json:"chatId"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	Failures  []TestFailure `json:"failures,omitempty"`
	Timestamp string        `json:"timestamp"` // RFC3339Nano
}

// TestResultIncrementalPayload is published per test as results stream in.
type TestResultIncrementalPayload struct {
	ChatID    string `json:"chatId"`
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// BackendReadyPayload is published when a dev backend process comes up.
type BackendReadyPayload struct {
	ChatID    string `json:"chatId"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// BackendErrorPayload is published when a dev backend process fails.
type BackendErrorPayload struct {
	ChatID    string `json:"chatId"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// PreviewExitedPayload is published when a preview process exits.
type PreviewExitedPayload struct {
	ChatID    string `json:"chatId"`
	ExitCode  int    `json:"exitCode"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
}
