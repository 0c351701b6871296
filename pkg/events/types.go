// Package events provides real-time event delivery: an in-process bus fans
// typed frames out to WebSocket clients subscribed per chat.
//
// Server→client frames are JSON {type, payload}; every payload carries the
// owning chatId and per-chat filtering is strict: a subscriber to chat A
// never sees frames for chat B.
//
// Agent output follows a streaming lifecycle. Clients discriminate on type:
//
//	agent_status  {status: "running"}
//	agent_thinking {delta: "..."}   (repeated, high frequency)
//	agent_status  {status: "completed" | "failed"}
//
// agent_status(running) always precedes the first agent_thinking for a step,
// and the terminal agent_status is the last frame for that step until a
// re-run.
package events

// Frame types, client-facing.
const (
	TypeAgentStatus   = "agent_status"
	TypeAgentThinking = "agent_thinking"
	TypeAgentStream   = "agent_stream"
	TypeAgentError    = "agent_error"

	TypeChatMessage = "chat_message"
	TypeChatRenamed = "chat_renamed"
	TypeTokenUsage  = "token_usage"

	TypeFilesChanged = "files_changed"
	TypePreviewReady = "preview_ready"

	TypePipelinePlan               = "pipeline_plan"
	TypePipelineStatus             = "pipeline_status"
	TypePipelineInterrupted        = "pipeline_interrupted"
	TypePipelineCheckpoint         = "pipeline_checkpoint"
	TypePipelineCheckpointResolved = "pipeline_checkpoint_resolved"

	TypeTestResults           = "test_results"
	TypeTestResultIncremental = "test_result_incremental"

	TypeBackendReady  = "backend_ready"
	TypeBackendError  = "backend_error"
	TypePreviewExited = "preview_exited"
)

// SnapshotPathSentinel is the files_changed path emitted when a version
// snapshot is written instead of ordinary file writes.
const SnapshotPathSentinel = "__snapshot__"

// OrchestratorAgentName is the pseudo agent name used for pipeline-level
// agent_status frames.
const OrchestratorAgentName = "orchestrator"

// ChatChannel returns the subscription channel for a chat's events.
// Format: "chat:{chat_id}"
func ChatChannel(chatID string) string {
	return "chat:" + chatID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // channel name (e.g. "chat:abc-123")
}
