package events

import (
	"time"
)

// Publisher is the typed facade over the Bus. Each method stamps the payload
// timestamp and routes by the payload's ChatID. All methods are nil-safe so
// components can run without event delivery (tests, one-shot tools).
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher over the bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// PublishAgentStatus broadcasts an agent_status frame.
func (p *Publisher) PublishAgentStatus(payload AgentStatusPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeAgentStatus, payload)
}

// PublishAgentThinking broadcasts an agent_thinking frame for one stream chunk.
func (p *Publisher) PublishAgentThinking(payload AgentThinkingPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeAgentThinking, payload)
}

// PublishAgentStream broadcasts the full accumulated content at stream end.
func (p *Publisher) PublishAgentStream(payload AgentStreamPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeAgentStream, payload)
}

// PublishAgentError broadcasts an agent_error frame.
func (p *Publisher) PublishAgentError(payload AgentErrorPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeAgentError, payload)
}

// PublishChatMessage broadcasts a chat_message frame.
func (p *Publisher) PublishChatMessage(payload ChatMessagePayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeChatMessage, payload)
}

// PublishChatRenamed broadcasts a chat_renamed frame.
func (p *Publisher) PublishChatRenamed(payload ChatRenamedPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeChatRenamed, payload)
}

// PublishTokenUsage broadcasts a token_usage frame.
func (p *Publisher) PublishTokenUsage(payload TokenUsagePayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeTokenUsage, payload)
}

// PublishFilesChanged broadcasts a files_changed frame.
func (p *Publisher) PublishFilesChanged(payload FilesChangedPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeFilesChanged, payload)
}

// PublishPreviewReady broadcasts a preview_ready frame.
func (p *Publisher) PublishPreviewReady(payload PreviewReadyPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePreviewReady, payload)
}

// PublishPipelinePlan broadcasts the resolved plan announcement.
func (p *Publisher) PublishPipelinePlan(payload PipelinePlanPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePipelinePlan, payload)
}

// PublishPipelineStatus broadcasts a pipeline_status frame.
func (p *Publisher) PublishPipelineStatus(payload PipelineStatusPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePipelineStatus, payload)
}

// PublishPipelineInterrupted broadcasts a pipeline_interrupted frame.
func (p *Publisher) PublishPipelineInterrupted(payload PipelineInterruptedPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePipelineInterrupted, payload)
}

// PublishPipelineCheckpoint broadcasts a pipeline_checkpoint frame.
func (p *Publisher) PublishPipelineCheckpoint(payload PipelineCheckpointPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePipelineCheckpoint, payload)
}

// PublishPipelineCheckpointResolved broadcasts a pipeline_checkpoint_resolved frame.
func (p *Publisher) PublishPipelineCheckpointResolved(payload PipelineCheckpointResolvedPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePipelineCheckpointResolved, payload)
}

// PublishTestResults broadcasts the final test_results frame.
func (p *Publisher) PublishTestResults(payload TestResultsPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeTestResults, payload)
}

// PublishTestResultIncremental broadcasts one streamed test result.
func (p *Publisher) PublishTestResultIncremental(payload TestResultIncrementalPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeTestResultIncremental, payload)
}

// PublishBackendReady broadcasts a backend_ready frame.
func (p *Publisher) PublishBackendReady(payload BackendReadyPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeBackendReady, payload)
}

// PublishBackendError broadcasts a backend_error frame.
func (p *Publisher) PublishBackendError(payload BackendErrorPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypeBackendError, payload)
}

// PublishPreviewExited broadcasts a preview_exited frame.
func (p *Publisher) PublishPreviewExited(payload PreviewExitedPayload) {
	if p == nil || p.bus == nil {
		return
	}
	payload.Timestamp = now()
	_ = p.bus.Publish(payload.ChatID, TypePreviewExited, payload)
}
