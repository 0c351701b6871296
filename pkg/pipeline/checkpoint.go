package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

const (
	// defaultCheckpointChoice is applied when a checkpoint times out.
	defaultCheckpointChoice = "approve"
	// defaultCheckpointTimeout bounds gates whose node carries no timeoutMs.
	defaultCheckpointTimeout = 10 * time.Minute
)

// gateState is one checkpoint's resolution state. Several downstream steps
// can wait on the same gate; the first to arrive owns the announcement and
// the timeout, the rest just wait for resolved to close.
type gateState struct {
	resolved chan struct{}
	choice   string
}

// checkpointRegistry tracks pending and resolved checkpoints for one
// pipeline run. Resolutions arriving before any step reaches the gate are
// kept and applied on arrival.
type checkpointRegistry struct {
	mu     sync.Mutex
	states map[string]*gateState
	early  map[string]string
}

func newCheckpointRegistry() *checkpointRegistry {
	return &checkpointRegistry{
		states: make(map[string]*gateState),
		early:  make(map[string]string),
	}
}

// enter returns the gate's state and whether the caller is the first waiter.
func (r *checkpointRegistry) enter(id string) (*gateState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[id]; ok {
		return st, false
	}
	st := &gateState{resolved: make(chan struct{})}
	r.states[id] = st
	if choice, ok := r.early[id]; ok {
		st.choice = choice
		close(st.resolved)
	}
	return st, true
}

// resolve delivers a choice to a gate. Resolving an already-resolved gate is
// a no-op; resolving a gate no step has reached yet is remembered.
func (r *checkpointRegistry) resolve(id, choice string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		r.early[id] = choice
		return nil
	}
	select {
	case <-st.resolved:
		return services.ErrAlreadyExists
	default:
	}
	st.choice = choice
	close(st.resolved)
	return nil
}

func (r *checkpointRegistry) isResolved(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return false
	}
	select {
	case <-st.resolved:
		return true
	default:
		return false
	}
}

// awaitGate pauses the calling step until the checkpoint resolves, times
// out, or the run is cancelled. YOLO chats skip gates marked skipInYolo
// without announcing them.
func (pr *pipelineRun) awaitGate(ctx context.Context, gate flow.Gate) error {
	o := pr.orch
	st, first := pr.checkpoints.enter(gate.NodeID)

	if first && !pr.checkpoints.isResolved(gate.NodeID) {
		if pr.yolo && gate.SkipInYolo {
			_ = pr.checkpoints.resolve(gate.NodeID, defaultCheckpointChoice)
			slog.Info("Checkpoint skipped in YOLO mode", "chat", pr.chatID, "checkpoint", gate.NodeID)
			return nil
		}
		o.publisher.PublishPipelineCheckpoint(events.PipelineCheckpointPayload{
			ChatID:         pr.chatID,
			CheckpointID:   gate.NodeID,
			CheckpointType: gate.CheckpointType,
			Message:        gate.Message,
			Options:        gate.Options,
			TimeoutMs:      gate.TimeoutMs,
		})
	}

	timeout := defaultCheckpointTimeout
	if gate.TimeoutMs > 0 {
		timeout = time.Duration(gate.TimeoutMs) * time.Millisecond
	}

	select {
	case <-st.resolved:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		if err := pr.checkpoints.resolve(gate.NodeID, defaultCheckpointChoice); err == nil {
			slog.Info("Checkpoint timed out, applying default",
				"chat", pr.chatID, "checkpoint", gate.NodeID, "choice", defaultCheckpointChoice)
		}
		<-st.resolved
	}

	if first {
		pr.recordCheckpointResolution(gate, st.choice)
	}
	return nil
}

// recordCheckpointResolution persists the choice as a hidden chat message
// and broadcasts pipeline_checkpoint_resolved.
func (pr *pipelineRun) recordCheckpointResolution(gate flow.Gate, choice string) {
	o := pr.orch
	bg := context.Background()
	_, err := o.svc.Messages.CreateMessage(bg, services.CreateMessageRequest{
		ChatID:  pr.chatID,
		Role:    models.RoleSystem,
		Content: choice,
		Metadata: map[string]any{
			"type":         models.MessageTypeCheckpointResolved,
			"checkpointId": gate.NodeID,
		},
	})
	if err != nil {
		slog.Error("Failed to record checkpoint resolution", "chat", pr.chatID, "checkpoint", gate.NodeID, "error", err)
	}
	o.publisher.PublishPipelineCheckpointResolved(events.PipelineCheckpointResolvedPayload{
		ChatID:       pr.chatID,
		CheckpointID: gate.NodeID,
		Choice:       choice,
	})
}
