package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Well-known metadata "type" discriminators. The client uses these to route
// messages to structured card renderers and to hide raw agent output from the
// plain chat stream.
const (
	MessageTypeAgentOutput        = "agent-output"
	MessageTypeVibeBrief          = "vibe-brief"
	MessageTypeMoodAnalysis       = "mood-analysis"
	MessageTypeCheckpointResolved = "checkpoint-resolved"
)

// Message is immutable once written.
type Message struct {
	ID        string         `json:"id"`
	ChatID    string         `json:"chatId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	AgentName string         `json:"agentName,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MessageType returns the metadata type discriminator, or "" for plain messages.
func (m *Message) MessageType() string {
	if m.Metadata == nil {
		return ""
	}
	t, _ := m.Metadata["type"].(string)
	return t
}
