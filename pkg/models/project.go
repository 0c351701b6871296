// Package models holds the shared record types exchanged between the
// persistence layer, the orchestrator, and the HTTP API.
package models

import "time"

// VibeBrief is the structured design brief captured by the vibe-intake action.
type VibeBrief struct {
	Adjectives     []string `json:"adjectives,omitempty"`
	Metaphor       string   `json:"metaphor,omitempty"`
	TargetUser     string   `json:"targetUser,omitempty"`
	AntiReferences []string `json:"antiReferences,omitempty"`
}

// Project is the root of a workspace. It owns a directory on disk where all
// generated artifacts live.
type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	VibeBrief *VibeBrief `json:"vibeBrief,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Chat is a conversation scoped to a project. At most one pipeline run is
// active per chat at any time.
type Chat struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultChatTitle is the title given to new chats until auto-rename kicks in.
const DefaultChatTitle = "New chat"
