package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/craftwork-ai/loom/pkg/models"
)

// MessageService manages the immutable message log per chat.
type MessageService struct {
	db *sql.DB
}

// NewMessageService creates a MessageService.
func NewMessageService(db *sql.DB) *MessageService {
	return &MessageService{db: db}
}

// CreateMessageRequest groups the fields of a new message.
type CreateMessageRequest struct {
	ChatID    string
	Role      string
	Content   string
	AgentName string
	Metadata  map[string]any
}

// CreateMessage appends a message to the chat.
func (s *MessageService) CreateMessage(ctx context.Context, req CreateMessageRequest) (*models.Message, error) {
	if req.ChatID == "" {
		return nil, NewValidationError("chatId", "required")
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAssistant && req.Role != models.RoleSystem {
		return nil, NewValidationError("role", "must be user, assistant, or system")
	}

	var metaJSON sql.NullString
	if req.Metadata != nil {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(data), Valid: true}
	}

	m := &models.Message{
		ID:        uuid.New().String(),
		ChatID:    req.ChatID,
		Role:      req.Role,
		Content:   req.Content,
		AgentName: req.AgentName,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, role, content, agent_name, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, m.Role, m.Content, nullable(m.AgentName), metaJSON, m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return m, nil
}

// ListMessages returns a chat's messages in creation order.
func (s *MessageService) ListMessages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, agent_name, metadata, created_at FROM messages WHERE chat_id = ? ORDER BY created_at, id`,
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var agentName, metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &agentName, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.AgentName = agentName.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
