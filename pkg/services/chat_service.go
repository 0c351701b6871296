package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/craftwork-ai/loom/pkg/models"
)

// ChatService manages chat rows.
type ChatService struct {
	db *sql.DB
}

// NewChatService creates a ChatService.
func NewChatService(db *sql.DB) *ChatService {
	return &ChatService{db: db}
}

// CreateChat inserts a chat in the given project.
func (s *ChatService) CreateChat(ctx context.Context, projectID, title string) (*models.Chat, error) {
	if projectID == "" {
		return nil, NewValidationError("projectId", "required")
	}
	if title == "" {
		title = models.DefaultChatTitle
	}
	now := time.Now().UTC()
	c := &models.Chat{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, project_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Title, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return c, nil
}

// GetChat retrieves a chat by id.
func (s *ChatService) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, created_at, updated_at FROM chats WHERE id = ?`, id)
	var c models.Chat
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	return &c, nil
}

// ListChats returns chats for a project, most recently updated first.
func (s *ChatService) ListChats(ctx context.Context, projectID string) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, created_at, updated_at FROM chats WHERE project_id = ? ORDER BY updated_at DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var out []*models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// RenameChat updates the chat title.
func (s *ChatService) RenameChat(ctx context.Context, id, title string) (*models.Chat, error) {
	if title == "" {
		return nil, NewValidationError("title", "required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetChat(ctx, id)
}

// DeleteChat removes the chat row; messages, executions, and runs cascade.
func (s *ChatService) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchChat bumps updated_at (called when messages arrive).
func (s *ChatService) TouchChat(ctx context.Context, id string) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		// Best-effort; ordering by updated_at degrades gracefully.
		_ = err
	}
}
