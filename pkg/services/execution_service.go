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

// ExecutionService manages agent_executions rows. Rows are append-only modulo
// status transitions; output.content is the authoritative text for resume.
type ExecutionService struct {
	db *sql.DB
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(db *sql.DB) *ExecutionService {
	return &ExecutionService{db: db}
}

// CreateExecution inserts a new execution row in the given status.
func (s *ExecutionService) CreateExecution(ctx context.Context, chatID, agentName string, status models.ExecStatus, input string) (*models.AgentExecution, error) {
	if chatID == "" {
		return nil, NewValidationError("chatId", "required")
	}
	if agentName == "" {
		return nil, NewValidationError("agentName", "required")
	}
	now := time.Now().UTC()
	e := &models.AgentExecution{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		AgentName: agentName,
		Status:    status,
		Input:     input,
		StartedAt: &now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_executions (id, chat_id, agent_name, status, input, retry_count, started_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.ChatID, e.AgentName, string(e.Status), nullable(e.Input), e.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent execution: %w", err)
	}
	return e, nil
}

// CompleteExecution marks an execution terminal with its output envelope.
func (s *ExecutionService) CompleteExecution(ctx context.Context, id string, output models.ExecutionOutput) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal execution output: %w", err)
	}
	return s.transition(ctx, id, models.ExecStatusCompleted, string(data), "")
}

// FailExecution marks an execution failed with its error message.
func (s *ExecutionService) FailExecution(ctx context.Context, id, errMsg string) error {
	return s.transition(ctx, id, models.ExecStatusFailed, "", errMsg)
}

// StopExecution marks an in-flight execution stopped (user cancellation).
func (s *ExecutionService) StopExecution(ctx context.Context, id string) error {
	return s.transition(ctx, id, models.ExecStatusStopped, "", "")
}

// MarkRetrying bumps retry_count and flips the status to retrying.
func (s *ExecutionService) MarkRetrying(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_executions SET status = ?, error = ?, retry_count = retry_count + 1 WHERE id = ?`,
		string(models.ExecStatusRetrying), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark execution retrying: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRunning flips a retrying execution back to running.
func (s *ExecutionService) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_executions SET status = ? WHERE id = ?`, string(models.ExecStatusRunning), id)
	if err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ExecutionService) transition(ctx context.Context, id string, status models.ExecStatus, output, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_executions SET status = ?, output = COALESCE(NULLIF(?, ''), output), error = ?, completed_at = ? WHERE id = ?`,
		string(status), output, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update agent execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExecutions returns all executions for a chat in start order.
func (s *ExecutionService) ListExecutions(ctx context.Context, chatID string) ([]*models.AgentExecution, error) {
	return s.query(ctx,
		`SELECT id, chat_id, agent_name, status, input, output, error, retry_count, started_at, completed_at
		 FROM agent_executions WHERE chat_id = ? ORDER BY started_at, id`, chatID)
}

// ListCompletedExecutions returns completed executions for a chat. Used by
// the resume protocol to rebuild upstream results.
func (s *ExecutionService) ListCompletedExecutions(ctx context.Context, chatID string) ([]*models.AgentExecution, error) {
	return s.query(ctx,
		`SELECT id, chat_id, agent_name, status, input, output, error, retry_count, started_at, completed_at
		 FROM agent_executions WHERE chat_id = ? AND status = ? ORDER BY started_at, id`,
		chatID, string(models.ExecStatusCompleted))
}

// InterruptInFlight rewrites all pending/running/retrying executions for a
// chat (or globally when chatID is empty) with the given synthetic error.
// Used by startup orphan recovery and user stop.
func (s *ExecutionService) InterruptInFlight(ctx context.Context, chatID, errMsg string, status models.ExecStatus) (int64, error) {
	q := `UPDATE agent_executions SET status = ?, error = ?, completed_at = ? WHERE status IN (?, ?, ?)`
	args := []any{string(status), errMsg, time.Now().UTC(),
		string(models.ExecStatusPending), string(models.ExecStatusRunning), string(models.ExecStatusRetrying)}
	if chatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to interrupt in-flight executions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *ExecutionService) query(ctx context.Context, q string, args ...any) ([]*models.AgentExecution, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent executions: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentExecution
	for rows.Next() {
		var e models.AgentExecution
		var status string
		var input, output, errMsg sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&e.ID, &e.ChatID, &e.AgentName, &status, &input, &output, &errMsg, &e.RetryCount, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan agent execution: %w", err)
		}
		e.Status = models.ExecStatus(status)
		e.Input = input.String
		e.Output = output.String
		e.Error = errMsg.String
		if started.Valid {
			t := started.Time
			e.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
