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

// RunService manages pipeline_runs, the durable records the resume protocol
// reads. At most one run per chat may be in status "running".
type RunService struct {
	db *sql.DB
}

// NewRunService creates a RunService.
func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

// CreateRunRequest groups the fields of a new pipeline run.
type CreateRunRequest struct {
	ChatID        string
	Intent        string
	Scope         string
	NeedsBackend  bool
	UserMessage   string
	PlannedAgents []string
}

// CreateRun inserts a running pipeline run. Fails if the chat already has a
// run in status "running".
func (s *RunService) CreateRun(ctx context.Context, req CreateRunRequest) (*models.PipelineRun, error) {
	if req.ChatID == "" {
		return nil, NewValidationError("chatId", "required")
	}
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pipeline_runs WHERE chat_id = ? AND status = ?`,
		req.ChatID, string(models.RunStatusRunning)).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check for running pipeline: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyExists
	}

	planned, err := json.Marshal(req.PlannedAgents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal planned agents: %w", err)
	}
	r := &models.PipelineRun{
		ID:            uuid.New().String(),
		ChatID:        req.ChatID,
		Intent:        req.Intent,
		Scope:         req.Scope,
		NeedsBackend:  req.NeedsBackend,
		UserMessage:   req.UserMessage,
		PlannedAgents: req.PlannedAgents,
		Status:        models.RunStatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, chat_id, intent, scope, needs_backend, user_message, planned_agents, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ChatID, r.Intent, r.Scope, r.NeedsBackend, r.UserMessage, string(planned), string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return r, nil
}

// FinishRun marks a run terminal with the given status.
func (s *RunService) FinishRun(ctx context.Context, id string, status models.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish pipeline run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *RunService) GetRun(ctx context.Context, id string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, intent, scope, needs_backend, user_message, planned_agents, status, started_at, completed_at
		 FROM pipeline_runs WHERE id = ?`, id)
	return scanRun(row)
}

// LatestResumable returns the most recent interrupted run for a chat, or
// ErrNotFound when the chat has nothing to resume.
func (s *RunService) LatestResumable(ctx context.Context, chatID string) (*models.PipelineRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, intent, scope, needs_backend, user_message, planned_agents, status, started_at, completed_at
		 FROM pipeline_runs WHERE chat_id = ? AND status = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		chatID, string(models.RunStatusInterrupted))
	return scanRun(row)
}

// ListRuns returns a chat's runs newest first.
func (s *RunService) ListRuns(ctx context.Context, chatID string) ([]*models.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, intent, scope, needs_backend, user_message, planned_agents, status, started_at, completed_at
		 FROM pipeline_runs WHERE chat_id = ? ORDER BY started_at DESC, id DESC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InterruptRunning flips every run still marked running to interrupted.
// Called once at startup before the orchestrator accepts work, so runs
// orphaned by a crash or restart become resumable.
func (s *RunService) InterruptRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, completed_at = ? WHERE status = ?`,
		string(models.RunStatusInterrupted), time.Now().UTC(), string(models.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to interrupt running pipelines: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanRun(r rowScanner) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var planned, status string
	var completed sql.NullTime
	err := r.Scan(&run.ID, &run.ChatID, &run.Intent, &run.Scope, &run.NeedsBackend, &run.UserMessage, &planned, &status, &run.StartedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
	}
	run.Status = models.RunStatus(status)
	if planned != "" {
		_ = json.Unmarshal([]byte(planned), &run.PlannedAgents)
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return &run, nil
}
