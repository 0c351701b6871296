package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/craftwork-ai/loom/pkg/models"
)

// UsageService records per-LLM-call token accounting and answers cost
// rollup queries.
type UsageService struct {
	db *sql.DB
}

// NewUsageService creates a UsageService.
func NewUsageService(db *sql.DB) *UsageService {
	return &UsageService{db: db}
}

// RecordUsage inserts one usage row. Failures are surfaced to the caller but
// never block a pipeline; the orchestrator logs and continues.
func (s *UsageService) RecordUsage(ctx context.Context, u *models.TokenUsage) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.TotalTokens = u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (execution_id, chat_id, agent_name, provider, model, api_key_hash,
		 input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, total_tokens, cost_estimate, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ExecutionID, u.ChatID, u.AgentName, u.Provider, u.Model, nullable(u.APIKeyHash),
		u.InputTokens, u.OutputTokens, u.CacheReadTokens, u.CacheWriteTokens, u.TotalTokens, u.CostEstimate, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record token usage: %w", err)
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

// UsageSummary is a cost/token rollup for a chat or project.
type UsageSummary struct {
	ChatID       string  `json:"chatId,omitempty"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	CostEstimate float64 `json:"costEstimate"`
	Calls        int64   `json:"calls"`
}

// ChatUsage returns the rollup for a single chat.
func (s *UsageService) ChatUsage(ctx context.Context, chatID string) (*UsageSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(total_tokens), 0), COALESCE(SUM(cost_estimate), 0), COUNT(*)
		 FROM token_usage WHERE chat_id = ?`, chatID)
	sum := &UsageSummary{ChatID: chatID}
	if err := row.Scan(&sum.InputTokens, &sum.OutputTokens, &sum.TotalTokens, &sum.CostEstimate, &sum.Calls); err != nil {
		return nil, fmt.Errorf("failed to roll up chat usage: %w", err)
	}
	return sum, nil
}

// ProjectUsage returns per-chat rollups across a project, joined through the
// chats table.
func (s *UsageService) ProjectUsage(ctx context.Context, projectID string) ([]*UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tu.chat_id, COALESCE(SUM(tu.input_tokens), 0), COALESCE(SUM(tu.output_tokens), 0),
		        COALESCE(SUM(tu.total_tokens), 0), COALESCE(SUM(tu.cost_estimate), 0), COUNT(*)
		 FROM token_usage tu JOIN chats c ON c.id = tu.chat_id
		 WHERE c.project_id = ? GROUP BY tu.chat_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to roll up project usage: %w", err)
	}
	defer rows.Close()

	var out []*UsageSummary
	for rows.Next() {
		var sum UsageSummary
		if err := rows.Scan(&sum.ChatID, &sum.InputTokens, &sum.OutputTokens, &sum.TotalTokens, &sum.CostEstimate, &sum.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan usage rollup: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// ProjectCost returns the accumulated cost estimate across all chats of a
// project.
func (s *UsageService) ProjectCost(ctx context.Context, projectID string) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tu.cost_estimate), 0) FROM token_usage tu
		 JOIN chats c ON c.id = tu.chat_id WHERE c.project_id = ?`, projectID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("failed to sum project cost: %w", err)
	}
	return cost, nil
}

// ChatCost returns only the accumulated cost estimate for a chat. The budget
// check on the pipeline hot path uses this instead of the full rollup.
func (s *UsageService) ChatCost(ctx context.Context, chatID string) (float64, error) {
	var cost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_estimate), 0) FROM token_usage WHERE chat_id = ?`, chatID).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("failed to sum chat cost: %w", err)
	}
	return cost, nil
}
