package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/craftwork-ai/loom/pkg/models"
)

// ProjectService manages project rows. Deleting a project cascades to chats,
// messages, executions, runs, and snapshots via foreign keys; removing the
// working tree on disk is the caller's job (the API handler owns it).
type ProjectService struct {
	db *sql.DB
}

// NewProjectService creates a ProjectService.
func NewProjectService(db *sql.DB) *ProjectService {
	return &ProjectService{db: db}
}

// CreateProject inserts a project. Its working tree lives at <root>/<id>
// under the given workspace root.
func (s *ProjectService) CreateProject(ctx context.Context, name, root string) (*models.Project, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	now := time.Now().UTC()
	id := uuid.New().String()
	p := &models.Project{
		ID:        id,
		Name:      name,
		Path:      filepath.Join(root, id),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, vibe_brief, created_at, updated_at) VALUES (?, ?, ?, NULL, ?, ?)`,
		p.ID, p.Name, p.Path, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by id.
func (s *ProjectService) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, vibe_brief, created_at, updated_at FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects, most recently updated first.
func (s *ProjectService) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, vibe_brief, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RenameProject updates the project name.
func (s *ProjectService) RenameProject(ctx context.Context, id, name string) (*models.Project, error) {
	if name == "" {
		return nil, NewValidationError("name", "required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, updated_at = ? WHERE id = ?`, name, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to rename project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetProject(ctx, id)
}

// SetVibeBrief stores the structured vibe brief produced by the vibe-intake
// action.
func (s *ProjectService) SetVibeBrief(ctx context.Context, id string, brief *models.VibeBrief) error {
	data, err := json.Marshal(brief)
	if err != nil {
		return fmt.Errorf("failed to marshal vibe brief: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET vibe_brief = ?, updated_at = ? WHERE id = ?`, string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set vibe brief: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProject removes the project row; dependent rows cascade.
func (s *ProjectService) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*models.Project, error) {
	var p models.Project
	var brief sql.NullString
	err := r.Scan(&p.ID, &p.Name, &p.Path, &brief, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	if brief.Valid && brief.String != "" {
		var vb models.VibeBrief
		if err := json.Unmarshal([]byte(brief.String), &vb); err == nil {
			p.VibeBrief = &vb
		}
	}
	return &p, nil
}
