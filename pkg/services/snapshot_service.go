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

// SnapshotService stores versioned file manifests. Manifests carry full file
// contents, so restore never depends on the working tree's current state.
type SnapshotService struct {
	db *sql.DB
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(db *sql.DB) *SnapshotService {
	return &SnapshotService{db: db}
}

// CreateSnapshot stores a manifest under a label.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, projectID, chatID, label string, manifest map[string]string) (*models.Snapshot, error) {
	if projectID == "" {
		return nil, NewValidationError("projectId", "required")
	}
	if label == "" {
		return nil, NewValidationError("label", "required")
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file manifest: %w", err)
	}
	snap := &models.Snapshot{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		ChatID:       chatID,
		Label:        label,
		FileManifest: manifest,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, project_id, chat_id, label, file_manifest, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ProjectID, snap.ChatID, snap.Label, string(data), snap.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return snap, nil
}

// GetSnapshot retrieves a snapshot with its full manifest.
func (s *SnapshotService) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, chat_id, label, file_manifest, created_at FROM snapshots WHERE id = ?`, id)
	var snap models.Snapshot
	var manifest string
	err := row.Scan(&snap.ID, &snap.ProjectID, &snap.ChatID, &snap.Label, &manifest, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(manifest), &snap.FileManifest); err != nil {
		return nil, fmt.Errorf("failed to decode file manifest: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns snapshot headers for a project, newest first. The
// manifests are omitted; fetch a single snapshot to get file contents.
func (s *SnapshotService) ListSnapshots(ctx context.Context, projectID string) ([]*models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, chat_id, label, created_at FROM snapshots WHERE project_id = ? ORDER BY created_at DESC, id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		if err := rows.Scan(&snap.ID, &snap.ProjectID, &snap.ChatID, &snap.Label, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// DeleteSnapshot removes a snapshot.
func (s *SnapshotService) DeleteSnapshot(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
