package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Settings keys follow dotted namespaces. Flow templates live under
// "flow.template.<id>", the active template per intent under
// "flow.active.<intent>", and the per-chat YOLO flag under
// "chat.yolo.<chatId>".
const (
	settingFlowTemplatePrefix = "flow.template."
	settingFlowActivePrefix   = "flow.active."
	settingYoloPrefix         = "chat.yolo."
	settingCustomToolPrefix   = "tool.custom."

	// SettingFlowDefaultsVersion tracks which generation of built-in
	// templates has been seeded, so upgrades can replace stale defaults.
	SettingFlowDefaultsVersion = "flow.defaults.version"
)

// SettingsService is a JSON key/value store over app_settings.
type SettingsService struct {
	db *sql.DB
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(db *sql.DB) *SettingsService {
	return &SettingsService{db: db}
}

// Get unmarshals the value at key into out. Returns ErrNotFound when the key
// is absent.
func (s *SettingsService) Get(ctx context.Context, key string, out any) error {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return fmt.Errorf("failed to decode setting %q: %w", key, err)
	}
	return nil
}

// Set marshals value and upserts it at key.
func (s *SettingsService) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(data))
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %q: %w", key, err)
	}
	return nil
}

// ListPrefix returns key→raw JSON for all keys under the prefix.
func (s *SettingsService) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM app_settings WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings under %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Flow template storage
// ─────────────────────────────────────────────────────────────────────────────

// SaveFlowTemplate stores a template JSON document under its id.
func (s *SettingsService) SaveFlowTemplate(ctx context.Context, id string, template any) error {
	return s.Set(ctx, settingFlowTemplatePrefix+id, template)
}

// GetFlowTemplate loads the template with the given id into out.
func (s *SettingsService) GetFlowTemplate(ctx context.Context, id string, out any) error {
	return s.Get(ctx, settingFlowTemplatePrefix+id, out)
}

// DeleteFlowTemplate removes a stored template.
func (s *SettingsService) DeleteFlowTemplate(ctx context.Context, id string) error {
	return s.Delete(ctx, settingFlowTemplatePrefix+id)
}

// ListFlowTemplates returns template id → raw JSON for all stored templates.
func (s *SettingsService) ListFlowTemplates(ctx context.Context) (map[string]string, error) {
	raw, err := s.ListPrefix(ctx, settingFlowTemplatePrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.TrimPrefix(k, settingFlowTemplatePrefix)] = v
	}
	return out, nil
}

// SetActiveTemplate binds an intent to a template id.
func (s *SettingsService) SetActiveTemplate(ctx context.Context, intent, templateID string) error {
	return s.Set(ctx, settingFlowActivePrefix+intent, templateID)
}

// ActiveTemplate returns the template id bound to an intent, or ErrNotFound.
func (s *SettingsService) ActiveTemplate(ctx context.Context, intent string) (string, error) {
	var id string
	if err := s.Get(ctx, settingFlowActivePrefix+intent, &id); err != nil {
		return "", err
	}
	return id, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Custom tools
// ─────────────────────────────────────────────────────────────────────────────

// CustomTool is a user-defined shell tool callable from agent tool-call
// streams. The {{input}} placeholder in Command is replaced with the call's
// quoted input.
type CustomTool struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SaveCustomTool stores a tool definition under its name.
func (s *SettingsService) SaveCustomTool(ctx context.Context, name string, tool CustomTool) error {
	if name == "" {
		return NewValidationError("name", "required")
	}
	if tool.Command == "" {
		return NewValidationError("command", "required")
	}
	return s.Set(ctx, settingCustomToolPrefix+name, tool)
}

// GetCustomTool loads a tool definition by name.
func (s *SettingsService) GetCustomTool(ctx context.Context, name string) (CustomTool, error) {
	var tool CustomTool
	err := s.Get(ctx, settingCustomToolPrefix+name, &tool)
	return tool, err
}

// DeleteCustomTool removes a tool definition.
func (s *SettingsService) DeleteCustomTool(ctx context.Context, name string) error {
	return s.Delete(ctx, settingCustomToolPrefix+name)
}

// ListCustomTools returns all tool definitions keyed by name.
func (s *SettingsService) ListCustomTools(ctx context.Context) (map[string]CustomTool, error) {
	raw, err := s.ListPrefix(ctx, settingCustomToolPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]CustomTool, len(raw))
	for key, doc := range raw {
		var tool CustomTool
		if err := json.Unmarshal([]byte(doc), &tool); err != nil {
			continue
		}
		out[strings.TrimPrefix(key, settingCustomToolPrefix)] = tool
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Chat flags
// ─────────────────────────────────────────────────────────────────────────────

// SetYolo toggles YOLO mode for a chat. YOLO auto-approves checkpoints.
func (s *SettingsService) SetYolo(ctx context.Context, chatID string, enabled bool) error {
	if !enabled {
		return s.Delete(ctx, settingYoloPrefix+chatID)
	}
	return s.Set(ctx, settingYoloPrefix+chatID, true)
}

// Yolo reports whether YOLO mode is on for a chat.
func (s *SettingsService) Yolo(ctx context.Context, chatID string) bool {
	var enabled bool
	if err := s.Get(ctx, settingYoloPrefix+chatID, &enabled); err != nil {
		return false
	}
	return enabled
}
