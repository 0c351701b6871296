package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/services"
)

// SeedDefaultTemplates stores any missing built-in template and binds each
// intent to its default when no binding exists. Existing user edits are
// never overwritten here; generation upgrades happen on load.
func (o *Orchestrator) SeedDefaultTemplates(ctx context.Context) error {
	for _, tmpl := range flow.DefaultTemplates() {
		var existing flow.Template
		err := o.svc.Settings.GetFlowTemplate(ctx, tmpl.ID, &existing)
		if errors.Is(err, services.ErrNotFound) {
			if err := o.svc.Settings.SaveFlowTemplate(ctx, tmpl.ID, tmpl); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if _, err := o.svc.Settings.ActiveTemplate(ctx, string(tmpl.Intent)); errors.Is(err, services.ErrNotFound) {
			if err := o.svc.Settings.SetActiveTemplate(ctx, string(tmpl.Intent), tmpl.ID); err != nil {
				return err
			}
		}
	}
	return o.svc.Settings.Set(ctx, services.SettingFlowDefaultsVersion, flow.DefaultsVersion)
}

// loadTemplate returns the active template for an intent, seeding defaults
// on first use and transparently upgrading stale default templates to the
// current generation (id and name are preserved, the DAG is regenerated).
func (o *Orchestrator) loadTemplate(ctx context.Context, intent flow.Intent) (*flow.Template, error) {
	id, err := o.svc.Settings.ActiveTemplate(ctx, string(intent))
	if errors.Is(err, services.ErrNotFound) {
		if err := o.SeedDefaultTemplates(ctx); err != nil {
			return nil, err
		}
		id, err = o.svc.Settings.ActiveTemplate(ctx, string(intent))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active template for intent %q: %w", intent, err)
	}

	var tmpl flow.Template
	if err := o.svc.Settings.GetFlowTemplate(ctx, id, &tmpl); err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		// Binding points at a deleted template; fall back to the stock one.
		slog.Warn("Active template missing, falling back to default", "intent", intent, "template", id)
		return flow.DefaultTemplateFor(intent), nil
	}

	if tmpl.IsDefault && tmpl.Version < flow.DefaultsVersion {
		fresh := flow.DefaultTemplateFor(intent)
		fresh.ID = tmpl.ID
		fresh.Name = tmpl.Name
		if err := o.svc.Settings.SaveFlowTemplate(ctx, fresh.ID, fresh); err != nil {
			return nil, err
		}
		slog.Info("Upgraded default template", "template", fresh.ID, "from", tmpl.Version, "to", fresh.Version)
		return fresh, nil
	}
	if !tmpl.Enabled {
		slog.Warn("Active template is disabled, using stock default", "intent", intent, "template", id)
		return flow.DefaultTemplateFor(intent), nil
	}
	return &tmpl, nil
}
