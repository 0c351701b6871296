package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/craftwork-ai/loom/pkg/flow"
	"github.com/craftwork-ai/loom/pkg/services"
)

// SetActiveTemplateRequest is the body for PUT /api/settings/flow/active.
type SetActiveTemplateRequest struct {
	Intent     string `json:"intent" binding:"required"`
	TemplateID string `json:"templateId" binding:"required"`
}

// ValidateTemplateResponse is returned by POST /api/settings/flow/validate
// and embedded in save responses.
type ValidateTemplateResponse struct {
	Valid  bool                   `json:"valid"`
	Issues []flow.ValidationIssue `json:"issues"`
}

func (s *Server) knownAgents() map[string]bool {
	known := make(map[string]bool)
	for _, name := range s.cfg.Agents.Names() {
		known[name] = true
	}
	return known
}

// handleListTemplates handles GET /api/settings/flow/templates.
func (s *Server) handleListTemplates(c *gin.Context) {
	raw, err := s.svc.Settings.ListFlowTemplates(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	templates := make([]*flow.Template, 0, len(raw))
	for _, doc := range raw {
		var t flow.Template
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			continue
		}
		templates = append(templates, &t)
	}
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Intent != templates[j].Intent {
			return templates[i].Intent < templates[j].Intent
		}
		return templates[i].Name < templates[j].Name
	})
	c.JSON(http.StatusOK, templates)
}

// handleGetTemplate handles GET /api/settings/flow/templates/:id.
func (s *Server) handleGetTemplate(c *gin.Context) {
	var t flow.Template
	if err := s.svc.Settings.GetFlowTemplate(c.Request.Context(), c.Param("id"), &t); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, &t)
}

// saveTemplate validates and persists a template. Validation errors reject
// the save; warnings ride along in the response.
func (s *Server) saveTemplate(c *gin.Context, t *flow.Template, status int) {
	issues := flow.Validate(t, s.knownAgents())
	if flow.HasErrors(issues) {
		c.JSON(http.StatusBadRequest, ValidateTemplateResponse{Valid: false, Issues: issues})
		return
	}
	if err := s.svc.Settings.SaveFlowTemplate(c.Request.Context(), t.ID, t); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(status, gin.H{"template": t, "issues": issues})
}

// handleCreateTemplate handles POST /api/settings/flow/templates.
func (s *Server) handleCreateTemplate(c *gin.Context) {
	var t flow.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err.Error())
		return
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	// User-authored templates never take part in default auto-upgrade.
	t.IsDefault = false
	s.saveTemplate(c, &t, http.StatusCreated)
}

// handleUpdateTemplate handles PUT /api/settings/flow/templates/:id.
func (s *Server) handleUpdateTemplate(c *gin.Context) {
	var t flow.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err.Error())
		return
	}
	t.ID = c.Param("id")
	s.saveTemplate(c, &t, http.StatusOK)
}

// handleDeleteTemplate handles DELETE /api/settings/flow/templates/:id. An
// active binding pointing at the deleted template falls back to the stock
// default on the next pipeline.
func (s *Server) handleDeleteTemplate(c *gin.Context) {
	if err := s.svc.Settings.DeleteFlowTemplate(c.Request.Context(), c.Param("id")); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleResetTemplate handles POST /api/settings/flow/templates/:id/reset:
// the stored template is replaced by the current-generation stock DAG for its
// intent, keeping id and name.
func (s *Server) handleResetTemplate(c *gin.Context) {
	id := c.Param("id")
	var t flow.Template
	if err := s.svc.Settings.GetFlowTemplate(c.Request.Context(), id, &t); err != nil {
		serviceError(c, err)
		return
	}
	fresh := flow.DefaultTemplateFor(t.Intent)
	if fresh == nil {
		badRequest(c, "template intent has no stock default")
		return
	}
	fresh.ID = t.ID
	fresh.Name = t.Name
	if err := s.svc.Settings.SaveFlowTemplate(c.Request.Context(), fresh.ID, fresh); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, fresh)
}

// handleValidateTemplate handles POST /api/settings/flow/validate.
func (s *Server) handleValidateTemplate(c *gin.Context) {
	var t flow.Template
	if err := c.ShouldBindJSON(&t); err != nil {
		badRequest(c, err.Error())
		return
	}
	issues := flow.Validate(&t, s.knownAgents())
	c.JSON(http.StatusOK, ValidateTemplateResponse{Valid: !flow.HasErrors(issues), Issues: issues})
}

// handleGetActiveTemplates handles GET /api/settings/flow/active.
func (s *Server) handleGetActiveTemplates(c *gin.Context) {
	active := make(map[string]string)
	for _, intent := range flow.Intents {
		id, err := s.svc.Settings.ActiveTemplate(c.Request.Context(), string(intent))
		if errors.Is(err, services.ErrNotFound) {
			continue
		}
		if err != nil {
			serviceError(c, err)
			return
		}
		active[string(intent)] = id
	}
	c.JSON(http.StatusOK, active)
}

// handleSetActiveTemplate handles PUT /api/settings/flow/active.
func (s *Server) handleSetActiveTemplate(c *gin.Context) {
	var req SetActiveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	switch flow.Intent(req.Intent) {
	case flow.IntentBuild, flow.IntentFix, flow.IntentQuestion:
	default:
		badRequest(c, "unknown intent")
		return
	}
	var t flow.Template
	if err := s.svc.Settings.GetFlowTemplate(c.Request.Context(), req.TemplateID, &t); err != nil {
		serviceError(c, err)
		return
	}
	if string(t.Intent) != req.Intent {
		badRequest(c, "template intent does not match binding intent")
		return
	}
	if err := s.svc.Settings.SetActiveTemplate(c.Request.Context(), req.Intent, req.TemplateID); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": req.Intent, "templateId": req.TemplateID})
}

// handleRestoreDefaults handles POST /api/settings/flow/defaults: stock
// templates are rewritten at the current generation and every intent is
// re-bound to its default.
func (s *Server) handleRestoreDefaults(c *gin.Context) {
	ctx := c.Request.Context()
	for _, tmpl := range flow.DefaultTemplates() {
		if err := s.svc.Settings.SaveFlowTemplate(ctx, tmpl.ID, tmpl); err != nil {
			serviceError(c, err)
			return
		}
		if err := s.svc.Settings.SetActiveTemplate(ctx, string(tmpl.Intent), tmpl.ID); err != nil {
			serviceError(c, err)
			return
		}
	}
	if err := s.svc.Settings.Set(ctx, services.SettingFlowDefaultsVersion, flow.DefaultsVersion); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "defaults restored"})
}
