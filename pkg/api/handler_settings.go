package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/services"
)

// ResolveCheckpointRequest is the body for
// POST /api/settings/checkpoints/resolve.
type ResolveCheckpointRequest struct {
	ChatID       string `json:"chatId" binding:"required"`
	CheckpointID string `json:"checkpointId" binding:"required"`
	Choice       string `json:"choice" binding:"required"`
}

// SetYoloRequest is the body for PUT /api/settings/yolo/:chatId.
type SetYoloRequest struct {
	Enabled bool `json:"enabled"`
}

// SaveCustomToolRequest is the body for PUT /api/settings/tools/:name.
type SaveCustomToolRequest struct {
	Command   string `json:"command" binding:"required"`
	TimeoutMs int    `json:"timeoutMs"`
}

// handleResolveCheckpoint handles POST /api/settings/checkpoints/resolve.
func (s *Server) handleResolveCheckpoint(c *gin.Context) {
	var req ResolveCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.orch.ResolveCheckpoint(req.ChatID, req.CheckpointID, req.Choice); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpointId": req.CheckpointID, "choice": req.Choice})
}

// handleGetYolo handles GET /api/settings/yolo/:chatId.
func (s *Server) handleGetYolo(c *gin.Context) {
	enabled := s.svc.Settings.Yolo(c.Request.Context(), c.Param("chatId"))
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

// handleSetYolo handles PUT /api/settings/yolo/:chatId. YOLO takes effect on
// the chat's next pipeline, not one already in flight.
func (s *Server) handleSetYolo(c *gin.Context) {
	var req SetYoloRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.svc.Settings.SetYolo(c.Request.Context(), c.Param("chatId"), req.Enabled); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

// handleListCustomTools handles GET /api/settings/tools.
func (s *Server) handleListCustomTools(c *gin.Context) {
	tools, err := s.svc.Settings.ListCustomTools(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tools)
}

// handleSaveCustomTool handles PUT /api/settings/tools/:name.
func (s *Server) handleSaveCustomTool(c *gin.Context) {
	var req SaveCustomToolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	name := c.Param("name")
	tool := services.CustomTool{Command: req.Command, TimeoutMs: req.TimeoutMs}
	if err := s.svc.Settings.SaveCustomTool(c.Request.Context(), name, tool); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "tool": tool})
}

// handleDeleteCustomTool handles DELETE /api/settings/tools/:name.
func (s *Server) handleDeleteCustomTool(c *gin.Context) {
	if err := s.svc.Settings.DeleteCustomTool(c.Request.Context(), c.Param("name")); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
