package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/pipeline"
)

// AgentsRunRequest is the body for POST /api/agents/run. In resume mode the
// message is ignored; the most recent interrupted run supplies it.
type AgentsRunRequest struct {
	ChatID  string `json:"chatId" binding:"required"`
	Message string `json:"message"`
	Resume  bool   `json:"resume"`
}

// StopRequest is the body for POST /api/agents/stop.
type StopRequest struct {
	ChatID string `json:"chatId" binding:"required"`
}

// handleAgentsRun handles POST /api/agents/run, the primary pipeline entry.
func (s *Server) handleAgentsRun(c *gin.Context) {
	var req AgentsRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Resume && req.Message == "" {
		badRequest(c, "message is required unless resuming")
		return
	}
	if err := s.orch.Run(c.Request.Context(), pipeline.RunRequest{
		ChatID:      req.ChatID,
		UserMessage: req.Message,
		Resume:      req.Resume,
	}); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "chatId": req.ChatID})
}

// handleAgentsStop handles POST /api/agents/stop.
func (s *Server) handleAgentsStop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.orch.Stop(req.ChatID); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopping", "chatId": req.ChatID})
}

// handleAgentsStatus handles GET /api/agents/status?chatId=.
func (s *Server) handleAgentsStatus(c *gin.Context) {
	chatID := c.Query("chatId")
	if chatID == "" {
		badRequest(c, "chatId is required")
		return
	}
	status, err := s.orch.Status(c.Request.Context(), chatID)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
