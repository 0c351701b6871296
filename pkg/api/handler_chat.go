package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/models"
)

// CreateChatRequest is the body for POST /api/chats.
type CreateChatRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
	Title     string `json:"title"`
}

// RenameChatRequest is the body for PATCH /api/chats/:id.
type RenameChatRequest struct {
	Title string `json:"title" binding:"required"`
}

// handleListChats handles GET /api/chats?projectId=.
func (s *Server) handleListChats(c *gin.Context) {
	projectID := c.Query("projectId")
	if projectID == "" {
		badRequest(c, "projectId is required")
		return
	}
	chats, err := s.svc.Chats.ListChats(c.Request.Context(), projectID)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// handleCreateChat handles POST /api/chats.
func (s *Server) handleCreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Title == "" {
		req.Title = models.DefaultChatTitle
	}
	chat, err := s.svc.Chats.CreateChat(c.Request.Context(), req.ProjectID, req.Title)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// handleRenameChat handles PATCH /api/chats/:id.
func (s *Server) handleRenameChat(c *gin.Context) {
	var req RenameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	chat, err := s.svc.Chats.RenameChat(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		serviceError(c, err)
		return
	}
	s.publisher.PublishChatRenamed(events.ChatRenamedPayload{ChatID: chat.ID, Title: chat.Title})
	c.JSON(http.StatusOK, chat)
}

// handleDeleteChat handles DELETE /api/chats/:id. A pipeline running for the
// chat is stopped first.
func (s *Server) handleDeleteChat(c *gin.Context) {
	id := c.Param("id")
	_ = s.orch.Stop(id)
	if err := s.svc.Chats.DeleteChat(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
