package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/pipeline"
	"github.com/craftwork-ai/loom/pkg/services"
)

const maxMessageLength = 100_000

// SendMessageRequest is the body for POST /api/messages/send.
type SendMessageRequest struct {
	ChatID  string `json:"chatId" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// handleListMessages handles GET /api/messages?chatId=.
func (s *Server) handleListMessages(c *gin.Context) {
	chatID := c.Query("chatId")
	if chatID == "" {
		badRequest(c, "chatId is required")
		return
	}
	messages, err := s.svc.Messages.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// handleSendMessage handles POST /api/messages/send: records the user
// message, broadcasts it, and kicks off orchestration for the chat.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if len(req.Content) > maxMessageLength {
		badRequest(c, "content exceeds maximum length")
		return
	}

	msg, err := s.svc.Messages.CreateMessage(c.Request.Context(), services.CreateMessageRequest{
		ChatID:  req.ChatID,
		Role:    models.RoleUser,
		Content: req.Content,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	s.publisher.PublishChatMessage(events.ChatMessagePayload{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
	})

	if err := s.orch.Run(c.Request.Context(), pipeline.RunRequest{
		ChatID:      req.ChatID,
		UserMessage: req.Content,
	}); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}
