package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleUsage handles GET /api/usage?chatId= or ?projectId=: token and cost
// rollups from the durable token_usage table.
func (s *Server) handleUsage(c *gin.Context) {
	ctx := c.Request.Context()

	if chatID := c.Query("chatId"); chatID != "" {
		summary, err := s.svc.Usage.ChatUsage(ctx, chatID)
		if err != nil {
			serviceError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	if projectID := c.Query("projectId"); projectID != "" {
		chats, err := s.svc.Usage.ProjectUsage(ctx, projectID)
		if err != nil {
			serviceError(c, err)
			return
		}
		total, err := s.svc.Usage.ProjectCost(ctx, projectID)
		if err != nil {
			serviceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chats": chats, "totalCost": total})
		return
	}

	badRequest(c, "chatId or projectId is required")
}
