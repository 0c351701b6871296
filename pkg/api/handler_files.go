package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/workspace"
)

// WriteFileRequest is the body for POST /api/files/write/:projectId.
type WriteFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
	ChatID  string `json:"chatId"`
}

// PreviewRequest is the body for POST /api/files/preview/:projectId.
type PreviewRequest struct {
	ChatID  string `json:"chatId"`
	Target  string `json:"target"`  // frontend (default) | backend
	Command string `json:"command"` // overrides the target's default
}

// tree loads the project (404 on unknown id) and returns its working tree.
func (s *Server) tree(c *gin.Context) (*workspace.Tree, bool) {
	projectID := c.Param("projectId")
	if _, err := s.svc.Projects.GetProject(c.Request.Context(), projectID); err != nil {
		serviceError(c, err)
		return nil, false
	}
	tree, err := s.store.Tree(projectID)
	if err != nil {
		serviceError(c, err)
		return nil, false
	}
	return tree, true
}

// handleFileTree handles GET /api/files/tree/:projectId.
func (s *Server) handleFileTree(c *gin.Context) {
	tree, ok := s.tree(c)
	if !ok {
		return
	}
	files, err := tree.ListFiles()
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// handleFileRead handles GET /api/files/read/:projectId/*path.
func (s *Server) handleFileRead(c *gin.Context) {
	tree, ok := s.tree(c)
	if !ok {
		return
	}
	path := strings.TrimPrefix(c.Param("path"), "/")
	content, err := tree.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "content": content})
}

// handleFileWrite handles POST /api/files/write/:projectId.
func (s *Server) handleFileWrite(c *gin.Context) {
	tree, ok := s.tree(c)
	if !ok {
		return
	}
	var req WriteFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := tree.WriteFile(req.ChatID, req.Path, req.Content); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path})
}

// handleFileZip handles GET /api/files/zip/:projectId, streaming the working
// tree as a zip archive.
func (s *Server) handleFileZip(c *gin.Context) {
	tree, ok := s.tree(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.Param("projectId")+".zip"))
	if err := tree.WriteZip(c.Writer); err != nil {
		// Headers are already out; nothing better to do than drop the stream.
		c.Abort()
	}
}

// handlePreviewStart handles POST /api/files/preview/:projectId.
func (s *Server) handlePreviewStart(c *gin.Context) {
	tree, ok := s.tree(c)
	if !ok {
		return
	}
	var req PreviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	url, err := s.previews.Start(tree, c.Param("projectId"), req.ChatID, req.Target, req.Command)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// handlePreviewStop handles DELETE /api/files/preview/:projectId.
func (s *Server) handlePreviewStop(c *gin.Context) {
	stopped := s.previews.Stop(c.Param("projectId"), c.Query("target"))
	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}
