package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateProjectRequest is the body for POST /api/projects.
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenameProjectRequest is the body for PATCH /api/projects/:id.
type RenameProjectRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleListProjects handles GET /api/projects.
func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.svc.Projects.ListProjects(c.Request.Context())
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// handleCreateProject handles POST /api/projects. The working tree directory
// is created eagerly so file endpoints work before the first pipeline runs.
func (s *Server) handleCreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	project, err := s.svc.Projects.CreateProject(c.Request.Context(), req.Name, s.store.Root())
	if err != nil {
		serviceError(c, err)
		return
	}
	if _, err := s.store.Tree(project.ID); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// handleGetProject handles GET /api/projects/:id.
func (s *Server) handleGetProject(c *gin.Context) {
	project, err := s.svc.Projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// handleRenameProject handles PATCH /api/projects/:id.
func (s *Server) handleRenameProject(c *gin.Context) {
	var req RenameProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	project, err := s.svc.Projects.RenameProject(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// handleDeleteProject handles DELETE /api/projects/:id. The row cascade
// removes chats, messages, executions, runs, and snapshots; the working tree
// is removed from disk afterwards.
func (s *Server) handleDeleteProject(c *gin.Context) {
	id := c.Param("id")
	s.previews.Stop(id, "")
	if err := s.svc.Projects.DeleteProject(c.Request.Context(), id); err != nil {
		serviceError(c, err)
		return
	}
	if err := s.store.Remove(id); err != nil {
		slog.Warn("Failed to remove project working tree", "project", id, "error", err)
	}
	c.Status(http.StatusNoContent)
}
