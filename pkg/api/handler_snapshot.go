package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RestoreSnapshotRequest is the body for POST /api/snapshots/:id/restore.
type RestoreSnapshotRequest struct {
	ChatID string `json:"chatId"`
}

// handleListSnapshots handles GET /api/snapshots?projectId=.
func (s *Server) handleListSnapshots(c *gin.Context) {
	projectID := c.Query("projectId")
	if projectID == "" {
		badRequest(c, "projectId is required")
		return
	}
	snapshots, err := s.svc.Snapshots.ListSnapshots(c.Request.Context(), projectID)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// handleGetSnapshot handles GET /api/snapshots/:id.
func (s *Server) handleGetSnapshot(c *gin.Context) {
	snap, err := s.svc.Snapshots.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleRestoreSnapshot handles POST /api/snapshots/:id/restore: writes the
// snapshot's file manifest back into the project tree and broadcasts
// files_changed with the snapshot sentinel.
func (s *Server) handleRestoreSnapshot(c *gin.Context) {
	snap, err := s.svc.Snapshots.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		serviceError(c, err)
		return
	}
	var req RestoreSnapshotRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = snap.ChatID
	}
	tree, err := s.store.Tree(snap.ProjectID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if err := tree.RestoreManifest(chatID, snap.FileManifest); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restored": snap.ID, "files": len(snap.FileManifest)})
}
