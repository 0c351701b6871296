// Package api is the HTTP and WebSocket edge: a gin server exposing the
// project, chat, message, pipeline, file, flow-template, and settings
// endpoints, plus the /ws endpoint that upgrades into the chat-filtered
// event fanout.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/craftwork-ai/loom/pkg/config"
	"github.com/craftwork-ai/loom/pkg/database"
	"github.com/craftwork-ai/loom/pkg/events"
	"github.com/craftwork-ai/loom/pkg/pipeline"
	"github.com/craftwork-ai/loom/pkg/workspace"
)

// Server holds the handler dependencies and owns route registration.
type Server struct {
	cfg       *config.Config
	db        *database.Client
	orch      *pipeline.Orchestrator
	svc       pipeline.Services
	store     *workspace.Store
	previews  *workspace.PreviewManager
	publisher *events.Publisher
	manager   *events.ConnectionManager
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, db *database.Client, orch *pipeline.Orchestrator, svc pipeline.Services, store *workspace.Store, previews *workspace.PreviewManager, publisher *events.Publisher, manager *events.ConnectionManager) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		orch:      orch,
		svc:       svc,
		store:     store,
		previews:  previews,
		publisher: publisher,
		manager:   manager,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/projects", s.handleListProjects)
		api.POST("/projects", s.handleCreateProject)
		api.GET("/projects/:id", s.handleGetProject)
		api.PATCH("/projects/:id", s.handleRenameProject)
		api.DELETE("/projects/:id", s.handleDeleteProject)

		api.GET("/chats", s.handleListChats)
		api.POST("/chats", s.handleCreateChat)
		api.PATCH("/chats/:id", s.handleRenameChat)
		api.DELETE("/chats/:id", s.handleDeleteChat)

		api.GET("/messages", s.handleListMessages)
		api.POST("/messages/send", s.handleSendMessage)

		api.POST("/agents/run", s.handleAgentsRun)
		api.POST("/agents/stop", s.handleAgentsStop)
		api.GET("/agents/status", s.handleAgentsStatus)

		api.GET("/files/tree/:projectId", s.handleFileTree)
		api.GET("/files/read/:projectId/*path", s.handleFileRead)
		api.POST("/files/write/:projectId", s.handleFileWrite)
		api.GET("/files/zip/:projectId", s.handleFileZip)
		api.POST("/files/preview/:projectId", s.handlePreviewStart)
		api.DELETE("/files/preview/:projectId", s.handlePreviewStop)

		templates := api.Group("/settings/flow")
		{
			templates.GET("/templates", s.handleListTemplates)
			templates.POST("/templates", s.handleCreateTemplate)
			templates.GET("/templates/:id", s.handleGetTemplate)
			templates.PUT("/templates/:id", s.handleUpdateTemplate)
			templates.DELETE("/templates/:id", s.handleDeleteTemplate)
			templates.POST("/templates/:id/reset", s.handleResetTemplate)
			templates.POST("/validate", s.handleValidateTemplate)
			templates.GET("/active", s.handleGetActiveTemplates)
			templates.PUT("/active", s.handleSetActiveTemplate)
			templates.POST("/defaults", s.handleRestoreDefaults)
		}

		api.POST("/settings/checkpoints/resolve", s.handleResolveCheckpoint)
		api.GET("/settings/yolo/:chatId", s.handleGetYolo)
		api.PUT("/settings/yolo/:chatId", s.handleSetYolo)
		api.GET("/settings/tools", s.handleListCustomTools)
		api.PUT("/settings/tools/:name", s.handleSaveCustomTool)
		api.DELETE("/settings/tools/:name", s.handleDeleteCustomTool)

		api.GET("/usage", s.handleUsage)

		api.GET("/snapshots", s.handleListSnapshots)
		api.GET("/snapshots/:id", s.handleGetSnapshot)
		api.POST("/snapshots/:id/restore", s.handleRestoreSnapshot)
	}

	return r
}

// HTTPServer wraps the router in an http.Server bound to the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
