package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/database"
	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

// testEnv bundles the service gateways over a fresh in-memory database.
type testEnv struct {
	Projects   *services.ProjectService
	Chats      *services.ChatService
	Messages   *services.MessageService
	Executions *services.ExecutionService
	Runs       *services.RunService
	Usage      *services.UsageService
	Settings   *services.SettingsService
	Snapshots  *services.SnapshotService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client, err := database.NewClient(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	db := client.DB()
	return &testEnv{
		Projects:   services.NewProjectService(db),
		Chats:      services.NewChatService(db),
		Messages:   services.NewMessageService(db),
		Executions: services.NewExecutionService(db),
		Runs:       services.NewRunService(db),
		Usage:      services.NewUsageService(db),
		Settings:   services.NewSettingsService(db),
		Snapshots:  services.NewSnapshotService(db),
	}
}

// seedChat creates a project with one chat and returns both ids.
func seedChat(t *testing.T, env *testEnv) (projectID, chatID string) {
	t.Helper()
	ctx := context.Background()
	project, err := env.Projects.CreateProject(ctx, "Test Project", t.TempDir())
	require.NoError(t, err)
	chat, err := env.Chats.CreateChat(ctx, project.ID, "")
	require.NoError(t, err)
	return project.ID, chat.ID
}

func seedExecution(t *testing.T, env *testEnv, chatID, name string) *models.AgentExecution {
	t.Helper()
	exec, err := env.Executions.CreateExecution(context.Background(), chatID, name, models.ExecStatusRunning, "input")
	require.NoError(t, err)
	return exec
}
