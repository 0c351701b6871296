package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

func TestProjectService_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := t.TempDir()

	project, err := env.Projects.CreateProject(ctx, "My App", root)
	require.NoError(t, err)
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "My App", project.Name)
	assert.Equal(t, filepath.Join(root, project.ID), project.Path)

	got, err := env.Projects.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, project.ID, got.ID)
	assert.Equal(t, project.Path, got.Path)
	assert.Nil(t, got.VibeBrief)
}

func TestProjectService_CreateRequiresName(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Projects.CreateProject(context.Background(), "", t.TempDir())
	var verr *services.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestProjectService_GetMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Projects.GetProject(context.Background(), "nope")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestProjectService_Rename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, err := env.Projects.CreateProject(ctx, "Old", t.TempDir())
	require.NoError(t, err)

	renamed, err := env.Projects.RenameProject(ctx, project.ID, "New")
	require.NoError(t, err)
	assert.Equal(t, "New", renamed.Name)

	_, err = env.Projects.RenameProject(ctx, "nope", "New")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestProjectService_VibeBriefRoundtrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, err := env.Projects.CreateProject(ctx, "App", t.TempDir())
	require.NoError(t, err)

	brief := &models.VibeBrief{
		Adjectives: []string{"cozy", "warm"},
		Metaphor:   "a grandmother's kitchen",
		TargetUser: "home cooks",
	}
	require.NoError(t, env.Projects.SetVibeBrief(ctx, project.ID, brief))

	got, err := env.Projects.GetProject(ctx, project.ID)
	require.NoError(t, err)
	require.NotNil(t, got.VibeBrief)
	assert.Equal(t, brief.Adjectives, got.VibeBrief.Adjectives)
	assert.Equal(t, brief.Metaphor, got.VibeBrief.Metaphor)
}

func TestProjectService_DeleteCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, chatID := seedChat(t, env)

	_, err := env.Messages.CreateMessage(ctx, services.CreateMessageRequest{
		ChatID: chatID, Role: models.RoleUser, Content: "hi",
	})
	require.NoError(t, err)
	seedExecution(t, env, chatID, "research")

	require.NoError(t, env.Projects.DeleteProject(ctx, projectID))

	_, err = env.Chats.GetChat(ctx, chatID)
	assert.ErrorIs(t, err, services.ErrNotFound)
	msgs, err := env.Messages.ListMessages(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	execs, err := env.Executions.ListExecutions(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, execs)

	assert.ErrorIs(t, env.Projects.DeleteProject(ctx, projectID), services.ErrNotFound)
}
