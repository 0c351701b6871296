package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/models"
	"github.com/craftwork-ai/loom/pkg/services"
)

func TestChatService_CreateDefaultsTitle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	project, err := env.Projects.CreateProject(ctx, "P", t.TempDir())
	require.NoError(t, err)

	chat, err := env.Chats.CreateChat(ctx, project.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultChatTitle, chat.Title)

	named, err := env.Chats.CreateChat(ctx, project.ID, "Build the thing")
	require.NoError(t, err)
	assert.Equal(t, "Build the thing", named.Title)
}

func TestChatService_CreateRequiresProject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Chats.CreateChat(context.Background(), "", "x")
	assert.True(t, services.IsValidation(err))

	// A nonexistent project violates the foreign key.
	_, err = env.Chats.CreateChat(context.Background(), "ghost", "x")
	assert.Error(t, err)
}

func TestChatService_ListByProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p1, err := env.Projects.CreateProject(ctx, "A", t.TempDir())
	require.NoError(t, err)
	p2, err := env.Projects.CreateProject(ctx, "B", t.TempDir())
	require.NoError(t, err)

	_, err = env.Chats.CreateChat(ctx, p1.ID, "one")
	require.NoError(t, err)
	_, err = env.Chats.CreateChat(ctx, p1.ID, "two")
	require.NoError(t, err)
	_, err = env.Chats.CreateChat(ctx, p2.ID, "other")
	require.NoError(t, err)

	chats, err := env.Chats.ListChats(ctx, p1.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 2)
	for _, c := range chats {
		assert.Equal(t, p1.ID, c.ProjectID)
	}
}

func TestChatService_RenameAndDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	renamed, err := env.Chats.RenameChat(ctx, chatID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Title)

	_, err = env.Chats.RenameChat(ctx, chatID, "")
	assert.True(t, services.IsValidation(err))

	require.NoError(t, env.Chats.DeleteChat(ctx, chatID))
	assert.ErrorIs(t, env.Chats.DeleteChat(ctx, chatID), services.ErrNotFound)
}

func TestChatService_DeleteCascadesToMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, chatID := seedChat(t, env)

	_, err := env.Messages.CreateMessage(ctx, services.CreateMessageRequest{
		ChatID: chatID, Role: models.RoleUser, Content: "hello",
	})
	require.NoError(t, err)

	require.NoError(t, env.Chats.DeleteChat(ctx, chatID))

	msgs, err := env.Messages.ListMessages(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
