package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/services"
)

func TestSnapshotService_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, chatID := seedChat(t, env)

	manifest := map[string]string{
		"src/App.tsx":  "export default function App() {}",
		"package.json": `{"name":"app"}`,
	}
	snap, err := env.Snapshots.CreateSnapshot(ctx, projectID, chatID, "v1", manifest)
	require.NoError(t, err)

	got, err := env.Snapshots.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Label)
	assert.Equal(t, manifest, got.FileManifest)
}

func TestSnapshotService_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Snapshots.CreateSnapshot(ctx, "", "c", "v1", nil)
	assert.True(t, services.IsValidation(err))
	_, err = env.Snapshots.CreateSnapshot(ctx, "p", "c", "", nil)
	assert.True(t, services.IsValidation(err))
}

func TestSnapshotService_ListOmitsManifests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, chatID := seedChat(t, env)

	_, err := env.Snapshots.CreateSnapshot(ctx, projectID, chatID, "v1", map[string]string{"a.txt": "1"})
	require.NoError(t, err)
	_, err = env.Snapshots.CreateSnapshot(ctx, projectID, chatID, "v2", map[string]string{"a.txt": "2"})
	require.NoError(t, err)

	snaps, err := env.Snapshots.ListSnapshots(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "v2", snaps[0].Label)
	assert.Nil(t, snaps[0].FileManifest)
}

func TestSnapshotService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, chatID := seedChat(t, env)

	snap, err := env.Snapshots.CreateSnapshot(ctx, projectID, chatID, "v1", nil)
	require.NoError(t, err)

	require.NoError(t, env.Snapshots.DeleteSnapshot(ctx, snap.ID))
	assert.ErrorIs(t, env.Snapshots.DeleteSnapshot(ctx, snap.ID), services.ErrNotFound)
	_, err = env.Snapshots.GetSnapshot(ctx, snap.ID)
	assert.ErrorIs(t, err, services.ErrNotFound)
}
