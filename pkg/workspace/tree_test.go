package workspace

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftwork-ai/loom/pkg/events"
)

func newTestTree(t *testing.T) (*Tree, *events.Subscription) {
	t.Helper()
	bus := events.NewBus()
	sub := bus.Subscribe(events.ChatChannel("chat-1"))
	t.Cleanup(sub.Close)

	store := NewStore(t.TempDir(), events.NewPublisher(bus))
	tree, err := store.Tree("project-1")
	require.NoError(t, err)
	return tree, sub
}

func drainPaths(t *testing.T, sub *events.Subscription) []string {
	t.Helper()
	select {
	case data := <-sub.C:
		var f events.Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.Equal(t, events.TypeFilesChanged, f.Type)
		payload := f.Payload.(map[string]any)
		raw := payload["paths"].([]any)
		paths := make([]string, len(raw))
		for i, p := range raw {
			paths[i] = p.(string)
		}
		return paths
	default:
		t.Fatal("expected a files_changed frame")
		return nil
	}
}

func TestTree_WriteAndRead(t *testing.T) {
	tree, sub := newTestTree(t)

	require.NoError(t, tree.WriteFile("chat-1", "src/App.tsx", "export {}"))
	assert.Equal(t, []string{"src/App.tsx"}, drainPaths(t, sub))

	content, err := tree.ReadFile("src/App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "export {}", content)
}

func TestTree_RejectsTraversal(t *testing.T) {
	tree, _ := newTestTree(t)

	tests := []string{
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
		"..",
	}
	for _, path := range tests {
		assert.Error(t, tree.WriteFile("chat-1", path, "x"), "path %q", path)
		_, err := tree.ReadFile(path)
		assert.Error(t, err, "path %q", path)
	}
}

func TestTree_AllowsDottedNames(t *testing.T) {
	tree, _ := newTestTree(t)

	// Names that merely contain dots are legal; only genuine traversal is
	// rejected.
	for _, path := range []string{"a..b/file.ts", "notes..md", ".env.example"} {
		require.NoError(t, tree.WriteFile("chat-1", path, "x"), "path %q", path)
		content, err := tree.ReadFile(path)
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, "x", content)
	}
}

func TestTree_WriteFilesBatchesOneFrame(t *testing.T) {
	tree, sub := newTestTree(t)

	require.NoError(t, tree.WriteFiles("chat-1", map[string]string{
		"b.txt": "2",
		"a.txt": "1",
	}))
	assert.Equal(t, []string{"a.txt", "b.txt"}, drainPaths(t, sub))
	assert.Len(t, sub.C, 0)
}

func TestTree_ListFilesSkipsArtifactDirs(t *testing.T) {
	tree, _ := newTestTree(t)

	require.NoError(t, tree.WriteFiles("chat-1", map[string]string{
		"src/index.ts":              "1",
		"node_modules/dep/index.js": "2",
		"dist/bundle.js":            "3",
		".git/config":               "4",
		"package.json":              "5",
	}))

	paths, err := tree.ListFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"package.json", "src/index.ts"}, paths)
}

func TestTree_ManifestRoundtrip(t *testing.T) {
	tree, sub := newTestTree(t)

	files := map[string]string{
		"src/a.ts": "alpha",
		"src/b.ts": "beta",
	}
	require.NoError(t, tree.WriteFiles("chat-1", files))
	drainPaths(t, sub)

	manifest, err := tree.Manifest()
	require.NoError(t, err)
	assert.Equal(t, files, manifest)

	// Restoring publishes the snapshot sentinel instead of real paths.
	require.NoError(t, tree.WriteFile("chat-1", "src/a.ts", "mutated"))
	drainPaths(t, sub)
	require.NoError(t, tree.RestoreManifest("chat-1", manifest))
	assert.Equal(t, []string{events.SnapshotPathSentinel}, drainPaths(t, sub))

	content, err := tree.ReadFile("src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "alpha", content)
}

func TestTree_SerializeSourceTruncatesLargeFiles(t *testing.T) {
	tree, _ := newTestTree(t)

	require.NoError(t, tree.WriteFiles("chat-1", map[string]string{
		"big.txt":   strings.Repeat("x", serializeFileCap+100),
		"small.txt": "tiny",
	}))

	out, err := tree.SerializeSource()
	require.NoError(t, err)
	assert.Contains(t, out, "=== small.txt ===")
	assert.Contains(t, out, "tiny")
	assert.Contains(t, out, "... (truncated)")
	assert.NotContains(t, out, strings.Repeat("x", serializeFileCap+1))
}

func TestTree_WriteZip(t *testing.T) {
	tree, _ := newTestTree(t)

	require.NoError(t, tree.WriteFiles("chat-1", map[string]string{
		"index.html":          "<html></html>",
		"node_modules/x/y.js": "skipped",
	}))

	var buf bytes.Buffer
	require.NoError(t, tree.WriteZip(&buf))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "index.html", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	data := make([]byte, 64)
	n, _ := rc.Read(data)
	assert.Equal(t, "<html></html>", string(data[:n]))
}

func TestStore_Remove(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	tree, err := store.Tree("p1")
	require.NoError(t, err)
	require.NoError(t, tree.WriteFile("c", "a.txt", "x"))

	require.NoError(t, store.Remove("p1"))
	_, err = tree.ReadFile("a.txt")
	assert.Error(t, err)
}
