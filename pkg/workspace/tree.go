// Package workspace is the artifact store: per-project working trees on
// disk, subprocess execution for build/test commands, and advisory project
// locks.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/craftwork-ai/loom/pkg/events"
)

const (
	// serializeFileCap truncates individual files when serializing the
	// project source for prompt assembly.
	serializeFileCap = 8000
	// serializeTotalCap bounds the whole serialized source block.
	serializeTotalCap = 120_000
	// walkFileLimit bounds directory walks so a runaway node_modules
	// cannot blow up prompt assembly or snapshots.
	walkFileLimit = 2000
)

// skipDirs are never walked, listed, serialized, or snapshotted.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	".next":        true,
}

// Store hands out per-project trees under a common root.
type Store struct {
	root      string
	publisher *events.Publisher
}

// NewStore creates a Store rooted at dir.
func NewStore(root string, publisher *events.Publisher) *Store {
	return &Store{root: root, publisher: publisher}
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Tree returns the working-tree handle for a project. The directory is
// created on first use.
func (s *Store) Tree(projectID string) (*Tree, error) {
	dir := filepath.Join(s.root, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create project dir: %w", err)
	}
	return &Tree{dir: dir, publisher: s.publisher}, nil
}

// Remove deletes a project's working tree from disk.
func (s *Store) Remove(projectID string) error {
	return os.RemoveAll(filepath.Join(s.root, projectID))
}

// Tree is one project's working tree. All paths are relative to the tree
// root; absolute paths and traversal are rejected.
type Tree struct {
	dir       string
	publisher *events.Publisher
}

// Dir returns the tree's absolute directory.
func (t *Tree) Dir() string { return t.dir }

func (t *Tree) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	return filepath.Join(t.dir, path), nil
}

// ReadFile returns the file's content.
func (t *Tree) ReadFile(path string) (string, error) {
	resolved, err := t.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories, and publishes
// files_changed for the chat.
func (t *Tree) WriteFile(chatID, path, content string) error {
	if err := t.writeOne(path, content); err != nil {
		return err
	}
	t.publisher.PublishFilesChanged(events.FilesChangedPayload{
		ChatID: chatID,
		Paths:  []string{path},
	})
	return nil
}

// WriteFiles writes a batch and publishes a single files_changed frame.
func (t *Tree) WriteFiles(chatID string, files map[string]string) error {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := t.writeOne(path, files[path]); err != nil {
			return err
		}
	}
	t.publisher.PublishFilesChanged(events.FilesChangedPayload{
		ChatID: chatID,
		Paths:  paths,
	})
	return nil
}

func (t *Tree) writeOne(path, content string) error {
	resolved, err := t.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir for %s: %w", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ListFiles returns all relative file paths in the tree, sorted, bounded by
// walkFileLimit.
func (t *Tree) ListFiles() ([]string, error) {
	var paths []string
	err := t.walk(func(rel string, _ os.FileInfo) error {
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Manifest reads the whole tree into path→content, bounded by walkFileLimit.
// Used by the snapshot service.
func (t *Tree) Manifest() (map[string]string, error) {
	manifest := make(map[string]string)
	err := t.walk(func(rel string, _ os.FileInfo) error {
		data, err := os.ReadFile(filepath.Join(t.dir, rel))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		manifest[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// RestoreManifest writes every manifest entry back into the tree and
// publishes the snapshot sentinel.
func (t *Tree) RestoreManifest(chatID string, manifest map[string]string) error {
	paths := make([]string, 0, len(manifest))
	for path := range manifest {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if err := t.writeOne(path, manifest[path]); err != nil {
			return err
		}
	}
	t.publisher.PublishFilesChanged(events.FilesChangedPayload{
		ChatID: chatID,
		Paths:  []string{events.SnapshotPathSentinel},
	})
	return nil
}

// SerializeSource renders the tree as a fenced listing for prompt assembly.
// Individual files are truncated at serializeFileCap and the whole block at
// serializeTotalCap.
func (t *Tree) SerializeSource() (string, error) {
	paths, err := t.ListFiles()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, path := range paths {
		if b.Len() >= serializeTotalCap {
			b.WriteString("... (remaining files omitted)\n")
			break
		}
		data, err := os.ReadFile(filepath.Join(t.dir, path))
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > serializeFileCap {
			content = content[:serializeFileCap] + "\n... (truncated)"
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", path, content)
	}
	return b.String(), nil
}

// walk visits regular files under the tree, skipping skipDirs, capped at
// walkFileLimit entries.
func (t *Tree) walk(visit func(rel string, info os.FileInfo) error) error {
	count := 0
	return filepath.WalkDir(t.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if count >= walkFileLimit {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(t.dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		count++
		return visit(filepath.ToSlash(rel), info)
	})
}
