package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/craftwork-ai/loom/pkg/events"
)

// Preview targets.
const (
	PreviewFrontend = "frontend"
	PreviewBackend  = "backend"
)

const (
	defaultPreviewCommand = "npm run dev"
	defaultBackendCommand = "npm run dev:server"

	defaultPreviewURL = "http://localhost:5173"
	defaultBackendURL = "http://localhost:3000"
)

// PreviewManager keeps at most one long-running dev-server process per
// project and target. Processes outlive the HTTP request that started them;
// exits are reported over the event bus.
type PreviewManager struct {
	publisher *events.Publisher

	mu    sync.Mutex
	procs map[string]*previewProc // projectID/target → process
}

type previewProc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	chatID string
	target string
	url    string
}

// NewPreviewManager creates a PreviewManager.
func NewPreviewManager(publisher *events.Publisher) *PreviewManager {
	return &PreviewManager{
		publisher: publisher,
		procs:     make(map[string]*previewProc),
	}
}

// Start launches the dev server for a project, replacing any previous process
// for the same project and target, and returns the URL the client should
// open. Target is PreviewFrontend or PreviewBackend; empty command selects
// the target's default.
func (m *PreviewManager) Start(tree *Tree, projectID, chatID, target, command string) (string, error) {
	url := defaultPreviewURL
	switch target {
	case "", PreviewFrontend:
		target = PreviewFrontend
		if command == "" {
			command = defaultPreviewCommand
		}
	case PreviewBackend:
		url = defaultBackendURL
		if command == "" {
			command = defaultBackendCommand
		}
	default:
		return "", fmt.Errorf("unknown preview target %q", target)
	}

	m.Stop(projectID, target)

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = tree.Dir()
	if err := cmd.Start(); err != nil {
		cancel()
		if target == PreviewBackend {
			m.publisher.PublishBackendError(events.BackendErrorPayload{ChatID: chatID, Error: err.Error()})
		}
		return "", fmt.Errorf("failed to start %s preview: %w", target, err)
	}

	p := &previewProc{cmd: cmd, cancel: cancel, chatID: chatID, target: target, url: url}
	m.mu.Lock()
	m.procs[previewKey(projectID, target)] = p
	m.mu.Unlock()

	slog.Info("Preview process started", "project", projectID, "target", target, "pid", cmd.Process.Pid)
	if target == PreviewBackend {
		m.publisher.PublishBackendReady(events.BackendReadyPayload{ChatID: chatID, URL: url})
	} else {
		m.publisher.PublishPreviewReady(events.PreviewReadyPayload{ChatID: chatID, URL: url})
	}

	go m.watch(projectID, p)
	return url, nil
}

func (m *PreviewManager) watch(projectID string, p *previewProc) {
	err := p.cmd.Wait()
	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	m.mu.Lock()
	if m.procs[previewKey(projectID, p.target)] == p {
		delete(m.procs, previewKey(projectID, p.target))
	}
	m.mu.Unlock()

	slog.Info("Preview process exited", "project", projectID, "target", p.target, "exitCode", exitCode)
	m.publisher.PublishPreviewExited(events.PreviewExitedPayload{ChatID: p.chatID, ExitCode: exitCode})
}

// Stop kills the project's preview process for a target. Returns whether a
// process was running.
func (m *PreviewManager) Stop(projectID, target string) bool {
	if target == "" {
		target = PreviewFrontend
	}
	m.mu.Lock()
	p, ok := m.procs[previewKey(projectID, target)]
	if ok {
		delete(m.procs, previewKey(projectID, target))
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	return true
}

// Running returns the URL of the project's live preview for a target, if any.
func (m *PreviewManager) Running(projectID, target string) (string, bool) {
	if target == "" {
		target = PreviewFrontend
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[previewKey(projectID, target)]
	if !ok {
		return "", false
	}
	return p.url, true
}

// StopAll kills every preview process. Used on shutdown.
func (m *PreviewManager) StopAll() {
	m.mu.Lock()
	procs := make([]*previewProc, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.procs = make(map[string]*previewProc)
	m.mu.Unlock()
	for _, p := range procs {
		p.cancel()
	}
}

func previewKey(projectID, target string) string {
	return projectID + "/" + target
}
