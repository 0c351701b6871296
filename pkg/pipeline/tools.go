package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/craftwork-ai/loom/pkg/events"
)

// toolCall is the JSON body of a <tool_call> block.
type toolCall struct {
	Tool    string            `json:"tool"`
	Path    string            `json:"path,omitempty"`
	Content string            `json:"content,omitempty"`
	Files   map[string]string `json:"files,omitempty"`
	Label   string            `json:"label,omitempty"`
	Input   string            `json:"input,omitempty"`
}

// readFileCap bounds read_file results fed back into the conversation.
const readFileCap = 8000

// executeToolCall parses and runs one tool call. Malformed or unauthorized
// calls come back as error text for the model to correct; only context
// cancellation aborts the step. The second return lists paths written, for
// the transcript's file markers.
func (pr *pipelineRun) executeToolCall(ctx context.Context, allowed []string, body string) (string, []string) {
	var call toolCall
	if err := json.Unmarshal([]byte(body), &call); err != nil {
		return fmt.Sprintf("tool error: malformed tool call JSON: %v", err), nil
	}
	if call.Tool == "" {
		return "tool error: missing \"tool\" field", nil
	}
	if !toolAllowed(allowed, call.Tool) {
		return fmt.Sprintf("tool error: %q is not available to this agent", call.Tool), nil
	}

	switch call.Tool {
	case "write_file":
		if call.Path == "" {
			return "tool error: write_file requires \"path\"", nil
		}
		if err := pr.tree.WriteFile(pr.chatID, call.Path, call.Content); err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		return fmt.Sprintf("wrote %s (%d bytes)", call.Path, len(call.Content)), []string{call.Path}

	case "write_files":
		if len(call.Files) == 0 {
			return "tool error: write_files requires \"files\"", nil
		}
		if err := pr.tree.WriteFiles(pr.chatID, call.Files); err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		paths := make([]string, 0, len(call.Files))
		for path := range call.Files {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		return fmt.Sprintf("wrote %d files: %s", len(paths), strings.Join(paths, ", ")), paths

	case "read_file":
		if call.Path == "" {
			return "tool error: read_file requires \"path\"", nil
		}
		content, err := pr.tree.ReadFile(call.Path)
		if err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		if len(content) > readFileCap {
			content = content[:readFileCap] + "\n... (truncated)"
		}
		return content, nil

	case "list_files":
		paths, err := pr.tree.ListFiles()
		if err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		return strings.Join(paths, "\n"), nil

	case "save_version":
		label := call.Label
		if label == "" {
			label = "Checkpoint"
		}
		manifest, err := pr.tree.Manifest()
		if err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		snap, err := pr.orch.svc.Snapshots.CreateSnapshot(ctx, pr.projectID, pr.chatID, label, manifest)
		if err != nil {
			return fmt.Sprintf("tool error: %v", err), nil
		}
		pr.orch.publisher.PublishFilesChanged(events.FilesChangedPayload{
			ChatID: pr.chatID,
			Paths:  []string{events.SnapshotPathSentinel},
		})
		return fmt.Sprintf("saved version %q (%d files)", snap.Label, len(manifest)), nil
	}

	return pr.executeCustomTool(ctx, call)
}

// executeCustomTool looks the tool up in settings and runs its shell command
// in the project tree. "{{input}}" in the command is substituted with the
// shell-quoted tool input.
func (pr *pipelineRun) executeCustomTool(ctx context.Context, call toolCall) (string, []string) {
	def, err := pr.orch.svc.Settings.GetCustomTool(ctx, call.Tool)
	if err != nil {
		return fmt.Sprintf("tool error: unknown tool %q", call.Tool), nil
	}
	command := strings.ReplaceAll(def.Command, "{{input}}", shellQuote(call.Input))
	timeout := pr.orch.cfg.Pipeline.BuildTimeout
	if def.TimeoutMs > 0 {
		timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}
	res, err := pr.orch.runner.Run(ctx, pr.tree.Dir(), command, timeout)
	if err != nil {
		return fmt.Sprintf("tool error: %v", err), nil
	}
	if res.TimedOut {
		return fmt.Sprintf("tool error: %q timed out", call.Tool), nil
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("tool error: %q exited %d: %s", call.Tool, res.ExitCode, res.Stderr), nil
	}
	return res.Stdout, nil
}

// toolProtocol renders the tool-call instructions appended to the system
// prompt, listing the agent's allowed tools plus any custom tools.
func (pr *pipelineRun) toolProtocol(allowed []string) string {
	docs := map[string]string{
		"write_file":   `{"tool":"write_file","path":"relative/path","content":"full file content"}`,
		"write_files":  `{"tool":"write_files","files":{"path":"content", ...}}`,
		"read_file":    `{"tool":"read_file","path":"relative/path"}`,
		"list_files":   `{"tool":"list_files"}`,
		"save_version": `{"tool":"save_version","label":"short label"}`,
	}
	var b strings.Builder
	b.WriteString("Tools are invoked by emitting a block of the exact form " +
		"<tool_call>{...}</tool_call> in your response. Available tools:\n")
	for _, name := range allowed {
		if doc, ok := docs[name]; ok {
			fmt.Fprintf(&b, "- %s\n", doc)
		} else {
			fmt.Fprintf(&b, "- {\"tool\":%q,\"input\":\"...\"}\n", name)
		}
	}
	if custom, err := pr.orch.svc.Settings.ListCustomTools(context.Background()); err == nil {
		names := make([]string, 0, len(custom))
		for name := range custom {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- {\"tool\":%q,\"input\":\"...\"}\n", name)
		}
	}
	b.WriteString("Tool results are returned to you before you continue. Write complete files; never emit partial diffs.")
	return b.String()
}

func toolAllowed(allowed []string, name string) bool {
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	// Custom tools are available to any agent that has at least one tool.
	return len(allowed) > 0 && !builtinTool(name)
}

func builtinTool(name string) bool {
	switch name {
	case "write_file", "write_files", "read_file", "list_files", "save_version":
		return true
	}
	return false
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
