package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxReadBytes caps file reads so a giant file cannot blow the context.
const maxReadBytes = 256 * 1024

// FileTool reads, writes, and lists files inside the workspace root.
type FileTool struct {
	root     string
	maxFiles int
}

func NewFileTool(root string, maxFiles int) *FileTool {
	if maxFiles <= 0 {
		maxFiles = 200
	}
	return &FileTool{root: root, maxFiles: maxFiles}
}

func (t *FileTool) Name() string { return "file" }

func (t *FileTool) Description() string {
	return "File operations inside the workspace. Actions: read (path), write (path, content), list (path, optional)."
}

func (t *FileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["read", "write", "list"]},
			"path": {"type": "string", "description": "Path relative to the workspace root"},
			"content": {"type": "string", "description": "File content for write"}
		},
		"required": ["action"]
	}`)
}

func (t *FileTool) RequiresApproval() bool { return false }

type fileInput struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *FileTool) Execute(_ context.Context, input json.RawMessage) (*Result, error) {
	var in fileInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid file input: %w", err)
	}

	switch in.Action {
	case "read":
		return t.read(in.Path)
	case "write":
		return t.write(in.Path, in.Content)
	case "list":
		return t.list(in.Path)
	default:
		return nil, fmt.Errorf("unknown file action %q", in.Action)
	}
}

func (t *FileTool) read(path string) (*Result, error) {
	abs, err := resolveInWorkspace(t.root, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		truncated = true
	}
	content := string(data)
	if truncated {
		content += "\n[truncated]"
	}
	return &Result{Content: content}, nil
}

func (t *FileTool) write(path, content string) (*Result, error) {
	abs, err := resolveInWorkspace(t.root, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return &Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

func (t *FileTool) list(path string) (*Result, error) {
	if path == "" {
		path = "."
	}
	abs, err := resolveInWorkspace(t.root, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
		if len(names) >= t.maxFiles {
			names = append(names, "[truncated]")
			break
		}
	}
	sort.Strings(names)
	return &Result{Content: strings.Join(names, "\n")}, nil
}
