package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

const (
	defaultShellTimeout = 120 * time.Second
	maxShellTimeout     = 600 * time.Second
	maxShellOutput      = 128 * 1024
)

// ShellTool runs a command through the system shell with its working
// directory confined to the workspace.
type ShellTool struct {
	root string
}

func NewShellTool(root string) *ShellTool {
	return &ShellTool{root: root}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace. Provide command; optional workdir (relative) and timeout_ms (max 600000)."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"workdir": {"type": "string", "description": "Working directory relative to the workspace root"},
			"timeout_ms": {"type": "integer", "description": "Timeout in milliseconds, default 120000"}
		},
		"required": ["command"]
	}`)
}

func (t *ShellTool) RequiresApproval() bool { return true }

// ApprovalRequest shows the full command; the arbiter keys its
// always-allow cache on the program name.
func (t *ShellTool) ApprovalRequest(input json.RawMessage) (string, string) {
	var in shellInput
	_ = json.Unmarshal(input, &in)
	return in.Command, ""
}

type shellInput struct {
	Command   string `json:"command"`
	Workdir   string `json:"workdir"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in shellInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid shell input: %w", err)
	}
	if in.Command == "" {
		return nil, errors.New("command is required")
	}

	workdir := in.Workdir
	if workdir == "" {
		workdir = "."
	}
	abs, err := resolveInWorkspace(t.root, workdir)
	if err != nil {
		return nil, err
	}

	timeout := defaultShellTimeout
	if in.TimeoutMS > 0 {
		timeout = time.Duration(in.TimeoutMS) * time.Millisecond
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/c"
	}
	cmd := exec.CommandContext(ctx, shell, flag, in.Command)
	cmd.Dir = abs

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return nil, runErr
		} else {
			exitCode = -1
		}
	}

	out := stdout.String()
	if stderr.Len() > 0 {
		out += "\n[stderr]\n" + stderr.String()
	}
	if len(out) > maxShellOutput {
		out = out[:maxShellOutput] + "\n[truncated]"
	}
	if timedOut {
		out += fmt.Sprintf("\n[timed out after %s]", timeout)
	}

	res := &Result{Content: out}
	if exitCode != 0 {
		res.Content = fmt.Sprintf("exit code %d\n%s", exitCode, out)
		res.IsError = true
	}
	return res, nil
}
