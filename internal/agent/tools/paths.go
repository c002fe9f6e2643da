package tools

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace text is surfaced to the model verbatim.
const outsideWorkspaceMsg = "path escapes the workspace root"

// resolveInWorkspace turns a possibly-relative path into an absolute one
// and verifies it stays under root after resolving "." and "..". It does
// not require the path to exist, so writes to new files pass.
func resolveInWorkspace(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	absRoot = filepath.Clean(absRoot)

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(absRoot, path))
	}

	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %s", outsideWorkspaceMsg, path)
	}
	return resolved, nil
}
