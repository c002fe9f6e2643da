// Package workspace tracks the directory the agent's tools are confined
// to and renders a bounded file listing for the system prompt.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/loomapp/loom/internal/logging"
)

// skipDirs are directories never included in the listing or watched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
}

// Workspace caches a file listing of the root directory. The cache is
// invalidated by the watcher and rebuilt lazily on the next read.
type Workspace struct {
	root     string
	maxFiles int

	mu      sync.Mutex
	listing []string
	stale   bool
}

func New(root string, maxFiles int) *Workspace {
	if maxFiles <= 0 {
		maxFiles = 200
	}
	return &Workspace{root: root, maxFiles: maxFiles, stale: true}
}

func (w *Workspace) Root() string { return w.root }

// ContextString renders the workspace section injected into the system
// prompt: root path plus up to maxFiles relative paths.
func (w *Workspace) ContextString() string {
	files := w.Files()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Workspace\n\nRoot: %s\n", w.root)
	if len(files) == 0 {
		sb.WriteString("The workspace is empty.\n")
		return sb.String()
	}
	sb.WriteString("Files:\n")
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	return sb.String()
}

// Files returns the cached listing, rebuilding it if a change was seen.
func (w *Workspace) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stale {
		w.listing = w.scan()
		w.stale = false
	}
	out := make([]string, len(w.listing))
	copy(out, w.listing)
	return out
}

// Invalidate marks the cached listing stale.
func (w *Workspace) Invalidate() {
	w.mu.Lock()
	w.stale = true
	w.mu.Unlock()
}

// scan walks the root collecting relative paths. Hidden files and the
// usual dependency directories are skipped; the walk stops once the file
// cap is reached.
func (w *Workspace) scan() []string {
	var files []string
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == w.root {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, rel)
		if len(files) >= w.maxFiles {
			return fs.SkipAll
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// Watch invalidates the listing whenever anything under the root changes.
// New directories are added to the watch as they appear. Blocks until the
// context is cancelled.
func (w *Workspace) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher, w.root); err != nil {
		return fmt.Errorf("watch workspace: %w", err)
	}

	logging.Infof("watching workspace %s", w.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.Invalidate()
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					name := filepath.Base(event.Name)
					if !strings.HasPrefix(name, ".") && !skipDirs[name] {
						_ = watcher.Add(event.Name)
					}
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warnf("workspace watcher: %v", err)
		}
	}
}

func (w *Workspace) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
