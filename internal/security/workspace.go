package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathOutsideWorkspace = errors.New("path outside workspace")

// Workspace is the fixed containment root. Every file path a tool touches is
// funneled through Resolve/ResolveFrom before any I/O happens.
type Workspace struct {
	root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("workspace root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// If cwd does not have symlinks or cannot be resolved, keep abs path.
		resolved = abs
	}
	return &Workspace{root: resolved}, nil
}

func (w *Workspace) Root() string {
	return w.root
}

// Resolve canonicalizes a path against the workspace root.
func (w *Workspace) Resolve(path string) (string, error) {
	return w.ResolveFrom(w.root, path)
}

// ResolveFrom canonicalizes a path, resolving relative paths against base
// (the session working directory). Symlinks are followed, including through
// the nearest existing ancestor for not-yet-created leaves, and the canonical
// result must be the root or a descendant. A symlink inside the root whose
// target lies outside is rejected like any other escape.
func (w *Workspace) ResolveFrom(base, path string) (string, error) {
	target := strings.TrimSpace(path)
	if target == "" {
		target = strings.TrimSpace(base)
	}
	if target == "" {
		target = w.root
	}

	if !filepath.IsAbs(target) {
		b := strings.TrimSpace(base)
		if b == "" {
			b = w.root
		}
		if !filepath.IsAbs(b) {
			b = filepath.Join(w.root, b)
		}
		target = filepath.Join(b, target)
	}

	clean := filepath.Clean(target)
	resolved, err := resolveWithParentSymlink(clean)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrPathOutsideWorkspace
	}
	return resolved, nil
}

// Rel returns the root-relative form of an already-resolved path for
// display. Falls back to the input when it cannot be made relative.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

func resolveWithParentSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}

	parent := filepath.Dir(path)
	base := filepath.Base(path)
	parentResolved, perr := filepath.EvalSymlinks(parent)
	if perr != nil {
		if errors.Is(perr, os.ErrNotExist) {
			parentResolved = parent
		} else {
			return "", fmt.Errorf("resolve parent symlink: %w", perr)
		}
	}
	return filepath.Join(parentResolved, base), nil
}
