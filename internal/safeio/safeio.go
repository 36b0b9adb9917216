package safeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SafeFS answers containment questions against a fixed root directory.
type SafeFS struct {
	absRoot string // absolute root with symlinks resolved
}

// NewSafeFS binds a SafeFS to the given root directory.
// The root path is resolved to an absolute, symlink-free directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &SafeFS{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this SafeFS.
func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// Resolve returns the absolute, symlink-free form of path and fails when it
// does not lie strictly below the root.
func (s *SafeFS) Resolve(path string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if path == "" {
		return "", errors.New("safeio: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	if !s.Contains(resolved) {
		return "", fmt.Errorf("safeio: resolved outside root (root=%s, path=%s)", s.absRoot, resolved)
	}
	return resolved, nil
}

// Contains reports whether an absolute path is a descendant of the root.
// The root itself is not its own descendant.
func (s *SafeFS) Contains(path string) bool {
	if s == nil {
		return false
	}
	return hasPathPrefix(path, s.absRoot)
}

// hasPathPrefix requires path to start with root plus a separator.
func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if root == "" || path == root {
		return false
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
