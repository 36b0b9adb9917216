package toolchain

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/golang-lru/v2"

	"recordpatch/internal/patcherr"
	"recordpatch/internal/safeio"
)

const defaultCacheSize = 64

var errStopWalk = errors.New("toolchain: stop walk")

// Locator finds external tools by name below a search root.
type Locator struct {
	cache *lru.Cache[string, string]
}

// NewLocator creates a Locator that remembers up to size resolved tools.
func NewLocator(size int) (*Locator, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Locator{cache: cache}, nil
}

// Find searches root recursively and returns the absolute path of the first
// file named fileName (compared case-insensitively). The resolved path must
// lie below root; a match that escapes it, e.g. through a symlink, fails with
// ToolOutsideSearchRoot rather than falling through to a later match.
func (l *Locator) Find(root, fileName string) (string, error) {
	const op = "find tool"
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || strings.ContainsAny(fileName, `/\`) {
		return "", patcherr.New(patcherr.KindArgument, op, "invalid tool file name %q", fileName)
	}
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return "", patcherr.New(patcherr.KindToolNotFound, op, "search root unavailable: %v", err).WithPath(root)
	}

	key := cacheKey(fsys.Root(), fileName)
	if l != nil && l.cache != nil {
		if p, ok := l.cache.Get(key); ok {
			// A cached path is only as good as the file behind it now.
			if resolved, err := fsys.Resolve(p); err == nil && isFile(resolved) {
				return resolved, nil
			}
			l.cache.Remove(key)
		}
	}

	candidate, err := firstMatch(fsys.Root(), fileName)
	if err != nil {
		return "", patcherr.Wrap(patcherr.KindIO, op, err)
	}
	if candidate == "" {
		return "", patcherr.New(patcherr.KindToolNotFound, op, "%s not found", fileName).WithPath(fsys.Root())
	}
	if !strings.EqualFold(filepath.Base(candidate), fileName) {
		return "", patcherr.New(patcherr.KindToolNotFound, op, "resolved tool does not match expected file name %q", fileName).WithPath(candidate)
	}

	resolved, err := fsys.Resolve(candidate)
	if err != nil {
		return "", patcherr.New(patcherr.KindToolOutsideRoot, op, "resolved tool %q is outside of the search directory", fileName).WithPath(candidate)
	}

	if l != nil && l.cache != nil {
		l.cache.Add(key, resolved)
	}
	return resolved, nil
}

func firstMatch(root, fileName string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(d.Name(), fileName) {
			found = path
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}
	return found, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func cacheKey(root, fileName string) string {
	return root + "\x00" + strings.ToLower(fileName)
}
