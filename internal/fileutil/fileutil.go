// Package fileutil provides filesystem helpers for serving a local directory
// as a jailed SFTP root. It has no SSH dependencies.
package fileutil

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrForbiddenPath is returned when a path escapes the base directory.
var ErrForbiddenPath = errors.New("forbidden path")

// ResolveSafePath maps p, a slash-separated path as sent by an SFTP client,
// onto base and returns the absolute local path. Leading slashes are
// relative to base, so "/" and "" both resolve to base itself. It rejects
// paths that escape base via ".." traversal or via a symlink.
func ResolveSafePath(base, p string) (string, error) {
	cleanBase, err := filepath.EvalSymlinks(filepath.Clean(base))
	if err != nil {
		return "", err
	}

	// Cleaning against a virtual root turns "../../x" into "/x", which keeps
	// traversal inside base before the filesystem is consulted.
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	abs := filepath.Join(cleanBase, filepath.FromSlash(rel))

	if !within(abs, cleanBase) {
		return "", ErrForbiddenPath
	}

	// Resolve symlinks to defeat symlink-escape attacks.
	// If abs does not yet exist, walk up until we find an existing ancestor.
	resolved, err := resolveExisting(abs, cleanBase)
	if err != nil {
		return "", ErrForbiddenPath
	}
	if !within(resolved, cleanBase) {
		return "", ErrForbiddenPath
	}

	return abs, nil
}

func within(p, base string) bool {
	return p == base || strings.HasPrefix(p, base+string(os.PathSeparator))
}

// resolveExisting walks up the path until it finds an existing ancestor, then
// evaluates symlinks on that ancestor. Returns the real path of the deepest
// existing component.
func resolveExisting(abs, base string) (string, error) {
	cur := abs
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			return filepath.EvalSymlinks(cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur || !within(parent, base) {
			// Reached fs root or left base; base is the safe anchor.
			return base, nil
		}
		cur = parent
	}
}
