// Package pipeline implements the indexing and scanning engines: the
// concurrent file walk, fingerprinting and vectorization flow, and the
// match recording against the storage backends.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath indicates an empty, malformed, missing or disallowed root.
var ErrInvalidPath = errors.New("invalid path")

// CanonicalizePath resolves path to an absolute form with symlinks and
// relative components eliminated. Paths containing NUL are rejected.
func CanonicalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s does not exist", ErrInvalidPath, path)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return resolved, nil
}

// ValidateRoot canonicalizes path, requires it to be a directory, and when
// allowed is non-empty requires it to sit under one of the allowed roots.
func ValidateRoot(path string, allowed []string) (string, error) {
	canonical, err := CanonicalizePath(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, path)
	}

	if len(allowed) == 0 {
		return canonical, nil
	}

	for _, root := range allowed {
		canonicalRoot, err := CanonicalizePath(root)
		if err != nil {
			continue
		}
		if canonical == canonicalRoot || strings.HasPrefix(canonical, canonicalRoot+string(filepath.Separator)) {
			return canonical, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside the allowed scan directories", ErrInvalidPath, path)
}
