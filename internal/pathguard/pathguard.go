package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for any path rejected by this package.
var ErrUnsafePath = errors.New("unsafe path")

var traversalTokens = []string{"../", `..\`}

// AssertSafe rejects empty paths and any path carrying a parent-directory
// traversal token. It is a substring check only, pair it with AssertWithin
// when the path must stay under a known root.
func AssertSafe(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	for _, token := range traversalTokens {
		if strings.Contains(path, token) {
			return fmt.Errorf("%w: %q contains %q", ErrUnsafePath, path, token)
		}
	}
	return nil
}

// AssertWithin checks that path, once cleaned, is root itself or lies
// beneath it.
func AssertWithin(root, path string) error {
	if root == "" || path == "" {
		return fmt.Errorf("%w: empty root or path", ErrUnsafePath)
	}
	cleanRoot := filepath.Clean(root)
	cleanPath := filepath.Clean(path)
	rel, err := filepath.Rel(cleanRoot, cleanPath)
	if err != nil {
		return fmt.Errorf("%w: %q is not under %q: %v", ErrUnsafePath, path, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q escapes %q", ErrUnsafePath, path, root)
	}
	return nil
}
