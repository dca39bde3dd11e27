package tools

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is matched by every error ResolvePath returns for a
// rejected path.
var ErrOutsideRoot = errors.New("path is outside the working directory")

// PathError reports a path that resolves outside the tool root.
type PathError struct {
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q is outside the working directory", e.Path)
}

func (e *PathError) Unwrap() error { return ErrOutsideRoot }

// ResolvePath returns the absolute form of p, which must stay inside root.
// Relative paths are taken from root. An existing path whose symlinks lead
// out of root is rejected as well, e.g. "../../.ssh/id_rsa", "/etc/passwd"
// or a link to either.
func ResolvePath(root, p string) (string, error) {
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)
	if !within(root, abs) {
		return "", &PathError{Path: p}
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Missing paths only get the lexical check.
		return abs, nil
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}
	if !within(realRoot, real) {
		return "", &PathError{Path: p}
	}
	return abs, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
