package tools

import (
	"context"
	"os"
	"path/filepath"
)

// skipDirs are never descended into by glob and grep.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
	"vendor":       true,
}

func shouldSkipDir(name string) bool {
	return skipDirs[name]
}

// walkFiles calls fn for every regular file under root, skipping ignored
// directories and symlinked directories. Walk errors on single entries are
// ignored; cancellation of ctx stops the walk.
func walkFiles(ctx context.Context, root string, fn func(path string, d os.DirEntry) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && shouldSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		return fn(path, d)
	})
}
