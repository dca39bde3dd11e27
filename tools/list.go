package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type listInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list (default: working directory)"`
}

// listFiles prints directories first, then files with their sizes, and
// closes with a count line.
func (ft *fileTools) listFiles(_ context.Context, params listInput) (string, error) {
	dir := ft.workDir
	if params.Path != "" {
		resolved, err := ResolvePath(ft.workDir, params.Path)
		if err != nil {
			return "", err
		}
		dir = resolved
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", params.Path, err)
	}
	if len(entries) == 0 {
		return "Directory is empty.", nil
	}

	var dirs, files strings.Builder
	nDirs, nFiles := 0, 0
	for _, e := range entries {
		if e.IsDir() {
			nDirs++
			fmt.Fprintf(&dirs, "  %s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		nFiles++
		fmt.Fprintf(&files, "  %-40s %s\n", e.Name(), formatSize(info.Size()))
	}
	return fmt.Sprintf("%s%s\n%d directories, %d files", dirs.String(), files.String(), nDirs, nFiles), nil
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}
