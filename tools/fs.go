package tools

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileToolsID is the server id of the built-in filesystem tools.
const FileToolsID = "files"

// fileTools implements read-only filesystem tools rooted at workDir.
type fileTools struct {
	workDir string
}

// NewFileTools returns a registry serving glob, grep, list_files and
// read_file. Every path is resolved inside workDir.
func NewFileTools(workDir string) (*Registry, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("work dir %s is not a directory", abs)
	}

	ft := &fileTools{workDir: abs}
	r := NewRegistry(FileToolsID)

	if err := RegisterFunc(r, "glob",
		`Find files by name pattern. Supports "**" for recursive matching, e.g. "**/*.go" or "src/**/*.ts". Returns paths relative to the working directory.`,
		ft.glob); err != nil {
		return nil, err
	}
	if err := RegisterFunc(r, "grep",
		`Search file contents with an RE2 regular expression. Returns matching lines with file paths and line numbers. Filter files with include, e.g. "*.go".`,
		ft.grep); err != nil {
		return nil, err
	}
	if err := RegisterFunc(r, "list_files",
		"List directory contents with directory indicators and sizes. Use glob to find files by pattern.",
		ft.listFiles); err != nil {
		return nil, err
	}
	if err := RegisterFunc(r, "read_file",
		"Read a file with line numbers (1-indexed). Use start_line/end_line for large files. PDF files are returned as extracted text and images as attachments.",
		ft.readFile); err != nil {
		return nil, err
	}
	return r, nil
}
