package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxGlobResults = 100

type globInput struct {
	Pattern string `json:"pattern" jsonschema:"description=Glob pattern such as **/*.go"`
}

func (ft *fileTools) glob(ctx context.Context, params globInput) (string, error) {
	if params.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return "", fmt.Errorf("invalid glob pattern %q", params.Pattern)
	}

	var matches []string
	err := walkFiles(ctx, ft.workDir, func(path string, d os.DirEntry) error {
		rel, err := filepath.Rel(ft.workDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matched, _ := matchGlob(params.Pattern, rel); matched {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(matches) == 0 {
		return "No files matched the pattern.", nil
	}

	var result strings.Builder
	limit := min(len(matches), maxGlobResults)
	for _, m := range matches[:limit] {
		result.WriteString(m)
		result.WriteByte('\n')
	}
	if len(matches) > maxGlobResults {
		fmt.Fprintf(&result, "\n... and %d more matches", len(matches)-maxGlobResults)
	}
	return result.String(), nil
}

// matchGlob matches a slash-separated relative path. "**" spans any number
// of segments and {a,b} alternates.
func matchGlob(pattern, name string) (bool, error) {
	return doublestar.Match(pattern, name)
}
