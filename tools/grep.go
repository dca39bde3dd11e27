package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	maxGrepResults = 50
	maxGrepLineLen = 200
)

type grepInput struct {
	Pattern string `json:"pattern" jsonschema:"description=RE2 regular expression"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search (default: working directory)"`
	Include string `json:"include,omitempty" jsonschema:"description=File name filter such as *.go"`
}

func (ft *fileTools) grep(ctx context.Context, params grepInput) (string, error) {
	if params.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex (RE2 syntax): %w", err)
	}
	if params.Include != "" {
		if !doublestar.ValidatePattern(params.Include) {
			return "", fmt.Errorf("invalid include pattern %q", params.Include)
		}
	}

	searchDir := ft.workDir
	if params.Path != "" {
		searchDir, err = ResolvePath(ft.workDir, params.Path)
		if err != nil {
			return "", err
		}
	}

	var results []string
	totalMatches := 0
	err = walkFiles(ctx, searchDir, func(path string, d os.DirEntry) error {
		if params.Include != "" {
			if matched, _ := doublestar.Match(params.Include, d.Name()); !matched {
				return nil
			}
		}
		if isBinaryFile(path) {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer file.Close()

		rel, _ := filepath.Rel(ft.workDir, path)
		rel = filepath.ToSlash(rel)

		scanner := bufio.NewScanner(file)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if !re.MatchString(line) {
				continue
			}
			totalMatches++
			if len(results) < maxGrepResults {
				results = append(results, fmt.Sprintf("%s:%d: %s", rel, lineNum, truncateLine(line, maxGrepLineLen)))
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(results) == 0 {
		return "No matches found.", nil
	}

	var out strings.Builder
	for _, r := range results {
		out.WriteString(r)
		out.WriteByte('\n')
	}
	if totalMatches > maxGrepResults {
		fmt.Fprintf(&out, "\n... and %d more matches", totalMatches-maxGrepResults)
	}
	return out.String(), nil
}

func truncateLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return true
	}
	for _, b := range buf[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
