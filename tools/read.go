package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/lowkaihon/unai/llm"
)

const (
	maxReadLines  = 500
	maxImageBytes = 10 << 20
)

type readInput struct {
	Path      string `json:"path" jsonschema:"description=File path to read"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to read (1-indexed; default 1)"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"description=Last line to read (1-indexed; inclusive)"`
}

func (ft *fileTools) readFile(ctx context.Context, params readInput) (any, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	absPath, err := ResolvePath(ft.workDir, params.Path)
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(absPath)); {
	case ext == ".pdf":
		text, err := readPDF(absPath)
		if err != nil {
			return nil, fmt.Errorf("read pdf: %w", err)
		}
		zerolog.Ctx(ctx).Debug().Str("path", params.Path).Int("chars", len(text)).Msg("extracted pdf text")
		return numberLines(strings.NewReader(text), params.StartLine, params.EndLine)
	case strings.HasPrefix(mime.TypeByExtension(ext), "image/"):
		return readImage(absPath, mime.TypeByExtension(ext))
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()
	return numberLines(file, params.StartLine, params.EndLine)
}

// numberLines renders lines startLine..endLine of r with line numbers. With
// no end line, at most maxReadLines lines are shown.
func numberLines(r io.Reader, startLine, endLine int) (string, error) {
	if startLine <= 0 {
		startLine = 1
	}

	var result strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)

	lineNum := 0
	linesRead := 0
	for scanner.Scan() {
		lineNum++
		if lineNum < startLine {
			continue
		}
		if endLine > 0 && lineNum > endLine {
			continue // keep counting total lines
		}

		linesRead++
		if endLine <= 0 && linesRead > maxReadLines {
			for scanner.Scan() {
				lineNum++
			}
			fmt.Fprintf(&result, "\n... (file has %d total lines, showing lines %d-%d. Use start_line/end_line to read more.)",
				lineNum, startLine, startLine+maxReadLines-1)
			break
		}
		fmt.Fprintf(&result, "%4d │ %s\n", lineNum, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	if result.Len() == 0 {
		return "File is empty.", nil
	}
	return result.String(), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readImage(path, mimeType string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > maxImageBytes {
		return Result{}, fmt.Errorf("image is %d bytes, limit is %d", info.Size(), maxImageBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return Result{
		Value: fmt.Sprintf("Image %s (%s, %d bytes) attached.", filepath.Base(path), mimeType, len(data)),
		Parts: []llm.Part{llm.Media{
			Type:     llm.MediaImage,
			Data:     base64.StdEncoding.EncodeToString(data),
			MIMEType: mimeType,
			Finished: true,
		}},
	}, nil
}
