package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

type geminiFileEnvelope struct {
	File struct {
		Name     string `json:"name"`
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType"`
	} `json:"file"`
}

// UploadFile stores data with the Gemini Files API and returns its URI,
// suitable for Media.URI. It uses the resumable upload protocol.
func (c *GeminiClient) UploadFile(ctx context.Context, mimeType string, data []byte) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", &ConfigError{Msg: fmt.Sprintf("invalid base URL %q", c.baseURL)}
	}
	startURL := base.Scheme + "://" + base.Host + "/upload" + base.Path + "/files?key=" + url.QueryEscape(c.apiKey)

	resp, err := c.ep.post(ctx, startURL, map[string]any{"file": map[string]any{}}, map[string]string{
		"X-Goog-Upload-Protocol":              "resumable",
		"X-Goog-Upload-Command":               "start",
		"X-Goog-Upload-Header-Content-Length": strconv.Itoa(len(data)),
		"X-Goog-Upload-Header-Content-Type":   mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("start upload: %w", err)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	closeLogged(ctx, resp.Body, "close upload start body")
	if uploadURL == "" {
		return "", &ProviderError{Provider: c.ep.provider, StatusCode: resp.StatusCode, Body: "missing upload URL"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err = c.ep.http.Do(req)
	if err != nil {
		return "", &HTTPError{Op: "upload file", Err: err}
	}
	defer closeLogged(ctx, resp.Body, "close upload body")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &HTTPError{Op: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.ep.errorFor(resp.StatusCode, body)
	}

	var env geminiFileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &ParseError{What: "upload response", Err: err}
	}
	if env.File.URI == "" {
		return "", &ParseError{What: "upload response", Err: fmt.Errorf("no file uri in %s", body)}
	}
	return env.File.URI, nil
}
