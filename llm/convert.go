package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// callIDs pairs function calls and responses that arrived without ids, so
// vendors that require ids still see a matching pair. Responses consume
// synthesized call ids in order.
type callIDs struct {
	pending []string
	n       int
}

func (c *callIDs) forCall(id string) string {
	if id != "" {
		return id
	}
	id = c.next()
	c.pending = append(c.pending, id)
	return id
}

func (c *callIDs) forResponse(id string) string {
	if id != "" {
		return id
	}
	if len(c.pending) > 0 {
		id = c.pending[0]
		c.pending = c.pending[1:]
		return id
	}
	return c.next()
}

func (c *callIDs) next() string {
	c.n++
	return fmt.Sprintf("call_%d", c.n)
}

// dataURL renders media as a URI, or as a base64 data URL when no URI is set.
func dataURL(m Media) string {
	if m.URI != "" {
		return m.URI
	}
	return "data:" + m.MIMEType + ";base64," + m.Data
}

// decodeTextMedia returns the decoded content of a text media part.
func decodeTextMedia(m Media) (string, bool) {
	b, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// systemText joins the configured system prompt with the text of every
// system message in the history.
func systemText(system string, messages []Message) string {
	var parts []string
	if system != "" {
		parts = append(parts, system)
	}
	for _, m := range messages {
		if m.Role() != RoleSystem {
			continue
		}
		if t := m.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// responseText renders a function response payload as text for vendors that
// take tool results as strings. JSON strings are unquoted.
func responseText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// mergeExtra adds top-level fields to a marshalled JSON object.
func mergeExtra(body any, extra map[string]any) (json.RawMessage, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if len(extra) == 0 {
		return b, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("merge request fields: %w", err)
	}
	for k, v := range extra {
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		obj[k] = vb
	}
	return json.Marshal(obj)
}
