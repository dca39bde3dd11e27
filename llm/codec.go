package llm

import (
	"encoding/json"
	"fmt"
)

// partJSON is the tagged on-disk form of a Part.
type partJSON struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Signature string          `json:"signature,omitempty"`
	MediaType MediaType       `json:"media_type,omitempty"`
	Data      string          `json:"data,omitempty"`
	MIMEType  string          `json:"mime_type,omitempty"`
	URI       string          `json:"uri,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Parts     []partJSON      `json:"parts,omitempty"`
	Finished  bool            `json:"finished"`
}

type messageJSON struct {
	Role  Role       `json:"role"`
	Parts []partJSON `json:"parts"`
}

// MarshalJSON encodes the message as {"role":...,"parts":[...]}.
func (m Message) MarshalJSON() ([]byte, error) {
	parts, err := encodeParts(m.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.role, Parts: parts})
}

// UnmarshalJSON decodes a message written by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts, err := decodeParts(raw.Parts)
	if err != nil {
		return err
	}
	msg, err := NewMessage(raw.Role, parts...)
	if err != nil {
		return err
	}
	*m = msg
	return nil
}

func encodeParts(parts []Part) ([]partJSON, error) {
	out := make([]partJSON, 0, len(parts))
	for _, p := range parts {
		pj := partJSON{Type: p.partType(), Finished: p.IsFinished()}
		switch v := p.(type) {
		case Text:
			pj.Content = v.Content
		case Media:
			pj.MediaType, pj.Data, pj.MIMEType, pj.URI = v.Type, v.Data, v.MIMEType, v.URI
		case Reasoning:
			pj.Content, pj.Summary, pj.Signature = v.Content, v.Summary, v.Signature
		case FunctionCall:
			pj.ID, pj.Name, pj.Arguments, pj.Signature = v.ID, v.Name, v.Arguments, v.Signature
		case FunctionResponse:
			nested, err := encodeParts(v.Parts)
			if err != nil {
				return nil, err
			}
			pj.ID, pj.Name, pj.Response = v.ID, v.Name, v.Response
			if len(nested) > 0 {
				pj.Parts = nested
			}
		default:
			return nil, fmt.Errorf("unsupported part type %T", p)
		}
		out = append(out, pj)
	}
	return out, nil
}

func decodeParts(raw []partJSON) ([]Part, error) {
	parts := make([]Part, 0, len(raw))
	for _, pj := range raw {
		switch pj.Type {
		case "text":
			parts = append(parts, Text{Content: pj.Content, Finished: pj.Finished})
		case "media":
			parts = append(parts, Media{Type: pj.MediaType, Data: pj.Data, MIMEType: pj.MIMEType, URI: pj.URI, Finished: pj.Finished})
		case "reasoning":
			parts = append(parts, Reasoning{Content: pj.Content, Summary: pj.Summary, Signature: pj.Signature, Finished: pj.Finished})
		case "function_call":
			parts = append(parts, FunctionCall{ID: pj.ID, Name: pj.Name, Arguments: pj.Arguments, Signature: pj.Signature, Finished: pj.Finished})
		case "function_response":
			nested, err := decodeParts(pj.Parts)
			if err != nil {
				return nil, err
			}
			if len(nested) == 0 {
				nested = nil
			}
			parts = append(parts, FunctionResponse{ID: pj.ID, Name: pj.Name, Response: pj.Response, Parts: nested, Finished: pj.Finished})
		default:
			return nil, fmt.Errorf("unknown part type %q", pj.Type)
		}
	}
	return parts, nil
}
