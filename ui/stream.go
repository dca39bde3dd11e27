package ui

import (
	"encoding/json"

	"github.com/lowkaihon/unai/llm"
)

// StreamPrinter prints a growing agent trace. Each Update receives the whole
// trace so far and prints only what earlier updates have not.
type StreamPrinter struct {
	t       *Terminal
	msgs    []progress
	midText bool
	spinner bool
}

type progress struct {
	textLen   int
	calls     map[int]bool
	responses int
}

// NewStreamPrinter returns a printer writing to t.
func (t *Terminal) NewStreamPrinter() *StreamPrinter {
	return &StreamPrinter{t: t}
}

// Start shows the thinking indicator until the first output arrives.
func (p *StreamPrinter) Start() {
	p.t.PrintSpinner()
	p.spinner = true
}

func (p *StreamPrinter) clearSpinner() {
	if p.spinner {
		p.t.ClearSpinner()
		p.spinner = false
	}
}

// Update prints the new parts of snapshot.
func (p *StreamPrinter) Update(snapshot *llm.Response) {
	if snapshot == nil {
		return
	}
	for i, m := range snapshot.Data {
		if i >= len(p.msgs) {
			p.msgs = append(p.msgs, progress{calls: map[int]bool{}})
		}
		st := &p.msgs[i]

		switch m.Role() {
		case llm.RoleAssistant:
			if text := m.Text(); len(text) > st.textLen {
				p.clearSpinner()
				p.t.PrintAssistant(text[st.textLen:])
				st.textLen = len(text)
				p.midText = true
			}
			for j, c := range m.FunctionCalls() {
				if !c.Finished || st.calls[j] {
					continue
				}
				p.clearSpinner()
				p.endText()
				p.t.PrintToolCall(c.Name, string(c.Arguments))
				st.calls[j] = true
			}
		case llm.RoleUser:
			n := 0
			for _, part := range m.Parts {
				fr, ok := part.(llm.FunctionResponse)
				if !ok {
					continue
				}
				n++
				if n <= st.responses {
					continue
				}
				p.endText()
				p.t.PrintToolResult(responseText(fr.Response))
				st.responses = n
			}
		}
	}
}

// Finish ends the output of a run.
func (p *StreamPrinter) Finish() {
	p.clearSpinner()
	if p.midText {
		p.t.PrintAssistantDone()
		p.midText = false
	}
}

// Print renders a complete response.
func (p *StreamPrinter) Print(resp *llm.Response) {
	p.Update(resp)
	p.Finish()
}

func (p *StreamPrinter) endText() {
	if p.midText {
		p.t.PrintAssistantDone()
		p.midText = false
	}
}

// responseText unwraps {"content": "..."} and {"error": "..."} bodies.
func responseText(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj) == 1 {
		for k, v := range obj {
			var s string
			if json.Unmarshal(v, &s) == nil {
				if k == "error" {
					return "Error: " + s
				}
				if k == "content" {
					return s
				}
			}
		}
	}
	return string(raw)
}
