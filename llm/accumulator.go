package llm

import (
	"encoding/json"
	"strings"
)

type bufKind int

const (
	bufText bufKind = iota
	bufReasoning
	bufCall
	bufFixed
)

// partBuf is the mutable state of one part while it is being streamed.
type partBuf struct {
	kind      bufKind
	content   strings.Builder
	signature string
	id        string
	name      strings.Builder
	args      strings.Builder
	parsed    json.RawMessage
	fixed     Part
	finished  bool
}

// Accumulator folds streamed deltas into one growing assistant message.
// The buffer is private; callers only see clones returned by Snapshot.
type Accumulator struct {
	parts  []*partBuf
	calls  map[int]int // vendor tool-call index -> position in parts
	usage  Usage
	finish FinishReason
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[int]int)}
}

func (a *Accumulator) last() *partBuf {
	if len(a.parts) == 0 {
		return nil
	}
	return a.parts[len(a.parts)-1]
}

// AddText appends a text delta to the last unfinished text part, or starts
// a new one.
func (a *Accumulator) AddText(delta string) {
	if delta == "" {
		return
	}
	if p := a.last(); p != nil && p.kind == bufText && !p.finished {
		p.content.WriteString(delta)
		return
	}
	p := &partBuf{kind: bufText}
	p.content.WriteString(delta)
	a.parts = append(a.parts, p)
}

// AddReasoning appends a reasoning delta to the last unfinished reasoning
// part, or starts a new one.
func (a *Accumulator) AddReasoning(delta string) {
	if delta == "" {
		return
	}
	if p := a.last(); p != nil && p.kind == bufReasoning && !p.finished {
		p.content.WriteString(delta)
		return
	}
	p := &partBuf{kind: bufReasoning}
	p.content.WriteString(delta)
	a.parts = append(a.parts, p)
}

// SetReasoningSignature appends a signature fragment to the last reasoning
// part, creating an empty one if needed.
func (a *Accumulator) SetReasoningSignature(sig string) {
	if sig == "" {
		return
	}
	if p := a.last(); p != nil && p.kind == bufReasoning && !p.finished {
		p.signature += sig
		return
	}
	a.parts = append(a.parts, &partBuf{kind: bufReasoning, signature: sig})
}

// AddSignedReasoning appends a reasoning delta that carries a complete
// signature of its own. A reasoning part that is already signed is closed
// first, so two signatures are never joined.
func (a *Accumulator) AddSignedReasoning(delta, sig string) {
	if sig == "" {
		a.AddReasoning(delta)
		return
	}
	if p := a.last(); p != nil && p.kind == bufReasoning && !p.finished && p.signature != "" {
		a.finishPart(p)
	}
	a.AddReasoning(delta)
	if p := a.last(); p != nil && p.kind == bufReasoning && !p.finished {
		p.signature = sig
		return
	}
	a.parts = append(a.parts, &partBuf{kind: bufReasoning, signature: sig})
}

// AddToolCallDelta folds one tool-call delta keyed by the vendor's index.
// Name and argument fragments are concatenated per index.
func (a *Accumulator) AddToolCallDelta(index int, id, name, argsDelta string) {
	pos, ok := a.calls[index]
	if !ok {
		pos = len(a.parts)
		a.calls[index] = pos
		a.parts = append(a.parts, &partBuf{kind: bufCall})
	}
	p := a.parts[pos]
	if id != "" && p.id == "" {
		p.id = id
	}
	p.name.WriteString(name)
	p.args.WriteString(argsDelta)
}

// SetToolCallSignature attaches an opaque signature to a tool call.
func (a *Accumulator) SetToolCallSignature(index int, sig string) {
	if pos, ok := a.calls[index]; ok {
		a.parts[pos].signature = sig
	}
}

// FinishToolCall marks one tool call finished and parses its arguments.
func (a *Accumulator) FinishToolCall(index int) {
	pos, ok := a.calls[index]
	if !ok {
		return
	}
	a.finishPart(a.parts[pos])
}

// AddPart appends a complete part as is.
func (a *Accumulator) AddPart(p Part) {
	a.parts = append(a.parts, &partBuf{kind: bufFixed, fixed: p, finished: p.IsFinished()})
}

// SetUsage records cumulative usage. Each non-zero field replaces the
// running value; vendors that report totals per chunk must not be summed.
func (a *Accumulator) SetUsage(u Usage) {
	if u.PromptTokens > 0 {
		a.usage.PromptTokens = u.PromptTokens
	}
	if u.CompletionTokens > 0 {
		a.usage.CompletionTokens = u.CompletionTokens
	}
}

// Finish marks every part finished and records the finish reason.
func (a *Accumulator) Finish(reason FinishReason) {
	for _, p := range a.parts {
		a.finishPart(p)
	}
	if reason == FinishUnfinished {
		reason = FinishStop
	}
	a.finish = reason
}

// Finished reports whether Finish has been called.
func (a *Accumulator) Finished() bool {
	return a.finish != FinishUnfinished
}

// HasToolCalls reports whether any tool call has been seen.
func (a *Accumulator) HasToolCalls() bool {
	if len(a.calls) > 0 {
		return true
	}
	for _, p := range a.parts {
		if _, ok := p.fixed.(FunctionCall); ok {
			return true
		}
	}
	return false
}

func (a *Accumulator) finishPart(p *partBuf) {
	if p.finished {
		return
	}
	p.finished = true
	if p.kind == bufCall {
		p.parsed = parseArguments(p.args.String())
	}
}

// Snapshot returns a deep copy of the current state.
func (a *Accumulator) Snapshot() *Response {
	resp := &Response{Usage: a.usage, Finish: a.finish}
	if len(a.parts) == 0 {
		return resp
	}
	parts := make([]Part, 0, len(a.parts))
	for _, p := range a.parts {
		parts = append(parts, p.snapshot())
	}
	resp.Data = []Message{Assistant(parts...)}
	return resp
}

func (p *partBuf) snapshot() Part {
	switch p.kind {
	case bufText:
		return Text{Content: p.content.String(), Finished: p.finished}
	case bufReasoning:
		return Reasoning{Content: p.content.String(), Signature: p.signature, Finished: p.finished}
	case bufCall:
		fc := FunctionCall{ID: p.id, Name: p.name.String(), Signature: p.signature, Finished: p.finished}
		if p.finished {
			fc.Arguments = cloneRaw(p.parsed)
		} else {
			raw, _ := json.Marshal(p.args.String())
			fc.Arguments = raw
		}
		return fc
	default:
		part := cloneParts([]Part{p.fixed})[0]
		if p.finished {
			part = markFinished(part)
		}
		return part
	}
}

func markFinished(p Part) Part {
	switch v := p.(type) {
	case Text:
		v.Finished = true
		return v
	case Media:
		v.Finished = true
		return v
	case Reasoning:
		v.Finished = true
		return v
	case FunctionCall:
		v.Finished = true
		return v
	case FunctionResponse:
		v.Finished = true
		return v
	}
	return p
}

// parseArguments parses a tool-call argument string. Empty or malformed
// input yields an empty object.
func parseArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}
