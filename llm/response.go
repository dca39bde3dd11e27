package llm

// FinishReason explains why generation stopped.
type FinishReason int

const (
	FinishUnfinished FinishReason = iota
	FinishStop
	FinishOutputTokens
	FinishContentFilter
	FinishToolCalls
)

func (f FinishReason) String() string {
	switch f {
	case FinishStop:
		return "stop"
	case FinishOutputTokens:
		return "output_tokens"
	case FinishContentFilter:
		return "content_filter"
	case FinishToolCalls:
		return "tool_calls"
	default:
		return "unfinished"
	}
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
	}
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is the result of one request. Data holds only the messages
// produced by this request, never the input history.
type Response struct {
	Data   []Message
	Usage  Usage
	Finish FinishReason
}

// Clone returns a deep copy of the response.
func (r *Response) Clone() *Response {
	out := &Response{Usage: r.Usage, Finish: r.Finish}
	if r.Data != nil {
		out.Data = make([]Message, len(r.Data))
		for i, m := range r.Data {
			out.Data[i] = m.Clone()
		}
	}
	return out
}

// Text returns the text of all assistant messages joined by newlines.
func (r *Response) Text() string {
	var s string
	for _, m := range r.Data {
		if m.Role() != RoleAssistant {
			continue
		}
		t := m.Text()
		if t == "" {
			continue
		}
		if s != "" {
			s += "\n"
		}
		s += t
	}
	return s
}

// FunctionCalls returns every function call in the response, in order.
func (r *Response) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, m := range r.Data {
		calls = append(calls, m.FunctionCalls()...)
	}
	return calls
}
