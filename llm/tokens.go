package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	bpeOnce sync.Once
	bpeEnc  tokenizer.Codec
)

// encoder returns a singleton o200k_base encoder, falling back to
// cl100k_base. It returns nil if neither is available.
func encoder() tokenizer.Codec {
	bpeOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			enc, err = tokenizer.Get(tokenizer.Cl100kBase)
			if err != nil {
				return
			}
		}
		bpeEnc = enc
	})
	return bpeEnc
}

// EstimateTokens returns an approximate BPE token count for text. Vendor
// tokenizers differ, so this is an estimate for budgeting, not billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	enc := encoder()
	if enc == nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// EstimateMessageTokens estimates the prompt size of a conversation. Each
// message costs 4 tokens of overhead; media parts are not counted.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += 4
		for _, p := range m.Parts {
			switch v := p.(type) {
			case Text:
				total += EstimateTokens(v.Content)
			case Reasoning:
				total += EstimateTokens(v.Content)
			case FunctionCall:
				total += EstimateTokens(v.Name) + EstimateTokens(string(v.Arguments)) + 3
			case FunctionResponse:
				total += EstimateTokens(string(v.Response)) + 3
			}
		}
	}
	return total
}
