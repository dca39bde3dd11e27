package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAllSSE(t *testing.T, input string) []string {
	t.Helper()
	r := NewSSEReader(strings.NewReader(input))
	var out []string
	for {
		data, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, data)
	}
}

func TestSSEReader_DataAndDone(t *testing.T) {
	input := "data: {\"a\":1}\n\n: keep-alive\n\ndata: {\"a\":2}\n\ndata: [DONE]\n\ndata: ignored\n\n"
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, readAllSSE(t, input))
}

func TestSSEReader_MultiLineData(t *testing.T) {
	input := "data: line one\ndata: line two\n\n"
	assert.Equal(t, []string{"line one\nline two"}, readAllSSE(t, input))
}

func TestSSEReader_NoTrailingBlankLine(t *testing.T) {
	assert.Equal(t, []string{"last"}, readAllSSE(t, "data: last"))
}

func TestSSEReader_EventName(t *testing.T) {
	r := NewSSEReader(strings.NewReader("event: message_start\ndata: {}\n\ndata: {}\n\n"))

	_, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message_start", r.Event())

	_, err = r.Next()
	require.NoError(t, err)
	assert.Empty(t, r.Event())
}

func TestSSEStream_FinalSnapshotWhenBodyEnds(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: a\n\ndata: b\n\n"))
	handle := func(_, data string, acc *Accumulator) error {
		acc.AddText(data)
		return nil
	}
	s := newSSEStream(context.Background(), "test", body, handle)

	var texts []string
	var last *Response
	for s.Next() {
		last = s.Current()
		texts = append(texts, last.Text())
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"a", "ab", "ab"}, texts)
	assert.Equal(t, FinishStop, last.Finish)
}

func TestSSEStream_SkipChunk(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: skip\n\ndata: x\n\n"))
	handle := func(_, data string, acc *Accumulator) error {
		if data == "skip" {
			return errSkipChunk
		}
		acc.AddText(data)
		acc.Finish(FinishStop)
		return nil
	}
	resp, err := Collect(newSSEStream(context.Background(), "test", body, handle), nil)
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Text())
}

func TestSSEStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	body := io.NopCloser(strings.NewReader("data: a\n\ndata: b\n\n"))
	s := newSSEStream(ctx, "test", body, func(_, data string, acc *Accumulator) error {
		acc.AddText(data)
		return nil
	})

	require.True(t, s.Next())
	cancel()
	assert.False(t, s.Next())

	var cancelled *StreamCancelledError
	require.ErrorAs(t, s.Err(), &cancelled)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestSSEStream_HandlerError(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {bad\n\n"))
	s := newSSEStream(context.Background(), "test", body, func(_, data string, acc *Accumulator) error {
		return &ParseError{What: "stream chunk", Err: errors.New("bad json")}
	})
	_, err := Collect(s, nil)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
