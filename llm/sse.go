package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const maxSSELine = 1024 * 1024

// SSEReader decodes the data payloads of a Server-Sent-Events stream.
type SSEReader struct {
	scanner *bufio.Scanner
	event   string
}

// NewSSEReader wraps r. Lines up to 1MB are supported.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxSSELine)
	return &SSEReader{scanner: scanner}
}

// Next returns the data of the next event. Multi-line data fields are
// joined with "\n". It returns io.EOF at the end of input or when the
// payload is the literal [DONE].
func (r *SSEReader) Next() (string, error) {
	var data []string
	r.event = ""
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if len(data) == 0 {
				continue
			}
			return r.dispatch(data)
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			r.event = value
		}
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	if len(data) > 0 {
		return r.dispatch(data)
	}
	return "", io.EOF
}

// Event returns the event name of the payload last returned by Next.
func (r *SSEReader) Event() string {
	return r.event
}

func (r *SSEReader) dispatch(data []string) (string, error) {
	payload := strings.Join(data, "\n")
	if payload == "[DONE]" {
		return "", io.EOF
	}
	return payload, nil
}

// errSkipChunk tells newSSEStream that a chunk changed nothing worth emitting.
var errSkipChunk = errors.New("skip chunk")

// chunkHandler folds one SSE payload into the accumulator.
type chunkHandler func(event, data string, acc *Accumulator) error

// newSSEStream turns an SSE response body into a stream of accumulator
// snapshots, one per received chunk. If the body ends before the vendor
// signalled completion, a final snapshot is emitted with FinishStop.
func newSSEStream(ctx context.Context, provider string, body io.ReadCloser, handle chunkHandler) *Stream {
	reader := NewSSEReader(body)
	acc := NewAccumulator()
	log := zerolog.Ctx(ctx)
	done := false

	next := func() (*Response, error) {
		for {
			if done {
				return nil, io.EOF
			}
			if err := ctx.Err(); err != nil {
				return nil, &StreamCancelledError{Err: err}
			}
			data, err := reader.Next()
			if errors.Is(err, io.EOF) {
				done = true
				if acc.Finished() {
					return nil, io.EOF
				}
				acc.Finish(FinishStop)
				return acc.Snapshot(), nil
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, &StreamCancelledError{Err: ctxErr}
				}
				return nil, &HTTPError{Op: "read stream", Err: err}
			}
			log.Trace().Str("provider", provider).Str("event", reader.Event()).Str("data", data).Msg("llm chunk")

			if err := handle(reader.Event(), data, acc); err != nil {
				if errors.Is(err, errSkipChunk) {
					continue
				}
				return nil, err
			}
			return acc.Snapshot(), nil
		}
	}
	return NewStream(next, body.Close)
}
