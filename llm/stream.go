package llm

import (
	"errors"
	"io"
	"iter"
)

// Stream is a pull iterator over cumulative Response snapshots. Each value
// returned by Current is the full state of the response so far, not a delta.
// Close must be called if the stream is abandoned before Next returns false.
type Stream struct {
	next   func() (*Response, error)
	close  func() error
	cur    *Response
	err    error
	done   bool
	closed bool
}

// NewStream creates a stream. next returns io.EOF when there is nothing
// more to emit; close releases the underlying resources and may be nil.
func NewStream(next func() (*Response, error), close func() error) *Stream {
	return &Stream{next: next, close: close}
}

// Next advances to the next snapshot. It returns false at the end of the
// stream or on error, and closes the stream in both cases.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	resp, err := s.next()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		_ = s.Close()
		return false
	}
	s.cur = resp
	return true
}

// Current returns the most recent snapshot.
func (s *Stream) Current() *Response {
	return s.cur
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the stream. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	if s.close != nil {
		return s.close()
	}
	return nil
}

// All returns an iterator over the snapshots. A terminal error is yielded
// once with a nil response. The stream is closed when iteration stops.
func (s *Stream) All() iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Current(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains the stream and returns the last snapshot. onSnapshot, if
// not nil, is called for every snapshot for real-time display.
func Collect(s *Stream, onSnapshot func(*Response)) (*Response, error) {
	defer s.Close()
	var last *Response
	for s.Next() {
		last = s.Current()
		if onSnapshot != nil {
			onSnapshot(last)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if last == nil {
		last = &Response{Finish: FinishStop}
	}
	return last, nil
}
