package provider

import (
	"context"
	"sync"
	"time"
)

// Chunk is one incremental piece of a streamed response. Either field may be
// empty; reasoning and content chunks interleave for providers that stream both.
type Chunk struct {
	Text      string
	Reasoning string
}

// Stream is a lazy, finite, non-restartable sequence of response chunks.
//
// The producer goroutine sends on the chunk channel and closes it when the
// provider signals completion or fails. After the channel is closed, Err
// reports the terminal error, if any. Close abandons the stream and releases
// the underlying connection; it is safe to call more than once.
type Stream struct {
	ch     chan Chunk
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// newStream wires a stream to the cancel func of its producing request.
func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ch:     make(chan Chunk),
		cancel: cancel,
	}
}

// Chunks returns the channel of incremental chunks. The channel is closed
// when the stream ends, successfully or not.
func (s *Stream) Chunks() <-chan Chunk {
	return s.ch
}

// Err returns the terminal error. Only valid after Chunks is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream. Already-received chunks remain valid; the
// producer goroutine exits on the next send or read.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

// emit sends one chunk, aborting if the producing request was cancelled.
// Reports whether the send succeeded.
func (s *Stream) emit(ctx context.Context, c Chunk) bool {
	select {
	case s.ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish records the terminal error and closes the chunk channel.
// Must be called exactly once, by the producer.
func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// NewScriptedStream returns a stream that replays text as single-rune chunks,
// pausing gap between sends. Mock clients use it to exercise streaming paths
// without a network.
func NewScriptedStream(ctx context.Context, text string, gap time.Duration) *Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		for _, r := range text {
			if gap > 0 {
				select {
				case <-time.After(gap):
				case <-streamCtx.Done():
					s.finish(streamCtx.Err())
					return
				}
			}
			if !s.emit(streamCtx, Chunk{Text: string(r)}) {
				s.finish(streamCtx.Err())
				return
			}
		}
		s.finish(nil)
	}()
	return s
}

// Collect drains the stream to completion and returns the accumulated
// response. Used by callers that want streaming transport semantics with a
// blocking call shape.
func (s *Stream) Collect() (*Response, error) {
	var content, reasoning string
	for c := range s.Chunks() {
		content += c.Text
		reasoning += c.Reasoning
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &Response{Content: content, Reasoning: reasoning}, nil
}
