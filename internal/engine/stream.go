package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrStreamConsumed is returned when a second consumer acquires a stream.
	ErrStreamConsumed = errors.New("generation stream already consumed")
	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("generation stream closed")
)

// ProduceFunc generates deltas in order through emit. emit blocks until the
// consumer takes the delta and fails once the stream is canceled; producers
// must return promptly when it does. The returned finish reason and error
// form the terminal delta.
type ProduceFunc func(ctx context.Context, emit func(content string) error) (FinishReason, *Usage, error)

// Stream is a lazy, finite, single-consumer and order-preserving sequence of
// deltas ending in a terminal delta. Deltas are handed over unbuffered, so at
// most one delta is pending ahead of the consumer.
type Stream struct {
	ch     chan Delta
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	acquired atomic.Bool
	closed   atomic.Bool
	once     sync.Once
	finished bool
}

// NewStream starts produce in its own goroutine and returns the stream that
// carries its output. The producer context is derived from parent and is
// canceled by Close.
func NewStream(parent context.Context, produce ProduceFunc) *Stream {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream{
		ch:     make(chan Delta),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(produce)
	return s
}

func (s *Stream) run(produce ProduceFunc) {
	defer close(s.done)
	defer close(s.ch)

	emit := func(content string) error {
		select {
		case s.ch <- Delta{Content: content}:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}

	finish, usage, err := func() (fr FinishReason, u *Usage, err error) {
		defer func() {
			if r := recover(); r != nil {
				fr, u, err = FinishError, nil, fmt.Errorf("engine panic: %v", r)
			}
		}()
		return produce(s.ctx, emit)
	}()
	if s.ctx.Err() != nil {
		return
	}
	term := Delta{Finish: finish, Usage: usage}
	if err != nil {
		term.Finish = FinishError
		term.Err = err
	} else if term.Finish == "" {
		term.Finish = FinishStop
	}
	select {
	case s.ch <- term:
	case <-s.ctx.Done():
	}
}

// Acquire marks the stream as owned by its single consumer.
func (s *Stream) Acquire() error {
	if !s.acquired.CompareAndSwap(false, true) {
		return ErrStreamConsumed
	}
	return nil
}

// Next waits for the next delta. It returns io.EOF after the terminal delta,
// ErrStreamClosed after Close, or the context error when ctx or the stream
// context ends first.
func (s *Stream) Next(ctx context.Context) (Delta, error) {
	if s.closed.Load() {
		return Delta{}, ErrStreamClosed
	}
	if s.finished {
		return Delta{}, io.EOF
	}
	select {
	case d, ok := <-s.ch:
		if !ok {
			s.finished = true
			if s.closed.Load() {
				return Delta{}, ErrStreamClosed
			}
			if err := s.ctx.Err(); err != nil {
				return Delta{}, err
			}
			return Delta{}, io.ErrUnexpectedEOF
		}
		if d.Terminal() {
			s.finished = true
		}
		return d, nil
	case <-ctx.Done():
		return Delta{}, ctx.Err()
	}
}

// Close cancels the producer and waits for it to exit. It is safe to call
// more than once and after the stream finished.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		<-s.done
	})
}

// Done is closed once the producer goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Completion is the buffered result of a stream.
type Completion struct {
	Text   string
	Finish FinishReason
	Usage  *Usage
}

// Collect acquires the stream, consumes it to the terminal delta and closes
// it. A terminal error delta is returned as an error together with the text
// produced so far.
func (s *Stream) Collect(ctx context.Context) (Completion, error) {
	if err := s.Acquire(); err != nil {
		return Completion{}, err
	}
	defer s.Close()
	var b strings.Builder
	for {
		d, err := s.Next(ctx)
		if err != nil {
			return Completion{Text: b.String()}, err
		}
		b.WriteString(d.Content)
		if d.Terminal() {
			c := Completion{Text: b.String(), Finish: d.Finish, Usage: d.Usage}
			return c, d.Err
		}
	}
}
