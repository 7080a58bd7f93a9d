package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func produceWords(words ...string) ProduceFunc {
	return func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		for _, w := range words {
			if err := emit(w); err != nil {
				return FinishCancelled, nil, err
			}
		}
		return FinishStop, &Usage{CompletionTokens: len(words)}, nil
	}
}

func TestStream_OrderAndTerminal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := NewStream(context.Background(), produceWords("a ", "b ", "c"))
	require.NoError(t, s.Acquire())
	defer s.Close()

	var got []string
	for {
		d, err := s.Next(context.Background())
		require.NoError(t, err)
		if d.Terminal() {
			assert.Equal(t, FinishStop, d.Finish)
			require.NotNil(t, d.Usage)
			assert.Equal(t, 3, d.Usage.CompletionTokens)
			break
		}
		got = append(got, d.Content)
	}
	assert.Equal(t, []string{"a ", "b ", "c"}, got)
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_SingleConsumer(t *testing.T) {
	s := NewStream(context.Background(), produceWords("x"))
	defer s.Close()
	require.NoError(t, s.Acquire())
	assert.ErrorIs(t, s.Acquire(), ErrStreamConsumed)
}

func TestStream_ErrorBecomesTerminalDelta(t *testing.T) {
	boom := errors.New("boom")
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		_ = emit("partial")
		return FinishStop, nil, boom
	})
	c, err := s.Collect(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", c.Text)
}

func TestStream_PanicBecomesError(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		panic("kaboom")
	})
	_, err := s.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStream_CloseStopsProducer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	produced := make(chan int, 100)
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		for i := 0; ; i++ {
			if err := emit("t"); err != nil {
				return FinishCancelled, nil, err
			}
			produced <- i
		}
	})
	require.NoError(t, s.Acquire())
	for i := 0; i < 3; i++ {
		_, err := s.Next(context.Background())
		require.NoError(t, err)
	}
	s.Close()
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("producer still running after Close")
	}
	// At most one delta may have been accepted past the consumer.
	assert.LessOrEqual(t, len(produced), 4)
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestStream_ParentCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	s := NewStream(ctx, func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		<-ctx.Done()
		return FinishCancelled, nil, ctx.Err()
	})
	cancel()
	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	s.Close()
}

func TestStream_NextHonorsCallerContext(t *testing.T) {
	s := NewStream(context.Background(), func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		<-ctx.Done()
		return FinishCancelled, nil, ctx.Err()
	})
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenize_RoundTrip(t *testing.T) {
	for _, in := range []string{"", "one", "hello world", "  lead and trail  ", "a\nb\tc"} {
		assert.Equal(t, in, strings.Join(tokenize(in), ""), "input %q", in)
	}
	assert.Equal(t, []string{"hello ", "world"}, tokenize("hello world"))
}
