package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

// ChunkSink receives chat.completion.chunk objects in order. WriteChunk must
// not return before the chunk is handed to the client.
type ChunkSink interface {
	WriteChunk(types.ChatCompletionChunk) error
}

// ChunkSinkFunc adapts a function to ChunkSink.
type ChunkSinkFunc func(types.ChatCompletionChunk) error

func (f ChunkSinkFunc) WriteChunk(c types.ChatCompletionChunk) error { return f(c) }

// ChunkStream wraps a generation stream for incremental delivery. It owns
// the request's in-flight slot until Close.
type ChunkStream struct {
	id      string
	model   string
	created int64
	st      *engine.Stream
	release func()
	once    sync.Once
	log     zerolog.Logger
}

func newChunkStream(model string, st *engine.Stream, release func(), log zerolog.Logger) *ChunkStream {
	return &ChunkStream{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
		st:      st,
		release: release,
		log:     log,
	}
}

// ID is the completion id shared by every chunk.
func (c *ChunkStream) ID() string { return c.id }

func (c *ChunkStream) Model() string { return c.model }

// Pump forwards deltas to sink until the terminal chunk. Each delta is
// requested from the engine only after the previous chunk was written.
//
// When ctx ends or a write fails, the engine stream is closed (canceling
// generation at the engine) and a TransportError is returned. An expired
// deadline instead writes a terminal chunk with finish_reason "cancelled"
// and returns a Timeout error. An engine
// failure is reported as a terminal chunk with finish_reason "error"
// followed by an EngineError. Pump closes the ChunkStream before returning.
func (c *ChunkStream) Pump(ctx context.Context, sink ChunkSink) error {
	defer c.Close()
	if err := c.st.Acquire(); err != nil {
		return &Error{Kind: KindInternal, Message: "stream already consumed", Cause: err}
	}
	first := true
	for {
		d, err := c.st.Next(ctx)
		// A delta that raced with cancellation is dropped.
		if cerr := ctx.Err(); cerr != nil {
			c.log.Debug().Str("model", c.model).Str("id", c.id).Err(cerr).Msg("stream context ended")
			if errors.Is(cerr, context.DeadlineExceeded) {
				// Timed out, but the client is still there: end the stream
				// with a terminal chunk.
				_ = sink.WriteChunk(c.chunk(engine.Delta{Finish: engine.FinishCancelled}, first))
			}
			return errContext(cerr)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errEngine(c.model, err)
		}
		chunk := c.chunk(d, first)
		first = false
		if werr := sink.WriteChunk(chunk); werr != nil {
			c.log.Debug().Str("model", c.model).Str("id", c.id).Err(werr).Msg("stream write failed")
			return errTransport(werr)
		}
		if d.Terminal() {
			if d.Err != nil {
				return errEngine(c.model, d.Err)
			}
			return nil
		}
	}
}

func (c *ChunkStream) chunk(d engine.Delta, first bool) types.ChatCompletionChunk {
	ch := types.ChatCompletionChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []types.ChunkChoice{{Index: 0, Delta: types.ChunkDelta{Content: d.Content}}},
	}
	if first {
		ch.Choices[0].Delta.Role = "assistant"
	}
	if d.Terminal() {
		fr := string(d.Finish)
		ch.Choices[0].FinishReason = &fr
		if d.Usage != nil {
			ch.Usage = &types.Usage{
				PromptTokens:     d.Usage.PromptTokens,
				CompletionTokens: d.Usage.CompletionTokens,
				TotalTokens:      d.Usage.PromptTokens + d.Usage.CompletionTokens,
			}
		}
	}
	return ch
}

// Close cancels the generation if it is still running, waits for the
// producer to exit and releases the in-flight slot. It is idempotent.
func (c *ChunkStream) Close() {
	c.once.Do(func() {
		c.st.Close()
		if c.release != nil {
			c.release()
		}
	})
}
