package gateway

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

// countingEngine emits n chunks "c0 ", "c1 ", ... and counts the chunks the
// consumer accepted.
type countingEngine struct {
	n        int
	delay    time.Duration
	produced atomic.Int64
	inits    atomic.Int64
}

func (e *countingEngine) Initialize(ctx context.Context) error {
	e.inits.Add(1)
	return nil
}

func (e *countingEngine) Generate(ctx context.Context, req engine.Request) (*engine.Stream, error) {
	return engine.NewStream(ctx, func(ctx context.Context, emit func(string) error) (engine.FinishReason, *engine.Usage, error) {
		for i := 0; i < e.n; i++ {
			if e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					return engine.FinishCancelled, nil, ctx.Err()
				}
			}
			if err := emit(fmt.Sprintf("c%d ", i)); err != nil {
				return engine.FinishCancelled, nil, err
			}
			e.produced.Add(1)
		}
		return engine.FinishStop, &engine.Usage{CompletionTokens: e.n}, nil
	}), nil
}

func (e *countingEngine) Metadata(ctx context.Context) (engine.Metadata, error) {
	return engine.Metadata{ID: "counting", Kind: "counting", OwnedBy: "test"}, nil
}

func (e *countingEngine) Counters(ctx context.Context) (engine.Counters, error) {
	return engine.Counters{RequestsTotal: uint64(e.produced.Load())}, nil
}

func (e *countingEngine) CheckHealth(ctx context.Context) error { return nil }
func (e *countingEngine) Close() error                          { return nil }

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func echoSpec(id string, params map[string]any) types.ModelSpec {
	return types.ModelSpec{ID: id, Kind: "echo", Params: params}
}

func newTestRegistry(t *testing.T, specs []types.ModelSpec, opts Options) *Registry {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = nopLogger()
	}
	reg, err := NewRegistry(context.Background(), specs, opts)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func chatReq(model, content string, stream bool) types.ChatCompletionRequest {
	return types.ChatCompletionRequest{
		Model:    model,
		Messages: []types.Message{{Role: "user", Content: content}},
		Stream:   stream,
	}
}

// collectChunks pumps a stream into a slice.
func collectChunks(ctx context.Context, cs *ChunkStream) ([]types.ChatCompletionChunk, error) {
	var out []types.ChatCompletionChunk
	err := cs.Pump(ctx, ChunkSinkFunc(func(c types.ChatCompletionChunk) error {
		out = append(out, c)
		return nil
	}))
	return out, err
}

func concatChunks(chunks []types.ChatCompletionChunk) string {
	s := ""
	for _, c := range chunks {
		for _, ch := range c.Choices {
			s += ch.Delta.Content
		}
	}
	return s
}
