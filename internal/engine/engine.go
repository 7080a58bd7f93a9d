// Package engine defines the inference engine collaborator used by the
// gateway and the engine kinds shipped with it.
//
//   - engine.go: Engine interface and request/response value types.
//   - stream.go: Stream, the lazy single-consumer sequence of deltas.
//   - kinds.go: kind table and Build.
//   - params.go: engine parameter defaults and typed accessors.
//   - echo.go: deterministic reference engine (kind "echo").
//   - openai.go: upstream OpenAI-compatible server such as vLLM (kind "openai").
//   - llama.go / llama_stub.go: in-process go-llama.cpp (kind "llama", `-tags=llama`).
package engine

import (
	"context"

	"gatewayd/pkg/types"
)

// Engine is one independently-initialized inference backend.
//
// Generate must return promptly; the generation itself runs in the producer
// of the returned Stream and must stop when the stream context is canceled.
type Engine interface {
	// Initialize prepares the engine for generation. It may be called again
	// after a failure.
	Initialize(ctx context.Context) error
	// Generate starts one generation and returns its delta stream.
	Generate(ctx context.Context, req Request) (*Stream, error)
	// Metadata describes the served model.
	Metadata(ctx context.Context) (Metadata, error)
	// Counters reports load counters for metrics collection.
	Counters(ctx context.Context) (Counters, error)
	// CheckHealth returns nil when the engine can serve requests.
	CheckHealth(ctx context.Context) error
	// Close releases resources held by the engine.
	Close() error
}

// Sampling captures generation options. The gateway forwards them unchanged.
type Sampling struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
	Seed        *int64
}

// Request is the input of one generation.
type Request struct {
	RequestID  string
	Model      string
	Messages   []types.Message
	Sampling   Sampling
	Multimodal *types.MultimodalPayload
}

// FinishReason explains why a stream ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// Usage contains token accounting for one generation.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Delta is one element of a Stream. Finish is set only on the terminal delta;
// Err is set only when Finish is FinishError.
type Delta struct {
	Content string
	Finish  FinishReason
	Err     error
	Usage   *Usage
}

// Terminal reports whether d ends its stream.
func (d Delta) Terminal() bool { return d.Finish != "" }

// Metadata is a read-only description of the served model.
type Metadata struct {
	ID          string
	Kind        string
	OwnedBy     string
	MaxModelLen int
	Params      map[string]any
}

// Counters are engine-side load counters.
type Counters struct {
	QueueDepth      int
	ActiveRequests  int
	ThroughputTPS   float64
	RequestsTotal   uint64
	GeneratedTokens uint64
}
