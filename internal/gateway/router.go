package gateway

import (
	"context"
	"encoding/base64"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

const tracerName = "gatewayd/internal/gateway"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// MaxOngoingRequests bounds in-flight requests; 0 = unbounded.
	MaxOngoingRequests int
	Tracer             trace.Tracer
	Logger             *zerolog.Logger
}

// Result is the outcome of Route: exactly one of Completion and Stream is set.
type Result struct {
	Completion *types.ChatCompletionResponse
	Stream     *ChunkStream
}

// Streaming reports whether the result must be sent through the bridge.
func (r Result) Streaming() bool { return r.Stream != nil }

// Router resolves requests to engines. It holds no per-request state apart
// from the in-flight counter.
type Router struct {
	reg          *Registry
	inflight     *InFlight
	defaultModel string
	draining     atomic.Bool
	tracer       trace.Tracer
	log          zerolog.Logger
}

func NewRouter(reg *Registry, opts RouterOptions) *Router {
	r := &Router{
		reg:          reg,
		inflight:     NewInFlight(opts.MaxOngoingRequests),
		defaultModel: strings.TrimSpace(opts.DefaultModel),
		tracer:       opts.Tracer,
		log:          reg.log,
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	if opts.Logger != nil {
		r.log = *opts.Logger
	}
	return r
}

// Registry returns the registry the router resolves against.
func (r *Router) Registry() *Registry { return r.reg }

// InFlight returns the in-flight counter.
func (r *Router) InFlight() *InFlight { return r.inflight }

// DefaultModel returns the model used for requests without one.
func (r *Router) DefaultModel() string { return r.defaultModel }

// Drain makes Route reject new requests. Requests already admitted finish.
func (r *Router) Drain() { r.draining.Store(true) }

// Draining reports whether Drain was called.
func (r *Router) Draining() bool { return r.draining.Load() }

// Route validates req, resolves its model (initializing it if needed) and
// starts the generation. Buffered requests are fully consumed before Route
// returns; for streamed ones the caller must Pump or Close the returned
// ChunkStream.
func (r *Router) Route(ctx context.Context, req types.ChatCompletionRequest) (res Result, err error) {
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = r.defaultModel
	}
	ctx, span := r.tracer.Start(ctx, "gateway.route", trace.WithAttributes(
		attribute.String("gateway.model", modelID),
		attribute.Bool("gateway.stream", req.Stream),
		attribute.Int("gateway.messages", len(req.Messages)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
	}()

	// The slot brackets the whole request, rejected ones included. Draining
	// is checked after acquiring so that Stop, which waits for the counter
	// to reach zero, cannot close the engines under an admitted request.
	release, ok := r.inflight.TryAcquire()
	if !ok {
		return Result{}, errTooBusy("too many ongoing requests")
	}
	// release is handed to the ChunkStream on the streaming path.
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()
	if r.Draining() {
		return Result{}, errTooBusy("replica is draining")
	}

	if modelID == "" {
		return Result{}, errInvalidRequest("model is required (no default model configured)")
	}
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	h, err := r.reg.Get(modelID)
	if err != nil {
		return Result{}, err
	}

	if err := r.reg.init.Ensure(ctx, h); err != nil {
		return Result{}, err
	}
	span.AddEvent("engine ready")

	ereq := engine.Request{
		RequestID: uuid.NewString(),
		Model:     modelID,
		Messages:  req.Messages,
		Sampling: engine.Sampling{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
			Stop:        req.Stop,
			Seed:        req.Seed,
		},
		Multimodal: req.Multimodal,
	}
	st, err := h.Engine().Generate(ctx, ereq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errContext(ctx.Err())
		}
		return Result{}, errEngine(modelID, err)
	}

	if req.Stream {
		handedOff = true
		return Result{Stream: newChunkStream(modelID, st, release, r.log)}, nil
	}

	c, err := st.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errContext(ctx.Err())
		}
		return Result{}, errEngine(modelID, err)
	}
	return Result{Completion: assemble(modelID, c)}, nil
}

func validateRequest(req types.ChatCompletionRequest) error {
	if len(req.Messages) == 0 {
		return errInvalidRequest("messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return errInvalidRequest("messages[%d]: invalid role %q", i, m.Role)
		}
	}
	if req.MaxTokens < 0 {
		return errInvalidRequest("max_tokens must not be negative")
	}
	if mm := req.Multimodal; mm != nil {
		if mm.Data == "" && mm.URL == "" {
			return errInvalidRequest("multi_modal_data: data or url is required")
		}
		if mm.Data != "" {
			if _, err := decodeBase64Payload(mm.Data); err != nil {
				return errInvalidRequest("multi_modal_data: invalid base64 data: %v", err)
			}
		}
	}
	return nil
}

// decodeBase64Payload accepts raw base64 or a data URL
// ("data:image/png;base64,...").
func decodeBase64Payload(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func assemble(modelID string, c engine.Completion) *types.ChatCompletionResponse {
	resp := &types.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   modelID,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: c.Text},
			FinishReason: string(c.Finish),
		}},
	}
	if c.Usage != nil {
		resp.Usage = types.Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.PromptTokens + c.Usage.CompletionTokens,
		}
	}
	return resp
}
