package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewayd/internal/engine"
	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Route(ctx context.Context, req types.ChatCompletionRequest) (gateway.Result, error)
	Models(ctx context.Context) []types.ModelCard
	Health(ctx context.Context) types.HealthResponse
	Ready() bool
	Status() types.StatusResponse
	Load() types.LoadResponse
	EngineCounters(ctx context.Context) map[string]engine.Counters
}

// metricsScrapeTimeout bounds engine counter collection during a scrape.
const metricsScrapeTimeout = 5 * time.Second

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Tracing)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}
	// Compression for JSON endpoints. text/event-stream is not in the
	// compressible set, so SSE responses pass through unbuffered.
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorDetail(w, types.ErrorDetail{
			Message: "no route for " + r.Method + " " + r.URL.Path,
			Type:    string(gateway.KindInvalidRequest),
			Class:   string(gateway.ClassNotFound),
			Code:    http.StatusNotFound,
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path)
	})

	h := &handlers{svc: svc}
	r.Post("/v1/chat/completions", h.chatCompletions)
	r.Post("/chat/completions", h.chatCompletions)
	r.Post("/v1/ocr", h.ocr)
	r.Post("/ocr", h.ocr)
	r.Get("/v1/models", h.models)
	r.Get("/models", h.models)
	r.Get("/v1/load", h.load)
	r.Get("/health", h.health)
	r.Get("/status", h.status)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics: process-wide HTTP metrics plus the live gateway
	// state of this mux's service.
	gw := prometheus.NewRegistry()
	gw.MustRegister(newGatewayCollector(svc, metricsScrapeTimeout))
	r.Get("/metrics", promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, gw}, promhttp.HandlerOpts{}).ServeHTTP)

	MountSwagger(r)
	return r
}

func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Log-Level"}
	}
	return cors.Options{
		AllowedOrigins: corsAllowedOrigins,
		AllowedMethods: methods,
		AllowedHeaders: headers,
		ExposedHeaders: []string{"X-Request-Id", "X-Trace-ID"},
		MaxAge:         300,
	}
}

type handlers struct {
	svc Service
}

// chatCompletions godoc
// @Summary      Create a chat completion
// @Description  Routes the conversation to the named model. With stream=true the response is a server-sent event stream of chat.completion.chunk objects terminated by data: [DONE].
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      types.ChatCompletionRequest  true  "Chat completion request"
// @Success      200      {object}  types.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req types.ChatCompletionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	logChatStart(r, lvl, req)

	// The request ends on client disconnect, server shutdown or timeout.
	ctx, cancel := requestContext(r.Context())
	defer cancel()

	res, err := h.svc.Route(ctx, req)
	if err != nil {
		status := 499
		if r.Context().Err() == nil {
			status = writeError(w, err)
		}
		if gateway.IsTooBusy(err) {
			IncrementBackpressure("max_ongoing_requests")
		}
		observeChat(modelLabel(req, err), req.Stream, err)
		logChatEnd(r, lvl, status, start, err)
		return
	}
	if !res.Streaming() {
		writeJSON(w, http.StatusOK, res.Completion)
		observeChat(res.Completion.Model, false, nil)
		logChatEnd(r, lvl, http.StatusOK, start, nil)
		return
	}
	err = h.stream(ctx, w, r, lvl, res.Stream)
	observeChat(res.Stream.Model(), true, err)
	logChatEnd(r, lvl, http.StatusOK, start, err)
}

// stream pumps cs into an SSE response. Errors after the first event are
// reported in-band; the stream always ends with data: [DONE] unless the
// client is gone.
func (h *handlers) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, lvl LogLevel, cs *gateway.ChunkStream) error {
	sink, err := newSSESink(w)
	if err != nil {
		cs.Close()
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return err
	}
	var out gateway.ChunkSink = sink
	if lvl >= LevelDebug {
		out = &loggingSink{next: sink, rid: middleware.GetReqID(r.Context())}
	}
	err = cs.Pump(ctx, out)
	if err == nil {
		_ = sink.done()
		return nil
	}
	if r.Context().Err() != nil {
		return err
	}
	if !sink.started {
		writeError(w, err)
		return err
	}
	_ = sink.writeError(errorDetail(err))
	_ = sink.done()
	return err
}

// decodeBody reads a size-limited JSON body into v. On failure it writes the
// error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// ocr godoc
// @Summary      Read text from an image
// @Description  Runs a single greedy (temperature 0) buffered completion of prompt over the image.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      types.OCRRequest  true  "OCR request"
// @Success      200      {object}  types.OCRResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /v1/ocr [post]
func (h *handlers) ocr(w http.ResponseWriter, r *http.Request) {
	var in types.OCRRequest
	if !decodeBody(w, r, &in) {
		return
	}
	if in.ImageBase64 == "" {
		writeJSONError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}
	temp := 0.0
	req := types.ChatCompletionRequest{
		Model:       in.Model,
		Messages:    []types.Message{{Role: "user", Content: in.Prompt}},
		MaxTokens:   in.MaxTokens,
		Temperature: &temp,
		Multimodal:  &types.MultimodalPayload{Kind: "image", Data: in.ImageBase64},
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	logChatStart(r, lvl, req)

	ctx, cancel := requestContext(r.Context())
	defer cancel()

	res, err := h.svc.Route(ctx, req)
	if err != nil {
		status := 499
		if r.Context().Err() == nil {
			status = writeError(w, err)
		}
		if gateway.IsTooBusy(err) {
			IncrementBackpressure("max_ongoing_requests")
		}
		observeChat(modelLabel(req, err), false, err)
		logChatEnd(r, lvl, status, start, err)
		return
	}
	out := types.OCRResponse{Model: res.Completion.Model}
	if len(res.Completion.Choices) > 0 {
		out.TextOutput = res.Completion.Choices[0].Message.Content
	}
	writeJSON(w, http.StatusOK, out)
	observeChat(out.Model, false, nil)
	logChatEnd(r, lvl, http.StatusOK, start, nil)
}

// modelLabel keeps the metric cardinality bounded: ids rejected as unknown
// are not used as label values.
func modelLabel(req types.ChatCompletionRequest, err error) string {
	if gateway.IsModelNotFound(err) || req.Model == "" {
		return "unknown"
	}
	return req.Model
}

// models godoc
// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v1/models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Object: "list", Data: h.svc.Models(r.Context())})
}

// health godoc
// @Summary      Aggregate health
// @Description  healthy (200) when at least one engine is ready, unhealthy (503) otherwise.
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Failure      503  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	hr := h.svc.Health(r.Context())
	status := http.StatusOK
	if hr.Status != gateway.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, hr)
}

// status godoc
// @Summary      Replica status
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// load godoc
// @Summary      Replica load signal
// @Description  Polled by the orchestrator to drive scaling decisions.
// @Tags         scaling
// @Produce      json
// @Success      200  {object}  types.LoadResponse
// @Router       /v1/load [get]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Load())
}
