package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"gatewayd/pkg/types"
)

// openAIEngine talks to an upstream OpenAI-compatible server (vLLM,
// llama.cpp server, ...) over HTTP and streams its chat completions.
//
// Params:
//
//	request_timeout  upper bound for one generation (default: none)
//	connect_timeout  dial timeout (default 5s)
//	probe_timeout    timeout of initialization and health probes (default 10s)
type openAIEngine struct {
	id            string
	baseURL       string
	apiKey        string
	upstreamModel string
	params        map[string]any
	reqTimeout    time.Duration
	probeTimeout  time.Duration
	httpClient    *http.Client
	ready         atomic.Bool
	ownedBy       atomic.Value // string
	stats         *loadStats
}

// NewOpenAI constructs an upstream engine from spec. It fails when the spec
// has no base URL.
func NewOpenAI(spec types.ModelSpec) (Engine, error) {
	base := strings.TrimRight(strings.TrimSpace(spec.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("openai engine %s: base_url is required", spec.ID)
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("openai engine %s: base_url must be http(s): %q", spec.ID, base)
	}
	p := MergeParams(spec.Params)
	connectTimeout := paramDuration(p, "connect_timeout", 5*time.Second)
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	model := spec.UpstreamModel
	if model == "" {
		model = spec.ID
	}
	e := &openAIEngine{
		id:            spec.ID,
		baseURL:       base,
		upstreamModel: model,
		params:        p,
		reqTimeout:    paramDuration(p, "request_timeout", 0),
		probeTimeout:  paramDuration(p, "probe_timeout", 10*time.Second),
		// Timeout=0: every request carries a context deadline instead.
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		stats:      newLoadStats(),
	}
	if spec.APIKeyEnv != "" {
		e.apiKey = os.Getenv(spec.APIKeyEnv)
	}
	e.ownedBy.Store("")
	return e, nil
}

func (e *openAIEngine) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	return req, nil
}

// Initialize checks that the upstream serves the configured model.
func (e *openAIEngine) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	req, err := e.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai engine %s: list upstream models: %w", e.id, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openai engine %s: upstream %s: %s", e.id, resp.Status, strings.TrimSpace(string(b)))
	}
	// Ids are compared as values, never spliced into a gjson query.
	var entry gjson.Result
	var have []string
	gjson.GetBytes(b, "data").ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == e.upstreamModel {
			entry = m
			return false
		}
		have = append(have, id)
		return true
	})
	if !entry.Exists() {
		return fmt.Errorf("openai engine %s: upstream does not serve %q (serves: %s)", e.id, e.upstreamModel, strings.Join(have, ", "))
	}
	e.ownedBy.Store(entry.Get("owned_by").String())
	e.ready.Store(true)
	return nil
}

type upstreamChatRequest struct {
	Model         string                   `json:"model"`
	Messages      []types.Message          `json:"messages"`
	MaxTokens     int                      `json:"max_tokens,omitempty"`
	Temperature   *float64                 `json:"temperature,omitempty"`
	TopP          *float64                 `json:"top_p,omitempty"`
	Stop          []string                 `json:"stop,omitempty"`
	Seed          *int64                   `json:"seed,omitempty"`
	Stream        bool                     `json:"stream"`
	StreamOptions map[string]any           `json:"stream_options,omitempty"`
	Multimodal    *types.MultimodalPayload `json:"multi_modal_data,omitempty"`
}

// Generate posts a streaming chat completion upstream. Connection and HTTP
// status failures are returned directly; failures while reading the event
// stream end the Stream with an error delta.
func (e *openAIEngine) Generate(ctx context.Context, req Request) (*Stream, error) {
	if !e.ready.Load() {
		return nil, ErrNotInitialized
	}
	payload := upstreamChatRequest{
		Model:         e.upstreamModel,
		Messages:      req.Messages,
		MaxTokens:     req.Sampling.MaxTokens,
		Temperature:   req.Sampling.Temperature,
		TopP:          req.Sampling.TopP,
		Stop:          req.Sampling.Stop,
		Seed:          req.Sampling.Seed,
		Stream:        true,
		StreamOptions: map[string]any{"include_usage": true},
		Multimodal:    req.Multimodal,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	if e.reqTimeout > 0 {
		cancel()
		reqCtx, cancel = context.WithTimeout(ctx, e.reqTimeout)
	}
	hreq, err := e.newRequest(reqCtx, http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	if req.RequestID != "" {
		hreq.Header.Set("X-Request-Id", req.RequestID)
	}
	resp, err := e.httpClient.Do(hreq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("openai engine %s: %w", e.id, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		msg := gjson.GetBytes(b, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return nil, fmt.Errorf("openai engine %s: upstream %s: %s", e.id, resp.Status, msg)
	}

	firstToken, end := e.stats.begin()
	return NewStream(reqCtx, func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		defer end()
		defer cancel()
		defer resp.Body.Close()
		// Closing the body unblocks a pending read once the stream is canceled.
		stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
		defer stop()
		return e.readEvents(ctx, resp.Body, emit, firstToken)
	}), nil
}

// readEvents parses "data: <json>" server-sent events until [DONE] or EOF.
func (e *openAIEngine) readEvents(ctx context.Context, body io.Reader, emit func(string) error, firstToken func()) (FinishReason, *Usage, error) {
	r := bufio.NewReader(body)
	finish := FinishStop
	var usage *Usage
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(line[len("data:"):])
			if data == "[DONE]" {
				return finish, usage, nil
			}
			if msg := gjson.Get(data, "error.message"); msg.Exists() {
				return FinishError, usage, fmt.Errorf("openai engine %s: upstream error: %s", e.id, msg.String())
			}
			if u := gjson.Get(data, "usage"); u.IsObject() {
				usage = &Usage{
					PromptTokens:     int(u.Get("prompt_tokens").Int()),
					CompletionTokens: int(u.Get("completion_tokens").Int()),
				}
			}
			if frag := gjson.Get(data, "choices.0.delta.content").String(); frag != "" {
				if emitErr := emit(frag); emitErr != nil {
					return FinishCancelled, usage, emitErr
				}
				firstToken()
				e.stats.tokens.Add(1)
			}
			switch gjson.Get(data, "choices.0.finish_reason").String() {
			case "length":
				finish = FinishLength
			case "stop":
				finish = FinishStop
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return FinishCancelled, usage, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return finish, usage, nil
			}
			return FinishError, usage, fmt.Errorf("openai engine %s: read stream: %w", e.id, err)
		}
	}
}

func (e *openAIEngine) Metadata(ctx context.Context) (Metadata, error) {
	owned, _ := e.ownedBy.Load().(string)
	if owned == "" {
		owned = "upstream"
	}
	return Metadata{
		ID:          e.id,
		Kind:        "openai",
		OwnedBy:     owned,
		MaxModelLen: paramInt(e.params, "max_model_len", 0),
		Params:      e.params,
	}, nil
}

func (e *openAIEngine) Counters(ctx context.Context) (Counters, error) {
	if !e.ready.Load() {
		return Counters{}, ErrNotInitialized
	}
	return e.stats.counters(), nil
}

// CheckHealth probes the upstream /health endpoint.
func (e *openAIEngine) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()
	req, err := e.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("openai engine %s: upstream health %s", e.id, resp.Status)
	}
	return nil
}

func (e *openAIEngine) Close() error {
	e.ready.Store(false)
	e.httpClient.CloseIdleConnections()
	return nil
}
