package types

// Message is one role-tagged entry of a conversation.
type Message struct {
	// Role of the author: system, user or assistant.
	// example: user
	Role string `json:"role" example:"user"`
	// Text content of the message.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
}

// MultimodalPayload references non-text model input (e.g. an image) that the
// engine preprocesses itself.
type MultimodalPayload struct {
	// Payload kind.
	// example: image
	Kind string `json:"kind" example:"image"`
	// Base64-encoded payload bytes.
	Data string `json:"data,omitempty"`
	// Remote location of the payload, as an alternative to Data.
	URL string `json:"url,omitempty"`
}

// ChatCompletionRequest represents a chat completion request payload.
type ChatCompletionRequest struct {
	// Model identifier. If empty, the server default is used.
	// example: qwen2.5-0.5b
	Model string `json:"model,omitempty" example:"qwen2.5-0.5b"`
	// Ordered conversation messages.
	Messages []Message `json:"messages"`
	// If true, stream results as server-sent events.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random). Nil lets the engine choose.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP *float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Random seed for reproducibility.
	// example: 42
	Seed *int64 `json:"seed,omitempty" example:"42"`
	// Optional multimodal input reference.
	Multimodal *MultimodalPayload `json:"multi_modal_data,omitempty"`
}

// OCRRequest asks a vision model to read text from an image.
type OCRRequest struct {
	// Model identifier. If empty, the server default is used.
	// example: deepseek-ocr
	Model string `json:"model,omitempty" example:"deepseek-ocr"`
	// Instruction for the model; "<image>" marks where the image goes.
	// example: <image> Free OCR.
	Prompt string `json:"prompt" example:"<image> Free OCR."`
	// Base64-encoded image, raw or as a data URL.
	ImageBase64 string `json:"image_base64"`
	// Maximum number of new tokens to generate.
	// example: 8192
	MaxTokens int `json:"max_tokens,omitempty" example:"8192"`
}

// OCRResponse carries the recognized text.
type OCRResponse struct {
	Model      string `json:"model"`
	TextOutput string `json:"text_output"`
}

// Usage contains token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one buffered completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionResponse is the buffered (stream=false) response object.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ChunkDelta is the incremental content of a streamed chunk.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one alternative inside a streamed chunk. FinishReason is nil
// on every chunk except the terminal one.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one server-sent event of a streamed response.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ModelCard describes a registered model for GET /v1/models.
type ModelCard struct {
	// example: qwen2.5-0.5b
	ID string `json:"id" example:"qwen2.5-0.5b"`
	// example: model
	Object string `json:"object" example:"model"`
	// example: gatewayd
	OwnedBy string `json:"owned_by" example:"gatewayd"`
	// Lifecycle state of the backing engine.
	// example: ready
	State string `json:"state" example:"ready"`
}

// ModelsResponse wraps the list of models returned by GET /v1/models.
type ModelsResponse struct {
	// example: list
	Object string      `json:"object" example:"list"`
	Data   []ModelCard `json:"data"`
}

// ModelHealth is the per-model part of the health report.
type ModelHealth struct {
	// example: ready
	State string `json:"state" example:"ready"`
	// True once the engine reached the ready state.
	Initialized bool `json:"initialized"`
	// Last initialization or construction error.
	Error string `json:"error,omitempty"`
	// Number of initialization attempts so far.
	InitAttempts int64 `json:"init_attempts"`
	// Result of the engine health probe; only set for ready engines.
	EngineHealthy *bool `json:"engine_healthy,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// healthy when at least one engine is ready, unhealthy otherwise.
	// example: healthy
	Status string                 `json:"status" example:"healthy"`
	Models map[string]ModelHealth `json:"models"`
}

// InstanceStatus summarizes one engine handle for /status.
type InstanceStatus struct {
	// example: qwen2.5-0.5b
	ModelID string `json:"model_id" example:"qwen2.5-0.5b"`
	// example: openai
	Kind string `json:"kind" example:"openai"`
	// example: ready
	State string `json:"state" example:"ready"`
	// Last error recorded on the handle.
	LastError string `json:"last_error,omitempty"`
	// Number of initialization attempts.
	InitAttempts int64 `json:"init_attempts"`
	// Time of the last state transition (unix seconds).
	// example: 1700000000
	ChangedUnix int64 `json:"changed_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Instances []InstanceStatus `json:"instances"`
	// Requests currently in flight on this replica.
	// example: 3
	InFlight int64 `json:"in_flight" example:"3"`
	// example: eager
	InitMode string `json:"init_mode" example:"eager"`
	// Number of handles currently initializing.
	WarmupsInProgress int `json:"warmups_in_progress"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// True once Stop was called on the replica.
	Draining bool `json:"draining"`
}

// LoadResponse is the load signal polled by the external orchestrator.
type LoadResponse struct {
	// Requests currently in flight on this replica.
	// example: 3
	InFlight int64 `json:"in_flight" example:"3"`
	// Per-replica admission limit (0 = unlimited).
	// example: 15
	MaxOngoingRequests int `json:"max_ongoing_requests" example:"15"`
	// Scaling target the orchestrator compares InFlight against.
	// example: 2
	TargetOngoingRequests float64 `json:"target_ongoing_requests" example:"2"`
	// example: 0
	MinReplicas int `json:"min_replicas" example:"0"`
	// example: 5
	MaxReplicas int `json:"max_replicas" example:"5"`
	// example: 15
	UpscaleDelaySeconds float64 `json:"upscale_delay_s" example:"15"`
	// example: 120
	DownscaleDelaySeconds float64 `json:"downscale_delay_s" example:"120"`
	// True once the replica stopped accepting work.
	Draining bool `json:"draining"`
}

// ErrorDetail is the body of a structured error.
type ErrorDetail struct {
	// Human-readable message.
	// example: model not found: gpt-x
	Message string `json:"message" example:"model not found: gpt-x"`
	// Stable machine-readable kind.
	// example: model_not_found
	Type string `json:"type" example:"model_not_found"`
	// Status class: not_found, unavailable, bad_request, too_many_requests or internal.
	// example: not_found
	Class string `json:"class" example:"not_found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Known model ids, set for model_not_found.
	KnownModels []string `json:"known_models,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}
