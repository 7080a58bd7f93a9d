package types

// ModelSpec describes one engine entry of the gateway configuration.
type ModelSpec struct {
	// Stable identifier clients use in the "model" field.
	// example: qwen2.5-0.5b
	ID string `json:"id" yaml:"id" toml:"id" example:"qwen2.5-0.5b"`
	// Engine kind: echo, openai or llama.
	// example: openai
	Kind string `json:"kind" yaml:"kind" toml:"kind" example:"openai"`
	// Absolute path to a model file (llama kind).
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	// Base URL of an upstream OpenAI-compatible server (openai kind).
	// example: http://127.0.0.1:8000
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url,omitempty" example:"http://127.0.0.1:8000"`
	// Name of the environment variable holding the upstream API key.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty" toml:"api_key_env,omitempty"`
	// Model name sent upstream; defaults to ID.
	UpstreamModel string `json:"upstream_model,omitempty" yaml:"upstream_model,omitempty" toml:"upstream_model,omitempty"`
	// Initialize at startup instead of on first request.
	Eager bool `json:"eager,omitempty" yaml:"eager,omitempty" toml:"eager,omitempty"`
	// Engine parameters, merged over the engine defaults.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
}
