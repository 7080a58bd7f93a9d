//go:build llama

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"gatewayd/pkg/types"
)

// llamaEngine runs a GGUF model in process through go-llama.cpp. The model is
// loaded by Initialize and generations are serialized on a single slot since
// the binding keeps one token callback per model.
//
// Params: max_model_len (context size), threads, gpu_layers, top_k,
// repeat_penalty.
type llamaEngine struct {
	id     string
	path   string
	params map[string]any

	mu    sync.Mutex
	model *llama.LLama
	slot  chan struct{}
	stats *loadStats
}

// NewLlama constructs an in-process llama engine. The model file is not read
// until Initialize.
func NewLlama(spec types.ModelSpec) (Engine, error) {
	if strings.TrimSpace(spec.Path) == "" {
		return nil, fmt.Errorf("llama engine %s: path is required", spec.ID)
	}
	return &llamaEngine{
		id:     spec.ID,
		path:   spec.Path,
		params: MergeParams(spec.Params),
		slot:   make(chan struct{}, 1),
		stats:  newLoadStats(),
	}, nil
}

func (e *llamaEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}
	if _, err := os.Stat(e.path); err != nil {
		return fmt.Errorf("llama engine %s: %w", e.id, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mo := []llama.ModelOption{
		llama.SetContext(paramInt(e.params, "max_model_len", 2048)),
	}
	if n := paramInt(e.params, "gpu_layers", 0); n > 0 {
		mo = append(mo, llama.SetGPULayers(n))
	}
	m, err := llama.New(e.path, mo...)
	if err != nil {
		return fmt.Errorf("llama engine %s: load %s: %w", e.id, e.path, err)
	}
	e.model = m
	return nil
}

func (e *llamaEngine) loaded() *llama.LLama {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

func (e *llamaEngine) Generate(ctx context.Context, req Request) (*Stream, error) {
	m := e.loaded()
	if m == nil {
		return nil, ErrNotInitialized
	}
	if req.Multimodal != nil {
		return nil, errors.New("llama engine: multimodal input is not supported")
	}
	prompt := renderPrompt(req.Messages)
	po := e.predictOptions(req.Sampling)
	firstToken, end := e.stats.begin()

	return NewStream(ctx, func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		defer end()
		select {
		case e.slot <- struct{}{}:
		case <-ctx.Done():
			return FinishCancelled, nil, ctx.Err()
		}
		defer func() { <-e.slot }()

		n := 0
		var emitErr error
		m.SetTokenCallback(func(tok string) bool {
			if ctx.Err() != nil {
				return false
			}
			if emitErr = emit(tok); emitErr != nil {
				return false
			}
			firstToken()
			e.stats.tokens.Add(1)
			n++
			return true
		})
		_, err := m.Predict(prompt, po...)
		if ctx.Err() != nil {
			return FinishCancelled, nil, ctx.Err()
		}
		if emitErr != nil {
			return FinishCancelled, nil, emitErr
		}
		if err != nil {
			return FinishError, nil, fmt.Errorf("llama engine %s: %w", e.id, err)
		}
		usage := &Usage{PromptTokens: len(tokenize(prompt)), CompletionTokens: n}
		if req.Sampling.MaxTokens > 0 && n >= req.Sampling.MaxTokens {
			return FinishLength, usage, nil
		}
		return FinishStop, usage, nil
	}), nil
}

func (e *llamaEngine) predictOptions(s Sampling) []llama.PredictOption {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	po := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetThreads(max(1, paramInt(e.params, "threads", 4))),
		llama.SetTopK(paramInt(e.params, "top_k", llama.DefaultOptions.TopK)),
		llama.SetPenalty(float32(paramFloat(e.params, "repeat_penalty", float64(llama.DefaultOptions.Penalty)))),
	}
	if s.Temperature != nil {
		po = append(po, llama.SetTemperature(float32(*s.Temperature)))
	}
	if s.TopP != nil {
		po = append(po, llama.SetTopP(float32(*s.TopP)))
	}
	if s.Seed != nil {
		po = append(po, llama.SetSeed(int(*s.Seed)))
	} else {
		po = append(po, llama.SetSeed(paramInt(e.params, "seed", 0)))
	}
	if len(s.Stop) > 0 {
		po = append(po, llama.SetStopWords(s.Stop...))
	}
	return po
}

func (e *llamaEngine) Metadata(ctx context.Context) (Metadata, error) {
	return Metadata{
		ID:          e.id,
		Kind:        "llama",
		OwnedBy:     "gatewayd",
		MaxModelLen: paramInt(e.params, "max_model_len", 2048),
		Params:      e.params,
	}, nil
}

func (e *llamaEngine) Counters(ctx context.Context) (Counters, error) {
	if e.loaded() == nil {
		return Counters{}, ErrNotInitialized
	}
	return e.stats.counters(), nil
}

func (e *llamaEngine) CheckHealth(ctx context.Context) error {
	if e.loaded() == nil {
		return ErrNotInitialized
	}
	return nil
}

func (e *llamaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}
