package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"gatewayd/pkg/types"
)

// echoEngine is a deterministic engine that replies with a fixed text or with
// the last user message, one word per delta. It has no external dependency
// and is used for smoke deployments and tests.
//
// Params:
//
//	reply          fixed reply text (default: echo the last user message)
//	token_delay    pause before each delta
//	init_delay     duration of Initialize
//	fail_init      number of initial Initialize calls that fail
//	fail_after     emit this many deltas, then end with an error (0 = off)
//	fail_generate  Generate itself fails with this message
//	unhealthy      CheckHealth fails
type echoEngine struct {
	id     string
	params map[string]any

	reply        string
	tokenDelay   time.Duration
	initDelay    time.Duration
	failInit     int64
	failAfter    int
	failGenerate string
	unhealthy    bool

	initCalls atomic.Int64
	ready     atomic.Bool
	emitted   atomic.Int64
	stats     *loadStats
}

// NewEcho constructs an echo engine from spec.
func NewEcho(spec types.ModelSpec) (Engine, error) {
	p := MergeParams(spec.Params)
	e := &echoEngine{
		id:           spec.ID,
		params:       p,
		reply:        paramString(p, "reply", ""),
		tokenDelay:   paramDuration(p, "token_delay", 0),
		initDelay:    paramDuration(p, "init_delay", 0),
		failInit:     int64(paramInt(p, "fail_init", 0)),
		failAfter:    paramInt(p, "fail_after", 0),
		failGenerate: paramString(p, "fail_generate", ""),
		unhealthy:    paramBool(p, "unhealthy", false),
		stats:        newLoadStats(),
	}
	return e, nil
}

func (e *echoEngine) Initialize(ctx context.Context) error {
	n := e.initCalls.Add(1)
	if e.initDelay > 0 {
		select {
		case <-time.After(e.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n <= e.failInit {
		return fmt.Errorf("echo %s: initialization attempt %d failed", e.id, n)
	}
	e.ready.Store(true)
	return nil
}

func (e *echoEngine) Generate(ctx context.Context, req Request) (*Stream, error) {
	if !e.ready.Load() {
		return nil, ErrNotInitialized
	}
	if e.failGenerate != "" {
		return nil, errors.New(e.failGenerate)
	}
	text := e.reply
	if text == "" {
		text = lastUserContent(req.Messages)
	}
	toks := tokenize(text)
	promptTokens := len(tokenize(renderPrompt(req.Messages)))
	maxTokens := req.Sampling.MaxTokens
	firstToken, end := e.stats.begin()

	return NewStream(ctx, func(ctx context.Context, emit func(string) error) (FinishReason, *Usage, error) {
		defer end()
		n := 0
		for _, tok := range toks {
			if maxTokens > 0 && n >= maxTokens {
				return FinishLength, &Usage{PromptTokens: promptTokens, CompletionTokens: n}, nil
			}
			if e.failAfter > 0 && n >= e.failAfter {
				return FinishError, nil, fmt.Errorf("echo %s: generation failed after %d tokens", e.id, n)
			}
			if e.tokenDelay > 0 {
				select {
				case <-time.After(e.tokenDelay):
				case <-ctx.Done():
					return FinishCancelled, nil, ctx.Err()
				}
			}
			e.emitted.Add(1)
			if err := emit(tok); err != nil {
				return FinishCancelled, nil, err
			}
			firstToken()
			e.stats.tokens.Add(1)
			n++
		}
		return FinishStop, &Usage{PromptTokens: promptTokens, CompletionTokens: n}, nil
	}), nil
}

func (e *echoEngine) Metadata(ctx context.Context) (Metadata, error) {
	return Metadata{
		ID:          e.id,
		Kind:        "echo",
		OwnedBy:     "gatewayd",
		MaxModelLen: paramInt(e.params, "max_model_len", 0),
		Params:      e.params,
	}, nil
}

func (e *echoEngine) Counters(ctx context.Context) (Counters, error) {
	if !e.ready.Load() {
		return Counters{}, ErrNotInitialized
	}
	return e.stats.counters(), nil
}

func (e *echoEngine) CheckHealth(ctx context.Context) error {
	if e.unhealthy {
		return fmt.Errorf("echo %s: unhealthy", e.id)
	}
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

func (e *echoEngine) Close() error {
	e.ready.Store(false)
	return nil
}
