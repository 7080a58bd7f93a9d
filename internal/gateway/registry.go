package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

// InitMode selects when engines are initialized.
type InitMode string

const (
	// InitLazy initializes an engine on its first request.
	InitLazy InitMode = "lazy"
	// InitEager starts initialization during NewRegistry and falls back to
	// lazy retries for engines that failed.
	InitEager InitMode = "eager"
)

// ParseInitMode accepts "lazy", "eager" or "" (lazy).
func ParseInitMode(s string) (InitMode, error) {
	switch InitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", InitLazy:
		return InitLazy, nil
	case InitEager:
		return InitEager, nil
	default:
		return "", fmt.Errorf("invalid init mode %q (want lazy or eager)", s)
	}
}

// Options configures NewRegistry.
type Options struct {
	// InitMode applies to every model; a spec with Eager set is eager regardless.
	InitMode    InitMode
	InitTimeout time.Duration
	Publisher   EventPublisher
	Logger      *zerolog.Logger
	// Build constructs engines. Defaults to engine.Build.
	Build engine.Factory
}

// Entry is one (id, state) pair of Registry.List.
type Entry struct {
	ID    string
	State State
}

// Registry maps model ids to handles. Membership is fixed at construction.
type Registry struct {
	order   []string
	handles map[string]*Handle
	init    *Initializer
	log     zerolog.Logger
}

// NewRegistry builds a handle per spec. Construction failures are recorded on
// their handle and do not affect siblings; an empty or duplicate id is a
// configuration error. Eager handles are initialized concurrently before
// NewRegistry returns.
func NewRegistry(ctx context.Context, specs []types.ModelSpec, opts Options) (*Registry, error) {
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	lg = lg.With().Str("component", "registry").Logger()
	pub := opts.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	build := opts.Build
	if build == nil {
		build = engine.Build
	}
	r := &Registry{
		handles: make(map[string]*Handle, len(specs)),
		init:    NewInitializer(opts.InitTimeout, pub, lg),
		log:     lg,
	}
	for i, spec := range specs {
		spec.ID = strings.TrimSpace(spec.ID)
		if spec.ID == "" {
			return nil, fmt.Errorf("models[%d]: id is empty", i)
		}
		if _, dup := r.handles[spec.ID]; dup {
			return nil, fmt.Errorf("models[%d]: duplicate model id %q", i, spec.ID)
		}
		eng, err := safeBuild(build, spec)
		if err != nil {
			lg.Error().Str("model", spec.ID).Str("kind", spec.Kind).Err(err).Msg("construct_failed")
			pub.Publish(Event{Name: EventConstructFailed, ModelID: spec.ID, Fields: map[string]any{"error": err.Error()}})
		}
		r.handles[spec.ID] = newHandle(spec, eng, err)
		r.order = append(r.order, spec.ID)
	}

	var g errgroup.Group
	for _, id := range r.order {
		h := r.handles[id]
		if h.ConstructFailed() || !(opts.InitMode == InitEager || h.spec.Eager) {
			continue
		}
		g.Go(func() error {
			if err := r.init.Ensure(ctx, h); err != nil {
				lg.Warn().Str("model", h.id).Err(err).Msg("eager initialization failed; will retry on request")
			}
			return nil
		})
	}
	_ = g.Wait()
	return r, nil
}

func safeBuild(build engine.Factory, spec types.ModelSpec) (eng engine.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng, err = nil, fmt.Errorf("engine factory panic: %v", r)
		}
	}()
	eng, err = build(spec)
	if err == nil && eng == nil {
		err = errors.New("engine factory returned no engine")
	}
	return eng, err
}

// Get returns the handle for id or ModelNotFound.
func (r *Registry) Get(id string) (*Handle, error) {
	h, ok := r.handles[id]
	if !ok {
		return nil, ErrModelNotFound(id, r.order)
	}
	return h, nil
}

// List returns (id, state) pairs in configuration order.
func (r *Registry) List() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Entry{ID: id, State: r.handles[id].State()})
	}
	return out
}

// IDs returns the registered ids in configuration order.
func (r *Registry) IDs() []string { return append([]string(nil), r.order...) }

// Handles returns the handles in configuration order.
func (r *Registry) Handles() []*Handle {
	out := make([]*Handle, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.handles[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Initializer returns the single-flight initializer shared by all handles.
func (r *Registry) Initializer() *Initializer { return r.init }

// Close closes every constructed engine.
func (r *Registry) Close() error {
	var errs []error
	for _, h := range r.Handles() {
		if h.engine == nil {
			continue
		}
		if err := h.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", h.id, err))
		}
	}
	return errors.Join(errs...)
}
