package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gatewayd/internal/engine"
	"gatewayd/pkg/types"
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"

	defaultProbeTimeout = 5 * time.Second
)

// Reporter answers health, model listing and metrics queries. It only reads
// the registry.
type Reporter struct {
	reg     *Registry
	timeout time.Duration
	log     zerolog.Logger
}

// NewReporter returns a reporter whose engine probes are bounded by timeout.
func NewReporter(reg *Registry, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Reporter{reg: reg, timeout: timeout, log: reg.log}
}

// Ready reports whether at least one handle is Ready.
func (r *Reporter) Ready() bool {
	for _, h := range r.reg.Handles() {
		if h.Ready() {
			return true
		}
	}
	return false
}

// Health builds the aggregate report. Ready handles are probed concurrently
// with CheckHealth; the aggregate status depends only on handle states.
func (r *Reporter) Health(ctx context.Context) types.HealthResponse {
	handles := r.reg.Handles()
	models := make(map[string]types.ModelHealth, len(handles))
	var mu sync.Mutex
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var g errgroup.Group
	for _, h := range handles {
		mh := types.ModelHealth{
			State:        h.State().String(),
			Initialized:  h.Ready(),
			InitAttempts: h.InitAttempts(),
		}
		if err := h.LastError(); err != nil {
			mh.Error = err.Error()
		}
		if !mh.Initialized {
			mu.Lock()
			models[h.ID()] = mh
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := h.Engine().CheckHealth(ctx)
			ok := err == nil
			if err != nil {
				mh.Error = err.Error()
				r.log.Warn().Str("model", h.ID()).Err(err).Msg("engine health probe failed")
			}
			mh.EngineHealthy = &ok
			mu.Lock()
			models[h.ID()] = mh
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := HealthUnhealthy
	if r.Ready() {
		status = HealthHealthy
	}
	return types.HealthResponse{Status: status, Models: models}
}

// Models lists every registered model in configuration order.
func (r *Reporter) Models(ctx context.Context) []types.ModelCard {
	out := make([]types.ModelCard, 0, r.reg.Len())
	for _, h := range r.reg.Handles() {
		card := types.ModelCard{ID: h.ID(), Object: "model", OwnedBy: "gatewayd", State: h.State().String()}
		if eng := h.Engine(); eng != nil {
			if md, err := eng.Metadata(ctx); err == nil && md.OwnedBy != "" {
				card.OwnedBy = md.OwnedBy
			}
		}
		out = append(out, card)
	}
	return out
}

// Metrics collects Counters from every Ready handle concurrently. Handles
// whose collection fails or times out are logged and omitted.
func (r *Reporter) Metrics(ctx context.Context) map[string]engine.Counters {
	out := make(map[string]engine.Counters)
	var mu sync.Mutex
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var g errgroup.Group
	for _, h := range r.reg.Handles() {
		if !h.Ready() {
			continue
		}
		g.Go(func() error {
			c, err := collectCounters(ctx, h.Engine())
			if err != nil {
				r.log.Warn().Str("model", h.ID()).Err(err).Msg("engine counters unavailable")
				return nil
			}
			mu.Lock()
			out[h.ID()] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// collectCounters bounds a Counters call by ctx even if the engine ignores it.
func collectCounters(ctx context.Context, eng engine.Engine) (engine.Counters, error) {
	type result struct {
		c   engine.Counters
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := eng.Counters(ctx)
		ch <- result{c, err}
	}()
	select {
	case res := <-ch:
		return res.c, res.err
	case <-ctx.Done():
		return engine.Counters{}, ctx.Err()
	}
}

// Instances returns a status snapshot of every handle.
func (r *Reporter) Instances() []types.InstanceStatus {
	out := make([]types.InstanceStatus, 0, r.reg.Len())
	for _, h := range r.reg.Handles() {
		out = append(out, h.Status())
	}
	return out
}
