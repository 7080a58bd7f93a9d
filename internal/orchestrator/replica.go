package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gatewayd/internal/engine"
	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// Config configures one replica.
type Config struct {
	Models       []types.ModelSpec
	Scaling      ScalingConfig
	DefaultModel string
	InitMode     gateway.InitMode
	InitTimeout  time.Duration
	ProbeTimeout time.Duration
	Publisher    gateway.EventPublisher
	Logger       *zerolog.Logger
	// DrainPoll is the in-flight polling interval during Stop.
	DrainPoll time.Duration
}

// ErrNotStarted is returned by accessors used before Start.
var ErrNotStarted = errors.New("replica not started")

// Replica is one gateway instance as seen by the orchestrator: it is
// constructed on start, reports its load and drains on stop.
type Replica struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	reg      *gateway.Registry
	router   *gateway.Router
	reporter *gateway.Reporter
	started  time.Time
	stopped  bool
}

// NewReplica validates cfg. Nothing is constructed until Start.
func NewReplica(cfg Config) (*Replica, error) {
	if err := cfg.Scaling.Validate(); err != nil {
		return nil, err
	}
	if cfg.DrainPoll <= 0 {
		cfg.DrainPoll = 10 * time.Millisecond
	}
	lg := log.Logger
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	return &Replica{cfg: cfg, log: lg.With().Str("component", "replica").Logger()}, nil
}

// Start builds the registry (running eager initializations) and the router.
func (r *Replica) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reg != nil {
		return errors.New("replica already started")
	}
	lg := r.log
	reg, err := gateway.NewRegistry(ctx, r.cfg.Models, gateway.Options{
		InitMode:    r.cfg.InitMode,
		InitTimeout: r.cfg.InitTimeout,
		Publisher:   r.cfg.Publisher,
		Logger:      &lg,
	})
	if err != nil {
		return err
	}
	if d := r.cfg.DefaultModel; d != "" {
		if _, err := reg.Get(d); err != nil {
			_ = reg.Close()
			return err
		}
	}
	r.reg = reg
	r.router = gateway.NewRouter(reg, gateway.RouterOptions{
		DefaultModel:       r.cfg.DefaultModel,
		MaxOngoingRequests: r.cfg.Scaling.MaxOngoingRequests,
		Logger:             &lg,
	})
	r.reporter = gateway.NewReporter(reg, r.cfg.ProbeTimeout)
	r.started = time.Now()
	ready := 0
	for _, e := range reg.List() {
		if e.State == gateway.StateReady {
			ready++
		}
	}
	r.log.Info().Int("models", reg.Len()).Int("ready", ready).Str("init_mode", string(r.cfg.InitMode)).Msg("replica started")
	return nil
}

// Stop rejects new requests, waits until in-flight requests reach zero or
// ctx ends, then closes the engines. It returns ctx.Err() when the drain
// was cut short.
func (r *Replica) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.reg == nil || r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	router, reg := r.router, r.reg
	r.mu.Unlock()

	router.Drain()
	r.log.Info().Int64("in_flight", router.InFlight().Load()).Msg("replica draining")
	var drainErr error
	t := time.NewTicker(r.cfg.DrainPoll)
	defer t.Stop()
drain:
	for router.InFlight().Load() > 0 {
		select {
		case <-ctx.Done():
			drainErr = ctx.Err()
			r.log.Warn().Int64("in_flight", router.InFlight().Load()).Msg("drain deadline reached")
			break drain
		case <-t.C:
		}
	}
	closeErr := reg.Close()
	r.log.Info().Msg("replica stopped")
	return errors.Join(drainErr, closeErr)
}

func (r *Replica) get() (*gateway.Router, *gateway.Reporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.router == nil {
		return nil, nil, ErrNotStarted
	}
	return r.router, r.reporter, nil
}

// Router returns the request router; nil before Start.
func (r *Replica) Router() *gateway.Router {
	rt, _, _ := r.get()
	return rt
}

// Reporter returns the health and metrics reporter; nil before Start.
func (r *Replica) Reporter() *gateway.Reporter {
	_, rep, _ := r.get()
	return rep
}

func errNotStarted() error {
	return &gateway.Error{Kind: gateway.KindEngineUnavailable, Message: "replica is not serving", Cause: ErrNotStarted}
}

// Route forwards req to the router. Before Start every request fails with
// EngineUnavailable.
func (r *Replica) Route(ctx context.Context, req types.ChatCompletionRequest) (gateway.Result, error) {
	rt, _, err := r.get()
	if err != nil {
		return gateway.Result{}, errNotStarted()
	}
	return rt.Route(ctx, req)
}

// Ready reports whether at least one engine is ready.
func (r *Replica) Ready() bool {
	_, rep, err := r.get()
	return err == nil && rep.Ready()
}

func (r *Replica) Models(ctx context.Context) []types.ModelCard {
	_, rep, err := r.get()
	if err != nil {
		return []types.ModelCard{}
	}
	return rep.Models(ctx)
}

func (r *Replica) Health(ctx context.Context) types.HealthResponse {
	_, rep, err := r.get()
	if err != nil {
		return types.HealthResponse{Status: gateway.HealthUnhealthy, Models: map[string]types.ModelHealth{}}
	}
	return rep.Health(ctx)
}

// EngineCounters returns the counters of every ready engine.
func (r *Replica) EngineCounters(ctx context.Context) map[string]engine.Counters {
	_, rep, err := r.get()
	if err != nil {
		return map[string]engine.Counters{}
	}
	return rep.Metrics(ctx)
}

// Uptime returns the time since Start.
func (r *Replica) Uptime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.started.IsZero() {
		return 0
	}
	return time.Since(r.started)
}

// InitMode returns the configured initialization mode.
func (r *Replica) InitMode() gateway.InitMode { return r.cfg.InitMode }

// Scaling returns the scaling contract.
func (r *Replica) Scaling() ScalingConfig { return r.cfg.Scaling }

// Load is the polled load signal.
func (r *Replica) Load() types.LoadResponse {
	s := r.cfg.Scaling
	resp := types.LoadResponse{
		MaxOngoingRequests:    s.MaxOngoingRequests,
		TargetOngoingRequests: s.TargetOngoingRequests,
		MinReplicas:           s.MinReplicas,
		MaxReplicas:           s.MaxReplicas,
		UpscaleDelaySeconds:   s.UpscaleDelayS,
		DownscaleDelaySeconds: s.DownscaleDelayS,
	}
	if rt, _, err := r.get(); err == nil {
		resp.InFlight = rt.InFlight().Load()
		resp.Draining = rt.Draining()
	}
	return resp
}

// Status builds the detailed snapshot served on /status.
func (r *Replica) Status() types.StatusResponse {
	resp := types.StatusResponse{
		InitMode:       string(r.cfg.InitMode),
		UptimeSeconds:  int64(r.Uptime() / time.Second),
		ServerTimeUnix: time.Now().Unix(),
		Instances:      []types.InstanceStatus{},
	}
	if resp.InitMode == "" {
		resp.InitMode = string(gateway.InitLazy)
	}
	rt, rep, err := r.get()
	if err != nil {
		return resp
	}
	resp.Instances = rep.Instances()
	for _, in := range resp.Instances {
		if in.State == gateway.StateInitializing.String() {
			resp.WarmupsInProgress++
		}
	}
	resp.InFlight = rt.InFlight().Load()
	resp.Draining = rt.Draining()
	return resp
}
