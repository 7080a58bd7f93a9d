package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gatewayd/internal/catalog"
	"gatewayd/internal/config"
	"gatewayd/internal/gateway"
	"gatewayd/internal/httpapi"
	"gatewayd/internal/logging"
	"gatewayd/internal/orchestrator"
	"gatewayd/pkg/types"
)

// serveFlags maps viper keys (and GATEWAYD_<KEY> env vars) to flag names.
var serveFlags = map[string]string{
	"config":               "config",
	"addr":                 "addr",
	"log_level":            "log-level",
	"log_file":             "log-file",
	"log_pretty":           "log-pretty",
	"models_dir":           "models-dir",
	"default_model":        "default-model",
	"init_mode":            "init-mode",
	"init_timeout_s":       "init-timeout-s",
	"request_timeout_s":    "request-timeout-s",
	"drain_timeout_s":      "drain-timeout-s",
	"max_body_bytes":       "max-body-bytes",
	"max_ongoing_requests": "max-ongoing-requests",
	"cors_origins":         "cors-origins",
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Start the gateway. Configuration comes from an optional YAML, JSON or TOML
file; flags and GATEWAYD_* environment variables override file values.

Examples:
  gatewayd serve --config gatewayd.yaml
  gatewayd serve --models-dir ~/models/llm --default-model qwen2.5-0.5b
  GATEWAYD_INIT_MODE=eager gatewayd serve --config gatewayd.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, nil)
		},
	}
	f := cmd.Flags()
	f.StringP("config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	f.String("addr", config.DefaultAddr, "HTTP listen address, e.g. :8080")
	f.String("log-level", config.DefaultLogLevel, "Log level: trace|debug|info|warn|error")
	f.String("log-file", "", "Write logs to a rotating file instead of stderr")
	f.Bool("log-pretty", false, "Human-readable console logs")
	f.String("models-dir", "", "Directory to scan for *.gguf model files (llama engines)")
	f.String("default-model", "", "Default model id when a request omits model")
	f.String("init-mode", string(gateway.InitLazy), "Engine initialization: lazy|eager")
	f.Float64("init-timeout-s", config.DefaultInitTimeoutS, "Upper bound of one engine initialization")
	f.Float64("request-timeout-s", 0, "Upper bound of one chat completion (0 = none)")
	f.Float64("drain-timeout-s", config.DefaultDrainTimeoutS, "Time to wait for in-flight requests on shutdown")
	f.Int64("max-body-bytes", config.DefaultMaxBodyBytes, "Maximum request body size")
	f.Int("max-ongoing-requests", 0, "Per-replica admission limit (overrides scaling.max_ongoing_requests)")
	f.String("cors-origins", "", "Comma separated allowed CORS origins; enables CORS")
	for key, name := range serveFlags {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
	return cmd
}

// resolveConfig loads the config file (if any), applies flag and env
// overrides, fills defaults and validates.
func resolveConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if path := v.GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if v.IsSet("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("log_file") {
		cfg.LogFile = v.GetString("log_file")
	}
	if v.IsSet("log_pretty") {
		cfg.LogPretty = v.GetBool("log_pretty")
	}
	if v.IsSet("models_dir") {
		cfg.ModelsDir = v.GetString("models_dir")
	}
	if v.IsSet("default_model") {
		cfg.DefaultModel = v.GetString("default_model")
	}
	if v.IsSet("init_mode") {
		cfg.InitMode = v.GetString("init_mode")
	}
	if v.IsSet("init_timeout_s") {
		cfg.InitTimeoutS = v.GetFloat64("init_timeout_s")
	}
	if v.IsSet("request_timeout_s") {
		cfg.RequestTimeoutS = v.GetFloat64("request_timeout_s")
	}
	if v.IsSet("drain_timeout_s") {
		cfg.DrainTimeoutS = v.GetFloat64("drain_timeout_s")
	}
	if v.IsSet("max_body_bytes") {
		cfg.MaxBodyBytes = v.GetInt64("max_body_bytes")
	}
	if v.IsSet("cors_origins") {
		if o := splitCSV(v.GetString("cors_origins")); len(o) > 0 {
			cfg.CORS.Enabled = true
			cfg.CORS.Origins = o
		}
	}
	cfg.ApplyDefaults()
	if v.IsSet("max_ongoing_requests") {
		cfg.Scaling.MaxOngoingRequests = v.GetInt("max_ongoing_requests")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// modelSpecs merges configured models with the GGUF files of models_dir.
func modelSpecs(cfg config.Config) ([]types.ModelSpec, error) {
	if cfg.ModelsDir == "" {
		return cfg.Models, nil
	}
	found, err := catalog.LoadDir(cfg.ModelsDir, nil)
	if err != nil {
		return nil, err
	}
	specs := catalog.Merge(cfg.Models, found)
	if len(specs) == 0 {
		return nil, fmt.Errorf("no models configured and none found in %s", cfg.ModelsDir)
	}
	return specs, nil
}

// serve runs the gateway until ctx ends, then drains and shuts down.
// onListen, when set, receives the bound address.
func serve(ctx context.Context, cfg config.Config, onListen func(addr string)) error {
	lg, closer, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSize,
		Pretty:    cfg.LogPretty,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	log.Logger = lg

	specs, err := modelSpecs(cfg)
	if err != nil {
		return err
	}
	mode, err := gateway.ParseInitMode(cfg.InitMode)
	if err != nil {
		return err
	}
	rep, err := orchestrator.NewReplica(orchestrator.Config{
		Models:       specs,
		Scaling:      cfg.Scaling,
		DefaultModel: cfg.DefaultModel,
		InitMode:     mode,
		InitTimeout:  cfg.InitTimeout(),
		ProbeTimeout: cfg.ProbeTimeout(),
		Logger:       &lg,
	})
	if err != nil {
		return err
	}
	if err := rep.Start(ctx); err != nil {
		return err
	}

	// baseCtx outlives ctx so that in-flight requests can finish while the
	// replica drains; it is canceled when the drain deadline passes.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(lg.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeout(cfg.RequestTimeout())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.InitPropagator()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = rep.Stop(context.Background())
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(rep),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", ln.Addr().String()).Int("models", len(specs)).Str("init_mode", string(mode)).Msg("gatewayd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if onListen != nil {
		onListen(ln.Addr().String())
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	return errors.Join(serveErr, shutdown(lg, rep, srv, cancelBase, cfg.DrainTimeout()))
}

// shutdown drains the replica (new requests get 429 while in-flight ones
// finish), then stops the listener. Requests still running at the drain
// deadline are canceled.
func shutdown(lg zerolog.Logger, rep *orchestrator.Replica, srv *http.Server, cancelBase context.CancelFunc, drain time.Duration) error {
	lg.Info().Dur("drain_timeout", drain).Msg("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()
	stop := context.AfterFunc(drainCtx, cancelBase)
	defer stop()

	stopErr := rep.Stop(drainCtx)
	if errors.Is(stopErr, context.DeadlineExceeded) {
		lg.Warn().Msg("drain deadline reached, canceling remaining requests")
	}
	cancelBase()
	shutCtx, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	if err := srv.Shutdown(shutCtx); err != nil {
		lg.Error().Err(err).Msg("graceful shutdown error")
		return errors.Join(stopErr, err)
	}
	return stopErr
}
