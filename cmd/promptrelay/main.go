package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/inflight"
	"github.com/gaspardpetit/promptrelay/internal/logx"
	"github.com/gaspardpetit/promptrelay/internal/metrics"
	"github.com/gaspardpetit/promptrelay/internal/relay"
	"github.com/gaspardpetit/promptrelay/internal/secret"
	"github.com/gaspardpetit/promptrelay/internal/server"
	"github.com/gaspardpetit/promptrelay/internal/serverstate"
	"github.com/gaspardpetit/promptrelay/internal/upstream/openai"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func instanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "promptrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	var cfg config.ServerConfig
	if err := cfg.Load(flag.CommandLine, os.Args[1:]); err != nil {
		logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
	}
	if *showVersion {
		fmt.Printf("promptrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logx.Log.Fatal().Err(err).Msg("invalid configuration")
	}

	provider, err := openai.New(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("configure upstream")
	}
	logx.Log.Info().
		Str("model", provider.Model()).
		Str("api_key", secret.Mask(cfg.OpenAIAPIKey)).
		Dur("timeout", cfg.RequestTimeout).
		Msg("upstream configured")

	if cfg.RedisAddr != "" {
		rs, err := serverstate.NewRedisStore(cfg.RedisAddr, instanceID())
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		serverstate.UseStore(rs)
		logx.Log.Info().Str("key", rs.Key()).Msg("using redis state store")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	endpoint := relay.New(provider, relay.Options{
		Timeout:        cfg.RequestTimeout,
		MaxPromptChars: cfg.MaxPromptChars,
		Model:          provider.Model(),
	})
	counter := &inflight.Counter{}
	handler := server.New(cfg, endpoint, server.Options{Version: version, Registry: reg, Inflight: counter})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if !cfg.MetricsOnAPIPort() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	forceCtx, force := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if serverstate.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				force()
				cancel()
				return
			}
			serverstate.StartDrain()
			logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int64("inflight", counter.Load()).
				Msg("draining; send SIGTERM again to terminate immediately")
			go drain(ctx, cancel, force, counter, cfg.DrainTimeout)
		}
	}()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := shutdown(ctx, forceCtx, srv); err != nil {
			logx.Log.Warn().Err(err).Msg("server shutdown forced")
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := shutdown(ctx, forceCtx, metricsSrv); err != nil {
				logx.Log.Warn().Err(err).Msg("metrics server shutdown forced")
			}
		}()
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	serverstate.SetState(serverstate.StatusReady)
	logx.Log.Info().Int("port", cfg.Port).Str("version", version).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-stopped
	logx.Log.Info().Msg("server stopped")
}

// shutdown stops srv gracefully once stop is done. If force is done before
// open requests finish, remaining connections are closed.
func shutdown(stop, force context.Context, srv *http.Server) error {
	<-stop.Done()
	if err := srv.Shutdown(force); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}

// drain waits for in-flight relay requests, then stops the servers. A
// negative timeout waits indefinitely; an expired timeout forces the stop.
func drain(ctx context.Context, stop, force context.CancelFunc, counter *inflight.Counter, timeout time.Duration) {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if counter.WaitForZero(wctx) {
		logx.Log.Info().Msg("drained")
	} else if ctx.Err() == nil {
		logx.Log.Warn().Int64("inflight", counter.Load()).Msg("drain timeout exceeded; terminating")
		force()
	}
	stop()
}
