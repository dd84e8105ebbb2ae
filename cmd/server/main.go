package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/audit/sink/jsonl"
	"actiongate/internal/audit/sink/kafka"
	"actiongate/internal/audit/sink/postgres"
	"actiongate/internal/audit/sink/redis"
	"actiongate/internal/audit/sink/sqlite"
	"actiongate/internal/capability/service"
	"actiongate/internal/enforcement"
	"actiongate/internal/integrity"
	"actiongate/internal/platform/config"
	"actiongate/internal/platform/httpserver"
	"actiongate/internal/platform/logger"
	"actiongate/internal/platform/metrics"
	"actiongate/internal/session"
	"actiongate/internal/session/handler"
	id "actiongate/pkg/domain"
)

const (
	shutdownTimeout = 10 * time.Second
	redisStreamLen  = 100_000
)

// main wires one session and its operator surface, then runs the HTTP
// server, the integrity prover and the audit flusher until a signal arrives.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("actiongate stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sinks, err := openSinks(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	flusher := audit.NewFlusher(sinks,
		audit.WithFlushInterval(cfg.Audit.FlushInterval),
		audit.WithMaxBacklog(cfg.Audit.FlushBuffer),
		audit.WithFlushLogger(log),
		audit.WithFlushMetrics(m),
	)
	defer func() {
		if err := flusher.Close(); err != nil {
			log.Error("closing audit sinks", "error", err)
		}
	}()

	sessionID := id.NewSessionID()
	auditLog := audit.NewLog(sessionID.String(), audit.WithLogger(log), audit.WithObserver(flusher))

	challenges := acc.New(auditLog,
		acc.WithTTL(cfg.ACCTTL),
		acc.WithMaxAttempts(cfg.ACCMaxAttempts),
		acc.WithLogger(log),
		acc.WithMetrics(m),
	)
	guard, err := enforcement.NewGuard(enforcement.NewHeadless(enforcement.WithHeadlessLogger(log)),
		enforcement.WithGuardLogger(log))
	if err != nil {
		return err
	}
	authority, err := service.New(auditLog, challenges, guard, service.WithLogger(log), service.WithMetrics(m))
	if err != nil {
		return err
	}
	prover := integrity.New(auditLog, authority,
		integrity.WithHealthSource(flusher),
		integrity.WithInterval(cfg.IntegrityInterval),
		integrity.WithLogger(log),
		integrity.WithMetrics(m),
	)

	opts := []session.Option{
		session.WithID(sessionID),
		session.WithScope(cfg.Scope),
		session.WithTTL(cfg.SessionTTL),
		session.WithHoldThreshold(cfg.HoldThreshold),
		session.WithIdleTimeout(cfg.IdleTimeout),
		session.WithBoundary(session.Boundary{
			File:     cfg.BoundaryFile,
			Tool:     cfg.BoundaryTool,
			Modality: cfg.BoundaryModality,
		}),
		session.WithLogger(log),
		session.WithConfirmationMetrics(m),
	}
	if cfg.Preset != "" {
		presets, err := config.LoadPresets(cfg.PresetsFile)
		if err != nil {
			return err
		}
		entries, err := presets.Lookup(cfg.Preset)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithPreset(session.Preset{Name: cfg.Preset, Entries: entries}))
	}
	sess, err := session.New(ctx, auditLog, authority, challenges, opts...)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler.New(sess, authority, challenges, prover, auditLog, cfg.AdminToken, log).Register(router)
	if cfg.AdminToken == "" {
		log.Warn("ACTIONGATE_ADMIN_TOKEN is empty; operator routes will refuse every request")
	}

	srv := httpserver.New(cfg.Addr, router)
	log.Info("actiongate listening", "addr", cfg.Addr, "session_id", sessionID.String(), "sinks", len(sinks))

	// The flusher outlives the session so the final drain sees SESSION_INACTIVE.
	flushCtx, stopFlush := context.WithCancel(context.WithoutCancel(ctx))
	defer stopFlush()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpserver.Run(gctx, srv, shutdownTimeout) })
	g.Go(func() error { return prover.Run(gctx) })
	g.Go(func() error { return flusher.Run(flushCtx) })
	g.Go(func() error {
		<-gctx.Done()
		sess.End(context.WithoutCancel(gctx), "shutdown")
		stopFlush()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSinks(ctx context.Context, cfg config.Audit) ([]audit.Sink, error) {
	var sinks []audit.Sink
	fail := func(err error) ([]audit.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}

	if cfg.JSONLPath != "" {
		f, err := jsonl.Open(cfg.JSONLPath)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, f)
	}
	if cfg.SQLitePath != "" {
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.PostgresDSN != "" {
		s, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		sinks = append(sinks, redis.New(client, cfg.RedisStream, redisStreamLen))
	}
	if len(cfg.KafkaBroker) > 0 {
		p, err := kafka.New(cfg.KafkaBroker, cfg.KafkaTopic)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, p)
		if err := p.EnsureTopic(ctx, 1, 1); err != nil {
			return fail(err)
		}
	}
	return sinks, nil
}
