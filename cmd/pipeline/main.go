// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/video-pipeline/internal/api"
	"github.com/flyingrobots/video-pipeline/internal/config"
	"github.com/flyingrobots/video-pipeline/internal/dlqanalyzer"
	"github.com/flyingrobots/video-pipeline/internal/eventstream"
	"github.com/flyingrobots/video-pipeline/internal/ingress"
	"github.com/flyingrobots/video-pipeline/internal/media"
	"github.com/flyingrobots/video-pipeline/internal/objectstore"
	"github.com/flyingrobots/video-pipeline/internal/obs"
	"github.com/flyingrobots/video-pipeline/internal/orchestrator"
	"github.com/flyingrobots/video-pipeline/internal/reaper"
	"github.com/flyingrobots/video-pipeline/internal/redisclient"
	"github.com/flyingrobots/video-pipeline/internal/store"
	"github.com/flyingrobots/video-pipeline/internal/worker"
	"github.com/flyingrobots/video-pipeline/internal/workqueue"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool
	var dlqOutDir string
	var dlqMaxItems int
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: api|ingress|orchestrator|worker|dlq-analyzer|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&dlqOutDir, "dlq-out-dir", "incidents", "Directory dlq-analyzer writes incident reports to")
	fs.IntVar(&dlqMaxItems, "dlq-max-items", 1000, "Maximum dead letter messages dlq-analyzer drains per run")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	st, err := store.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", obs.Err(err))
	}
	defer st.Close()

	objects, err := objectstore.NewS3Store(ctx, cfg)
	if err != nil {
		logger.Fatal("object store init failed", obs.Err(err))
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Warn("ensure bucket failed", obs.Err(err))
	}

	queue, err := workqueue.NewFromConfig(ctx, cfg, redisclient.New(cfg))
	if err != nil {
		logger.Fatal("work queue init failed", obs.Err(err))
	}
	defer queue.Close()

	if role != "dlq-analyzer" {
		httpSrv := obs.StartHTTPServer(cfg.Observability.MetricsPort, nil)
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	switch role {
	case "api":
		handler := api.NewHandler(cfg, st, objects, logger)
		runHTTP(ctx, cfg.API.Host, cfg.API.Port, handler.RegisterRoutes, logger)

	case "ingress":
		rdb := redisclient.New(cfg)
		defer rdb.Close()
		stream := eventstream.NewRedisStream(rdb, cfg.EventStream.StreamKey, cfg.EventStream.ConsumerGroup, cfg.EventStream.MaxLen)
		handler := ingress.NewHandler(stream, logger)
		runHTTP(ctx, cfg.API.Host, cfg.API.Port, handler.RegisterRoutes, logger)

	case "orchestrator":
		rdb := redisclient.New(cfg)
		defer rdb.Close()
		stream := eventstream.NewRedisStream(rdb, cfg.EventStream.StreamKey, cfg.EventStream.ConsumerGroup, cfg.EventStream.MaxLen)
		orch := orchestrator.New(stream, st, queue, "orchestrator-0", logger)
		if err := orch.Run(ctx); err != nil {
			logger.Fatal("orchestrator error", obs.Err(err))
		}

	case "worker":
		runWorker(ctx, cfg, queue, st, objects, logger)

	case "dlq-analyzer":
		report, path, err := dlqanalyzer.Run(ctx, queue, dlqOutDir, dlqMaxItems, time.Now(), logger)
		if err != nil {
			logger.Fatal("dlq analyzer error", obs.Err(err))
		}
		logger.Info("dlq_analysis_complete", obs.String("path", path), obs.Int("total_messages", report.TotalMessages))

	case "all":
		rdb := redisclient.New(cfg)
		defer rdb.Close()
		stream := eventstream.NewRedisStream(rdb, cfg.EventStream.StreamKey, cfg.EventStream.ConsumerGroup, cfg.EventStream.MaxLen)

		go func() {
			handler := api.NewHandler(cfg, st, objects, logger)
			router := mux.NewRouter()
			handler.RegisterRoutes(router)
			ingress.NewHandler(stream, logger).RegisterRoutes(router)
			srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port), Handler: router}
			logger.Info("http server listening", obs.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server error", obs.Err(err))
				cancel()
			}
		}()

		orch := orchestrator.New(stream, st, queue, "orchestrator-0", logger)
		go func() {
			if err := orch.Run(ctx); err != nil {
				logger.Error("orchestrator error", obs.Err(err))
				cancel()
			}
		}()

		go reaper.New(cfg, rdb, queue, logger).Run(ctx)

		runWorker(ctx, cfg, queue, st, objects, logger)

	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, cfg *config.Config, queue workqueue.Queue, st store.Store, objects objectstore.Store, logger *zap.Logger) {
	prober := media.NewFFProbe()
	summarizer, err := media.NewFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("summarizer init failed", obs.Err(err))
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()
	stream := eventstream.NewRedisStream(rdb, cfg.EventStream.StreamKey, cfg.EventStream.ConsumerGroup, cfg.EventStream.MaxLen)
	hb := &worker.RedisHeartbeat{Client: rdb}

	if cfg.Queue.Backend == "local" || cfg.Queue.Backend == "" {
		go reaper.New(cfg, rdb, queue, logger).Run(ctx)
	}

	wrk := worker.New(cfg, queue, st, objects, prober, summarizer, stream, hb, logger)
	if err := wrk.Run(ctx); err != nil {
		logger.Fatal("worker error", obs.Err(err))
	}
}

func runHTTP(ctx context.Context, host string, port int, register func(*mux.Router), logger *zap.Logger) {
	router := mux.NewRouter()
	register(router)
	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", host, port), Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("http server listening", obs.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server error", obs.Err(err))
	}
}
