package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/hyperdash/streamhub"
	"github.com/hyperdash/streamhub/internal/auth"
	"github.com/hyperdash/streamhub/internal/config"
	"github.com/hyperdash/streamhub/ws"
)

func main() {
	configPath := flag.String("config", "configs/hub.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("starting hub",
		zap.String("config", *configPath),
		zap.String("listen_addr", cfg.Server.ListenAddr),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub, err := ws.New(ws.Config{
		Addr:        cfg.Server.ListenAddr,
		Verifier:    auth.NewTokenVerifier([]byte(cfg.Auth.JWTSecret)),
		Forwarder:   &logForwarder{logger: logger.Named("upstream")},
		CheckOrigin: ws.Origins(cfg.Server.AllowedOrigins),
		RateLimit: &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           cfg.RateLimit.Enabled,
		},
		QueueSize:    cfg.Connection.SendQueueSize,
		PingInterval: cfg.Connection.PingInterval,
		ReadTimeout:  cfg.Connection.ReadTimeout,
		WriteTimeout: cfg.Connection.WriteTimeout,
		DrainTimeout: cfg.Connection.DrainTimeout,
		Logger:       logger,
		PromRegistry: registry,
	})
	if err != nil {
		logger.Fatal("failed to build hub", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := hub.Start(ctx); err != nil {
		logger.Fatal("failed to start hub", zap.Error(err))
	}

	opsServer := startOpsServer(cfg.Metrics, registry, hub, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := hub.Stop(shutdownCtx); err != nil {
		logger.Error("hub shutdown failed", zap.Error(err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown failed", zap.Error(err))
	}

	logger.Info("stopped")
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// startOpsServer exposes the prometheus registry and a health endpoint
// serving the hub snapshot as JSON.
func startOpsServer(cfg config.MetricsConfig, registry *prometheus.Registry, hub streamhub.Hub, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		response := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"hub":       hub.Snapshot(),
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Warn("healthz encode failed", zap.Error(err))
		}
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Info("ops endpoint listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("metrics_path", cfg.Path),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server failed", zap.Error(err))
			os.Exit(1)
		}
	}()
	return server
}

// logForwarder stands in for the upstream service mesh: every forwarded
// frame is logged with its destination. Deployments bridge this interface to
// their own transport.
type logForwarder struct {
	logger *zap.Logger
}

func (f *logForwarder) Forward(ctx context.Context, service string, frame streamhub.Frame) error {
	f.logger.Info("forwarding message",
		zap.String("service", service),
		zap.String("type", frame.Type),
	)
	return nil
}
