package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Tyrowin/chathub/internal/auth"
	"github.com/Tyrowin/chathub/internal/config"
	"github.com/Tyrowin/chathub/internal/hub"
	"github.com/Tyrowin/chathub/internal/logging"
	"github.com/Tyrowin/chathub/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file; empty uses defaults and CHAT_* environment variables")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *configPath, logger, level); err != nil {
		logger.Error("chat server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) error {
	logger.Info("starting chat server",
		zap.String("port", cfg.Server.Port),
		zap.String("config", configPath),
		zap.Strings("allowed_origins", cfg.Server.AllowedOrigins),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := hub.NewHub(cfg.HubOptions(), logger.Named("hub"), hub.NewMetrics(reg))
	go h.Run()

	var verifier auth.Verifier
	if cfg.Auth.Disabled {
		logger.Warn("authentication is disabled; identities are taken from request headers")
		verifier = auth.Static{}
	} else {
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	}

	srv := server.New(cfg, server.Deps{
		Hub:      h,
		Verifier: verifier,
		Logger:   logger.Named("http"),
		Gatherer: reg,
	})
	httpServer := server.CreateServer(cfg.Server, srv.Router())

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				if err := logging.SetLevel(level, next.Server.LogLevel); err != nil {
					logger.Warn("ignoring log level from reloaded config", zap.Error(err))
				}
				srv.Reload(next)
			})
			if err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer, logger)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("HTTP server failed", zap.Error(runErr))
		}
	}

	// Stop accepting upgrades first so no client registers after the hub
	// begins draining.
	if err := server.ShutdownServer(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil && runErr == nil {
		runErr = err
	}
	if err := h.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("hub shutdown incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("chat server stopped")
	return runErr
}
