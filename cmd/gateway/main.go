package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.logLevel, cfg.logFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.secretKey == defaultSecret {
		logger.Warn("SECRET_KEY is the built-in default; set it before deploying")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("gateway setup failed", zap.Error(err))
	}
	defer a.close()

	// no WriteTimeout: proxied calls carry their own deadline and relayed
	// websockets stay open indefinitely
	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("service", cfg.serviceName),
		zap.Any("routes", cfg.routes))
	logger.Info("rate limiting",
		zap.Bool("enabled", cfg.rateEnabled),
		zap.String("algorithm", cfg.rateAlgorithm),
		zap.String("store", cfg.rateStore),
		zap.Int("requests", cfg.rateRequests),
		zap.Duration("window", cfg.rateWindow),
		zap.Duration("idle_ttl", cfg.rateIdleTTL),
		zap.Bool("stats", cfg.rateStatsEnabled))
	logger.Info("limits",
		zap.Int("concurrency_max", cfg.concurrencyMax),
		zap.Duration("proxy_timeout", cfg.proxyTimeout),
		zap.Duration("ws_idle_timeout", cfg.wsIdleTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
