package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"healthcare-gateway/gateway"
	"healthcare-gateway/health"
	"healthcare-gateway/metrics"
	"healthcare-gateway/middleware/auth"
	"healthcare-gateway/middleware/ratelimit"
	"healthcare-gateway/middleware/ratelimit/domain"
	"healthcare-gateway/middleware/ratelimit/infra"
	"healthcare-gateway/proxy"
	"healthcare-gateway/wsrelay"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is the assembled gateway plus whatever must be released on shutdown.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config, log *zap.Logger) (*app, error) {
	a := &app{}

	routes, err := proxy.ParseRoutes(cfg.routes)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(cfg.secretKey, cfg.algorithm)
	if err != nil {
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.metricsEnabled {
		collector = metrics.NewCollector()
	}

	var rl *ratelimit.Options
	if cfg.rateEnabled {
		store, err := newLimiterStore(ctx, cfg, a)
		if err != nil {
			a.close()
			return nil, err
		}
		stats, err := newStatsStore(ctx, cfg, a, collector)
		if err != nil {
			a.close()
			return nil, err
		}
		rl = &ratelimit.Options{
			Store:               store,
			Stats:               stats,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
			Logger:              log,
		}
	}

	opts := gateway.Options{
		ServiceName: cfg.serviceName,
		Logger:      log,
		Metrics:     collector,
		Verifier:    verifier,
		RateLimit:   rl,
		Concurrency: ratelimit.ConcurrencyOptions{
			Max:            cfg.concurrencyMax,
			AcquireTimeout: cfg.concurrencyTimeout,
			Logger:         log,
			Recorder:       collector,
		},
		Dispatcher: proxy.NewDispatcher(routes,
			proxy.WithTimeout(cfg.proxyTimeout),
			proxy.WithLogger(log.Named("proxy")),
			proxy.WithErrorRecorder(collector),
		),
		Health: health.NewChecker(cfg.serviceName, routes,
			health.WithTimeout(cfg.healthTimeout),
			health.WithUpRecorder(collector),
			health.WithLogger(log.Named("health")),
		),
	}
	if notif, ok := routes.Lookup("notifications"); ok {
		opts.Relay = wsrelay.New(wsrelay.Options{
			Verifier:       verifier,
			Downstream:     notif,
			OriginPatterns: cfg.wsAllowedOrigins,
			IdleTimeout:    cfg.wsIdleTimeout,
			ReadLimit:      cfg.wsReadLimit,
			Logger:         log,
			Metrics:        collector,
		})
	} else {
		log.Warn("no notifications route configured, websocket relay disabled")
	}

	a.handler = gateway.NewRouter(opts)
	return a, nil
}

func newLimiterStore(ctx context.Context, cfg config, a *app) (domain.LimiterStore, error) {
	rule := domain.Rule{Requests: cfg.rateRequests, Window: cfg.rateWindow}

	if cfg.rateStore == "redis" {
		rdb, err := dialRedis(ctx, cfg.redisAddr, cfg.redisPassword, cfg.redisDB, a)
		if err != nil {
			return nil, fmt.Errorf("rate limit redis: %w", err)
		}
		return infra.NewRedisWindowStore(rdb, rule, infra.WithWindowPrefix(cfg.rateRedisPrefix)), nil
	}

	if cfg.rateAlgorithm == "token_bucket" {
		var opts []infra.BucketOption
		if cfg.rateIdleTTL > 0 {
			opts = append(opts, infra.WithIdleTTL(cfg.rateIdleTTL))
		}
		store := infra.NewBucketStoreForRule(rule, opts...)
		store.StartJanitor(ctx)
		return store, nil
	}

	store := infra.NewSlidingWindowStore(rule, infra.WithWindowIdleTTL(cfg.rateIdleTTL))
	store.StartJanitor(ctx)
	return store, nil
}

func newStatsStore(ctx context.Context, cfg config, a *app, collector *metrics.Collector) (domain.StatsStore, error) {
	var sinks []domain.StatsStore
	if collector != nil {
		sinks = append(sinks, collector)
	}

	if cfg.rateStatsEnabled {
		switch cfg.rateStatsStore {
		case "memory":
			sinks = append(sinks, infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.rateStatsTrackKeys)))
		case "redis":
			rdb, err := dialRedis(ctx, cfg.rateStatsRedisAddr, cfg.rateStatsRedisPassword, cfg.rateStatsRedisDB, a)
			if err != nil {
				return nil, fmt.Errorf("rate stats redis: %w", err)
			}
			sinks = append(sinks, infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.rateStatsPrefix),
				infra.WithStatsTTL(cfg.rateStatsTTL),
				infra.WithStatsBucket(cfg.rateStatsBucket),
				infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
			))
		}
	}
	return infra.FanoutStats(sinks...), nil
}

func dialRedis(ctx context.Context, addr, password string, db int, a *app) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}
