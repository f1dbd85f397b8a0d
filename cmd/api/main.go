package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"papertrade/internal/auth"
	"papertrade/internal/config"
	"papertrade/internal/db"
	"papertrade/internal/events"
	"papertrade/internal/health"
	"papertrade/internal/httpserver"
	"papertrade/internal/logging"
	"papertrade/internal/metrics"
	"papertrade/internal/orders"
	"papertrade/internal/portfolio"
	"papertrade/internal/quotes"
	"papertrade/internal/settlement"
	"papertrade/internal/store"
	"papertrade/internal/store/memory"
	"papertrade/internal/store/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

type backend interface {
	store.Store
	store.UserStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "papertrade-api", cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var (
		st     backend
		pinger health.Pinger
	)
	switch cfg.Store {
	case config.StoreMemory:
		st = memory.New()
		logger.Warn("using in-memory store, state is lost on restart")
	default:
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("connect database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate database", "error", err)
			os.Exit(1)
		}
		st = postgres.New(pool, logger, cfg.MaxRetries)
		pinger = pool
	}

	var gateway quotes.Gateway = quotes.NewHTTPProvider(cfg.QuoteBaseURL, cfg.QuoteTimeout, logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, quotes will bypass the cache until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		gateway = quotes.NewRedisCache(rdb, gateway, cfg.QuoteCacheTTL, logger, m)
	}

	bus := events.NewBus()
	var sink events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			logger.Error("connect kafka", "brokers", cfg.KafkaBrokers, "error", err)
			os.Exit(1)
		}
		defer kp.Close()
		sink = kp
	}
	dispatcher := events.NewDispatcher(bus, sink, logger, m)
	defer dispatcher.Close()

	engine := settlement.New(st, gateway, dispatcher, logger, m, settlement.Options{
		AutoReduce: cfg.AutoReduce,
		MinShares:  cfg.MinShares,
		Currency:   cfg.Currency,
	})

	authSvc := auth.NewService(st, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL, cfg.StartBalance)
	portfolioSvc := portfolio.NewService(st, gateway, cfg.Currency, logger)

	limiter := httpserver.NewRateLimiter(20, 40)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(10 * time.Minute)
			}
		}
	}()

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:      auth.NewHandler(authSvc),
		OrderHandler:     orders.NewHandler(engine),
		PortfolioHandler: portfolio.NewHandler(portfolioSvc),
		HealthHandler:    health.NewHandler(pinger, cfg.Store, time.Now()),
		AuthService:      authSvc,
		WSHandler:        httpserver.NewWSHandler(bus, authSvc, cfg.WebSocketOrigin, logger),
		MetricsHandler:   metrics.Handler(registry),
		RateLimiter:      limiter,
		Metrics:          m,
		Logger:           logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("server listening", "addr", cfg.HTTPAddr, "store", cfg.Store, "auto_reduce", cfg.AutoReduce)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
