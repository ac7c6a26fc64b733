/**
 * @description
 * This is the main entry point for the event-service. It loads configuration, builds the
 * logger and metrics registry, connects the stock ledger (PostgreSQL or in-memory), the
 * shared fast-access store (Redis) and the message broker (RabbitMQ), wires them into the
 * allocation engine and serves the HTTP API until a shutdown signal arrives.
 *
 * @dependencies
 * - github.com/spf13/pflag, github.com/joho/godotenv: Command line flags and .env loading.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Admission limiter, traffic policy and reward statistics.
 * - github.com/prometheus/client_golang: Metrics registry.
 * - golang.org/x/sync/errgroup: Lifecycle of the HTTP server and queue consumers.
 * - internal/api, internal/app, internal/config, internal/store, pkg/rabbitmq.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/transfa/event-service/internal/api"
	"github.com/transfa/event-service/internal/app"
	"github.com/transfa/event-service/internal/config"
	"github.com/transfa/event-service/internal/logging"
	"github.com/transfa/event-service/internal/metrics"
	"github.com/transfa/event-service/internal/store"
	rmrabbit "github.com/transfa/event-service/pkg/rabbitmq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	envDir := pflag.String("env-dir", ".", "directory holding the optional .env file")
	migrate := pflag.Bool("migrate", false, "apply the database schema before serving")
	pflag.Parse()

	// A missing .env file is normal outside local development.
	_ = godotenv.Load(fmt.Sprintf("%s/.env", *envDir))

	cfg, err := config.LoadConfig(*envDir)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"logger init failed\" err=%v", err)
	}
	defer func() { _ = logger.Sync() }()
	bootLog := logging.Component(logger, "bootstrap")

	if err := run(cfg, *migrate, logger); err != nil {
		bootLog.Fatal("event-service stopped", zap.Error(err))
	}
	bootLog.Info("shutdown complete")
}

func run(cfg config.Config, migrate bool, logger *zap.Logger) error {
	bootLog := logging.Component(logger, "bootstrap")
	bootLog.Info("starting event-service",
		zap.String("port", cfg.ServerPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("apply_mode", cfg.ApplyMode),
	)
	if cfg.InternalAPIKey == "" {
		bootLog.Warn("internal api key not configured; admin routes are unauthenticated", zap.String("env", "INTERNAL_API_KEY"))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serviceMetrics := metrics.New(registry, cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repository, closeStore, err := openRepository(ctx, cfg, migrate || cfg.AutoMigrate, bootLog)
	if err != nil {
		return err
	}
	defer closeStore()

	keys := app.NewKeyspace(cfg.RedisKeyPrefix)
	redisClient := openRedis(cfg.RedisURL, bootLog)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var stats app.RewardStatsStore
	if redisClient != nil {
		stats = app.NewRedisRewardStats(redisClient, keys)
	}
	rewards, err := app.NewRewardAllocator(serviceMetrics, app.DefaultRewardStrategies(stats, logging.Component(logger, "reward"), serviceMetrics)...)
	if err != nil {
		return fmt.Errorf("reward allocator: %w", err)
	}

	eventService := app.NewService(repository, rewards, keys, logging.Component(logger, "allocation"))
	eventService.Configure(app.Settings{
		FirstComeDefaultLimit: cfg.FirstComeDefaultLimit,
		RaffleDefaultLimit:    cfg.RaffleDefaultLimit,
		DrawPageSize:          cfg.DrawPageSize,
		CommitChunkSize:       cfg.DrawCommitChunkSize,
		SyncFirstCome:         cfg.ApplyMode == config.ApplyModeSync,
	})
	eventService.SetMetrics(serviceMetrics)

	policyCache := app.NewRewardPolicyCache(repository, cfg.RewardPolicyCacheTTL())
	policyCache.Start()
	defer policyCache.Stop()
	eventService.SetRewardPolicyCache(policyCache)

	if redisClient != nil {
		eventService.SetAdmissionLimiter(app.NewRedisAdmissionLimiter(redisClient, cfg.AdmissionWindow()))
		eventService.SetTrafficPolicy(app.NewRedisTrafficPolicy(redisClient, keys))
	} else {
		bootLog.Warn("redis not configured; admission limiting and high-traffic routing disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RabbitMQURL == "" {
		bootLog.Warn("rabbitmq url missing; applications are allocated inline", zap.String("env", "RABBITMQ_URL"))
	} else {
		producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logging.Component(logger, "producer"))
		if err != nil {
			bootLog.Warn("rabbitmq producer unavailable; applications are allocated inline", zap.Error(err))
		} else {
			defer producer.Close()
			eventService.SetQueueBridge(app.NewQueueBridge(producer, app.QueueTopology{
				Exchange:         cfg.EventExchange,
				ApplyRoutingKey:  cfg.ApplyRoutingKey,
				RaffleRoutingKey: cfg.RaffleRoutingKey,
				WinnerRoutingKey: cfg.WinnerRoutingKey,
			}))
			bootLog.Info("rabbitmq producer connected")
		}

		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL,
			rmrabbit.WithLogger(logging.Component(logger, "consumer")),
			rmrabbit.WithPrefetch(cfg.ConsumerPrefetch),
			rmrabbit.WithRetryPolicy(rmrabbit.RetryPolicy{
				MaxAttempts: cfg.ConsumerMaxAttempts,
				Backoff:     cfg.ConsumerRetryBackoff(),
			}),
			rmrabbit.WithResultHook(serviceMetrics.ConsumerMessage),
		)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer init: %w", err)
		}
		defer consumer.Close()

		entries := eventService.EntryConsumer()
		if err := consumer.ConsumeWithBindings(gctx, cfg.EventExchange, cfg.ApplyQueue, map[string]rmrabbit.Handler{
			cfg.ApplyRoutingKey: entries.HandleApply,
		}); err != nil {
			return fmt.Errorf("apply consumer start: %w", err)
		}
		if err := consumer.ConsumeWithBindings(gctx, cfg.EventExchange, cfg.RaffleQueue, map[string]rmrabbit.Handler{
			cfg.RaffleRoutingKey: entries.HandleRaffle,
		}); err != nil {
			return fmt.Errorf("raffle consumer start: %w", err)
		}
		bootLog.Info("queue consumers started", zap.String("apply_queue", cfg.ApplyQueue), zap.String("raffle_queue", cfg.RaffleQueue))
	}

	if cfg.DrawJobSchedule != "" {
		scheduler := app.NewDrawScheduler(eventService, cfg.DrawJobSchedule, logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	handlers := api.NewEventHandlers(eventService, logging.Component(logger, "http"))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.EventRoutes(handlers, cfg.InternalAPIKey, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		bootLog.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		bootLog.Info("shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openRepository(ctx context.Context, cfg config.Config, migrate bool, bootLog *zap.Logger) (store.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		bootLog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryRepository(), func() {}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database url parse: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to stay compatible with poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("database connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	bootLog.Info("database connected", zap.Int32("max_conns", cfg.DBMaxConns))

	if migrate {
		if err := store.ApplySchema(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		bootLog.Info("database schema applied")
	}
	return store.NewPostgresRepository(dbpool), dbpool.Close, nil
}

// openRedis returns nil only when redis is not configured. A failed ping at
// boot keeps the client: go-redis reconnects on its own and callers already
// fail open per request while the store is down.
func openRedis(redisURL string, bootLog *zap.Logger) *redis.Client {
	if redisURL == "" {
		bootLog.Warn("redis url missing", zap.String("env", "REDIS_URL"))
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		bootLog.Warn("redis url parse failed", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		bootLog.Warn("redis ping failed; continuing and relying on reconnect", zap.Error(err))
		return client
	}
	bootLog.Info("redis connected")
	return client
}
