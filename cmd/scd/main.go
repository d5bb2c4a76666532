package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gartstein/scd/internal/scd/auth"
	"github.com/gartstein/scd/internal/scd/cache"
	"github.com/gartstein/scd/internal/scd/config"
	"github.com/gartstein/scd/internal/scd/controller"
	"github.com/gartstein/scd/internal/scd/db"
	"github.com/gartstein/scd/internal/scd/events"
	"github.com/gartstein/scd/internal/scd/handlers"
	"github.com/gartstein/scd/internal/scd/metrics"
	"github.com/gartstein/scd/internal/scd/ratelimit"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			logger.Error("failed to sync logger", zap.Error(err))
		}
	}(logger)

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	repo, err := db.NewRepository(cfg.Database(), logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// origin tags the events of this instance so its own consumer skips them.
	origin := uuid.NewString()
	c := initCache(ctx, cfg, logger)
	if c != nil {
		defer c.Close()
	}

	opts := controller.Options{
		Cache:      c,
		TTLs:       cfg.TTLs(),
		EvictAgain: cfg.CacheEvictAgain,
		Retries:    cfg.WriteRetries,
		RetryDelay: cfg.WriteRetryDelay,
		Logger:     logger,
	}
	producer, consumer := initEvents(ctx, cfg, c, origin, logger)
	if producer != nil {
		opts.Producer = producer
		defer producer.Close()
	}
	if consumer != nil {
		defer func() {
			cancel()
			consumer.Close()
		}()
	}
	jobs := controller.NewJobService(repo.Jobs(), opts)
	timelogs := controller.NewTimelogService(repo.Timelogs(), jobs, opts)
	payments := controller.NewPaymentLineItemService(repo.PaymentLineItems(), opts)

	h := handlers.NewHandler(jobs, timelogs, payments, logger)

	limits := ratelimit.NewRegistry(cfg.RateLimits, cfg.DefaultLimit(), logger)
	m := metrics.New()
	for _, l := range limits.Limiters() {
		m.WatchLimiters(l)
	}

	authInterceptor := auth.NewAuthInterceptor(cfg.JWTSecret, h.ProtectedMethods()...)
	server := handlers.NewServer(cfg.GRPCPort, cfg.HTTPPort, logger, grpc.ChainUnaryInterceptor(
		m.Unary(),
		limits.Unary(),
		authInterceptor.Unary(),
	))
	server.RegisterGRPCHandler(h)

	wrap := func(method handlers.Method, next http.Handler) http.Handler {
		if method.Protected {
			next = auth.HTTPMiddleware(next, cfg.JWTSecret)
		}
		next = limits.HTTPMiddleware(next, ratelimit.ServiceName(method.FullMethod()), h.WriteError)
		return m.HTTPMiddleware(next, method.FullMethod())
	}
	if err := server.RegisterHTTPGateway(h, handlers.GatewayOptions{
		Wrap:           wrap,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
	}); err != nil {
		logger.Fatal("Failed to register HTTP gateway", zap.Error(err))
	}
	// Start servers
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start servers", zap.Error(err))
	}

	waitForShutdown(server, logger)
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// initCache connects to redis. A nil cache disables caching.
func initCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) *cache.Cache {
	if cfg.RedisAddr == "" {
		logger.Info("Cache disabled")
		return nil
	}
	c := cache.New(cache.NewClient(cfg.Cache()), cfg.CachePrefix, logger)
	if err := c.Ping(ctx); err != nil {
		logger.Warn("Cache unreachable, reads fall through to the database", zap.Error(err))
	}
	return c
}

// initEvents publishes version events and evicts the cache entries made
// stale by other instances. Both are nil when no brokers are configured.
func initEvents(ctx context.Context, cfg *config.Config, c *cache.Cache, origin string, logger *zap.Logger) (*events.Producer, *events.Consumer) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("Version events disabled")
		return nil, nil
	}
	if err := events.EnsureTopic(cfg.KafkaBrokers, cfg.Topic, cfg.TopicPartitions, logger); err != nil {
		logger.Warn("Failed to ensure topic", zap.String("topic", cfg.Topic), zap.Error(err))
	}
	producer := events.NewProducer(cfg.KafkaBrokers, cfg.Topic, origin, logger)
	if c == nil {
		return producer, nil
	}

	// Every instance reads the whole topic, so each gets its own group.
	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup+"-"+origin, cfg.Topic, logger)
	consumer.RegisterHandler(controller.NewInvalidator(c, cfg.TTLs(), origin, logger))
	consumer.Start(ctx)
	return producer, consumer
}

// waitForShutdown blocks until an interrupt or SIGTERM is received, then shuts down servers.
func waitForShutdown(server *handlers.Server, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	server.Stop()
	logger.Info("Servers stopped properly")
}
