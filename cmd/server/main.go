package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/backend"
	"storefront/internal/backend/memory"
	"storefront/internal/backend/rest"
	"storefront/internal/broker"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/models"
	"storefront/internal/orders"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/storefront"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// backendSet is the data backend the storefronts talk to, plus a privileged
// view for background jobs when one is available.
type backendSet struct {
	client  backend.Client
	service backend.DataService
	check   api.Check
	close   func()
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("backend", cfg.Backend.Kind))

	tp, err := util.InitTracer("storefront", cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	backends, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open backend", zap.Error(err))
	}
	defer backends.close()

	checks := map[string]api.Check{"backend": backends.check}
	var (
		opts       []checkout.Option
		tokens     storefront.TokenStore
		flagger    worker.Flagger
		reconciler api.Reconciler
	)

	if cfg.Redis.Addr != "" {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

		tokens = redisClient
		flagger = redisClient
		reconciler = redisClient
		checks["redis"] = redisClient.Ping
		opts = append(opts, checkout.WithLocker(redisClient, cfg.Business.CheckoutLockTTL))
	} else {
		logger.Warn("Redis disabled, sessions are kept in process")
		tokens = storefront.NewMemoryTokenStore()
	}

	var statusPublisher orders.StatusPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, util.Component("producer"))
		defer producer.Close()
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

		publisher := broker.NewEventPublisher(producer)
		statusPublisher = publisher
		opts = append(opts, checkout.WithPublisher(publisher))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var eventWorker *worker.OrderEventWorker
	if len(cfg.Kafka.Brokers) > 0 && flagger != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup, util.Component("consumer"))
		eventWorker = worker.NewOrderEventWorker(consumer, flagger, util.Component("event-worker"))
		go func() {
			if err := eventWorker.Start(workerCtx); err != nil {
				logger.Error("Order event worker error", zap.Error(err))
			}
		}()
	}

	orderService := orders.NewService(statusPublisher, util.Component("orders"))
	catalogService := catalog.NewService(backends.client, util.Component("catalog"))
	registry := storefront.NewRegistry(backends.client, tokens, cfg.Business.SessionTTL, util.Component("registry"), opts...)

	var sweeper *worker.Sweeper
	if cfg.Business.ReconcileEnabled && flagger != nil && backends.service != nil {
		sweeper = worker.NewSweeper(backends.service, orderService, flagger, cfg.Business.ReconcileGrace, util.Component("sweeper"))
		if err := sweeper.Start(workerCtx, cfg.Business.ReconcileCron); err != nil {
			logger.Fatal("Failed to schedule reconciliation", zap.Error(err))
		}
		logger.Info("Reconciliation scheduled", zap.String("schedule", cfg.Business.ReconcileCron))
	}

	pruner := cron.New()
	if _, err := pruner.AddFunc("@every 10m", func() {
		if n := registry.Prune(); n > 0 {
			logger.Info("Pruned idle storefronts", zap.Int("count", n))
		}
	}); err != nil {
		logger.Fatal("Failed to schedule session pruning", zap.Error(err))
	}
	pruner.Start()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(registry, catalogService, orderService, checks, util.Component("api")).
		WithReconciler(reconciler).
		WithAuthRateLimit(cfg.Server.AuthRatePerSecond, cfg.Server.AuthRateBurst)
	handler.SetupRoutes(router, cfg.CORS.AllowedOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	<-pruner.Stop().Done()
	if sweeper != nil {
		sweeper.Stop()
	}
	workerCancel()
	if eventWorker != nil {
		if err := eventWorker.Stop(); err != nil {
			logger.Warn("Error closing order event consumer", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func openBackend(cfg *config.Config, logger *zap.Logger) (*backendSet, error) {
	switch cfg.Backend.Kind {
	case config.BackendREST:
		client, err := rest.New(rest.Config{
			URL:     cfg.Backend.URL,
			AnonKey: cfg.Backend.AnonKey,
			Timeout: cfg.Backend.Timeout,
		})
		if err != nil {
			return nil, err
		}
		set := &backendSet{
			client: client,
			check:  restCheck(client),
			close:  func() {},
		}
		if cfg.Backend.ServiceKey != "" {
			service, err := rest.New(rest.Config{
				URL:     cfg.Backend.URL,
				AnonKey: cfg.Backend.ServiceKey,
				Timeout: cfg.Backend.Timeout,
			})
			if err != nil {
				return nil, err
			}
			set.service = service
		}
		logger.Info("Remote backend configured", zap.String("url", cfg.Backend.URL))
		return set, nil

	case config.BackendPostgres:
		db, err := store.NewStore(cfg.Database.URL, cfg.Database.JWTSecret, util.Component("store"))
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrateOnBoot {
			if err := db.MigrateUp(); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		logger.Info("Database connected")
		return &backendSet{
			client:  db,
			service: db.Service(),
			check:   db.Ping,
			close:   func() { db.Close() },
		}, nil

	case config.BackendMemory:
		mem := memory.New()
		logger.Warn("Using the in-memory backend, data is lost on exit")
		return &backendSet{
			client:  mem,
			service: mem.Service(),
			check:   func(context.Context) error { return nil },
			close:   func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
}

// restCheck reads a single category anonymously.
func restCheck(client backend.DataService) api.Check {
	return func(ctx context.Context) error {
		var rows []models.Category
		return client.Select(ctx, backend.Query{Table: models.TableCategories, Limit: 1}, &rows)
	}
}
