package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	resourceshandler "github.com/clearops/clearops-gateway/domains/resources/be/handler"
	resourcesrepo "github.com/clearops/clearops-gateway/domains/resources/be/repo"
	resourcesservice "github.com/clearops/clearops-gateway/domains/resources/be/service"
	webhooksrepo "github.com/clearops/clearops-gateway/domains/webhooks/be/repo"
	webhooksservice "github.com/clearops/clearops-gateway/domains/webhooks/be/service"
	"github.com/clearops/clearops-gateway/platform/go/apikey"
	"github.com/clearops/clearops-gateway/platform/go/egress"
	platformlogging "github.com/clearops/clearops-gateway/platform/go/logging"
	"github.com/clearops/clearops-gateway/platform/go/metrics"
	platformmiddleware "github.com/clearops/clearops-gateway/platform/go/middleware"
	"github.com/clearops/clearops-gateway/platform/go/persistence"
	"github.com/clearops/clearops-gateway/platform/go/quota"
	"github.com/clearops/clearops-gateway/platform/go/usage"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	WebhookTimeout  time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`
	WebhookPoolSize int           `env:"WEBHOOK_POOL_SIZE" envDefault:"32"`
	RetryInterval   time.Duration `env:"RETRY_INTERVAL" envDefault:"30s"`
	RetryBatchSize  int           `env:"RETRY_BATCH_SIZE" envDefault:"50"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "gateway",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	gatewayMetrics := metrics.NewMetrics()

	credentialStore, err := persistence.NewCredentialStore(ctx, pool)
	if err != nil {
		logger.Fatal("init credential store", zap.Error(err))
	}

	usageStore, err := persistence.NewUsageStore(ctx, pool)
	if err != nil {
		logger.Fatal("init usage store", zap.Error(err))
	}

	authenticator := apikey.NewAuthenticator(credentialStore, apikey.SHA256Hasher{}, logger)
	enforcer := quota.NewEnforcer(usageStore)
	recorder := usage.NewRecorder(usageStore, logger)

	webhookRepo, err := webhooksrepo.New(ctx, pool)
	if err != nil {
		logger.Fatal("init webhook repository", zap.Error(err))
	}

	dispatcher, err := webhooksservice.NewDispatcher(webhooksservice.Config{
		Repo:      webhookRepo,
		Guard:     egress.NewGuard(egress.Config{}),
		Sender:    webhooksservice.NewSender(cfg.WebhookTimeout),
		Retrier:   webhooksservice.NewRetrier(nil),
		Logger:    logger,
		PoolSize:  cfg.WebhookPoolSize,
		OnOutcome: gatewayMetrics.RecordDelivery,
	})
	if err != nil {
		logger.Fatal("init webhook dispatcher", zap.Error(err))
	}
	defer dispatcher.Close()

	retryWorker := webhooksservice.NewRetryWorker(webhooksservice.WorkerConfig{
		Repo:       webhookRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
		Interval:   cfg.RetryInterval,
		BatchSize:  cfg.RetryBatchSize,
		OnSweep:    gatewayMetrics.RecordRetrySweep,
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go retryWorker.Run(workerCtx)

	kinds := resourcesservice.Kinds()
	kindTables := make([]resourcesrepo.KindTable, 0, len(kinds))
	for _, kind := range kinds {
		kindTables = append(kindTables, resourcesrepo.KindTable{Kind: kind.Name, TableName: kind.TableName})
	}

	resourceRepo, err := resourcesrepo.New(ctx, pool, kindTables)
	if err != nil {
		logger.Fatal("init resource repository", zap.Error(err))
	}

	resourceService := resourcesservice.New(resourceRepo, persistence.NewSchemaValidator(), dispatcher)
	resourceHandler := resourceshandler.New(resourceService, kinds, logger)

	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)

	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(gatewayMetrics.Middleware)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Ops-only path; /metrics is taken by the resource collection.
	rootRouter.Handle("/internal/metrics", gatewayMetrics.Handler())

	apiRouter := chi.NewRouter()
	// Recorder sits between auth and quota so throttled requests still
	// land in the usage ledger.
	apiRouter.Use(apikey.Middleware(authenticator, gatewayMetrics.RecordAuthFailure, logger))
	apiRouter.Use(recorder.Middleware)
	apiRouter.Use(quota.Middleware(enforcer, gatewayMetrics.RecordRateLimitHit, logger))
	apiRouter.Mount("/", resourceHandler.Routes())

	rootRouter.Mount("/", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting gateway", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
