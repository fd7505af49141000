package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"relay/internal/audit"
	"relay/internal/config"
	"relay/internal/confighandler"
	"relay/internal/constants"
	"relay/internal/dedup"
	"relay/internal/delivery"
	"relay/internal/dispatch"
	"relay/internal/filter"
	"relay/internal/logger"
	"relay/internal/messenger"
	"relay/internal/quiethours"
	"relay/internal/quota"
	"relay/internal/routing"
	"relay/internal/rules"
	"relay/internal/tenant"
	appbootstrap "relay/pkg/bootstrap"
	"relay/pkg/cel"
	"relay/pkg/circuitbreaker"
	"relay/pkg/health"
	"relay/pkg/logging"
	"relay/pkg/metrics"
	"relay/pkg/middleware"
	"relay/pkg/migrations"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

const limiterEvictionInterval = time.Minute

type App struct {
	*appbootstrap.Base
	dbConnector *appbootstrap.DatabaseConnector
	dbReady     bool
	db          *sql.DB
	redis       *redis.Client
	mongoClient *mongo.Client

	breaker    *circuitbreaker.Wrapper
	sender     *messenger.Sender
	dedup      *dedup.Deduplicator
	rulesCache *rules.CachedStore
	dispatcher *dispatch.Dispatcher
	pool       *dispatch.Pool
	sweeper    *quiethours.Sweeper
	health     *health.CheckerRegistry

	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        appbootstrap.NewBase(cfg, log),
		dbConnector: appbootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

// Initialize prepares the long-running service: storage, broker, components, tracing
// and the ops server.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.InitializeCore(ctx); err != nil {
		return err
	}

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterBrokerMetrics()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

// InitializeCore wires storage and the dispatch components without starting anything.
// The one-shot subcommands stop here.
func (a *App) InitializeCore(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if a.db == nil {
		return fmt.Errorf("database.postgres.host is required")
	}

	metrics.RegisterDispatchMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	if err := a.initComponents(ctx); err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	if a.dbReady {
		return nil
	}
	a.dbReady = true

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	if db != nil {
		a.health.Register(health.NewPostgreSQLChecker(db))
	}

	if a.Config.Dedup.Backend == constants.DedupBackendRedis {
		client, err := a.dbConnector.InitRedis(ctx)
		if err != nil {
			return err
		}
		a.redis = client
		a.health.Register(health.NewRedisChecker(client))
	}

	if a.Config.Audit.Backend == constants.AuditBackendMongoDB {
		client, err := a.dbConnector.InitMongoDB(ctx)
		if err != nil {
			return err
		}
		if client == nil {
			return fmt.Errorf("audit.backend mongodb requires database.mongodb.uri")
		}
		a.mongoClient = client
		a.health.Register(health.NewMongoDBChecker(client))
	}
	return nil
}

func (a *App) initComponents(ctx context.Context) error {
	cfg := a.Config
	log := a.Logger

	tenantResolver := tenant.NewResolver(tenant.NewPostgresStore(a.db), log)
	quotaGate := quota.NewGate(quota.NewPostgresStore(a.db), quota.Config{
		WarningPercent:  cfg.Quota.WarningPercent,
		CriticalPercent: cfg.Quota.CriticalPercent,
	}, log)

	var ruleStore rules.Store = rules.NewPostgresStore(a.db)
	if cfg.Rules.CacheTTL > 0 {
		a.rulesCache = rules.NewCachedStore(ruleStore, cfg.Rules.CacheTTL)
		ruleStore = a.rulesCache
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		log.Warnw("CEL evaluator unavailable, expression filters will reject", "error", err)
		evaluator = nil
	}

	sink, err := a.auditSink(ctx)
	if err != nil {
		return err
	}
	recorder := audit.NewRecorder(sink, log)

	dedupStore := dedup.Store(dedup.NewMemoryStore())
	if a.redis != nil {
		dedupStore = dedup.NewRedisStore(a.redis)
	}
	a.dedup = dedup.NewDeduplicator(dedupStore, dedup.Config{
		TTL:           cfg.Dedup.TTL,
		SweepInterval: cfg.Dedup.SweepInterval,
	}, log)

	channels := routing.NewPostgresChannelStore(a.db)

	a.sender = messenger.NewSender(messenger.Config{
		Timeout:       cfg.Messenger.Timeout,
		RatePerSecond: cfg.Messenger.RatePerSecond,
		Burst:         cfg.Messenger.Burst,
		Username:      cfg.Messenger.Username,
	}, log)
	a.breaker = delivery.NewBreaker(cfg.CircuitBreaker, log)
	a.health.Register(health.NewCircuitBreakerChecker(a.breaker))

	var alerter delivery.Alerter = delivery.NewLogAlerter(log)
	if a.Producer != nil {
		topic := cfg.Broker.Kafka.AlertTopic
		if topic == "" {
			topic = constants.DefaultAlertTopic
		}
		alerter = delivery.NewBrokerAlerter(a.Producer, topic, log)
	}

	pipeline := delivery.NewPipeline(a.sender, channels, tenantResolver, a.breaker, alerter, delivery.Config{
		TierTimeout:                   cfg.Delivery.TierTimeout,
		RetryBackoff:                  cfg.Delivery.RetryBackoff,
		SkipEmergencyWithoutAlternate: cfg.Delivery.SkipEmergencyWithoutAlternate,
	}, log)

	queue := quiethours.NewPostgresQueue(a.db)
	quietGate := quiethours.NewGate(quiethours.NewPostgresSettingsStore(a.db), queue, log)
	a.sweeper = quiethours.NewSweeper(queue, pipeline, quotaGate, recorder, quiethours.SweeperConfig{
		BatchSize:     cfg.QuietHours.BatchSize,
		MaxAttempts:   cfg.QuietHours.MaxAttempts,
		MaxAge:        cfg.QuietHours.MaxAge,
		Lease:         cfg.QuietHours.Lease,
		RetryInterval: cfg.QuietHours.RetryInterval,
	}, log)

	a.dispatcher = dispatch.NewDispatcher(dispatch.Deps{
		Dedup:      a.dedup,
		Resolver:   tenantResolver,
		Quota:      quotaGate,
		Matcher:    rules.NewMatcher(ruleStore, log),
		Filters:    filter.NewCompiler(filter.Options{Evaluator: evaluator, Logger: log}),
		Router:     routing.NewRouter(),
		Channels:   channels,
		QuietHours: quietGate,
		Delivery:   pipeline,
		Audit:      recorder,
	}, log)

	a.pool = dispatch.NewPool(a.dispatcher, dispatch.PoolConfig{
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
	}, log)

	return nil
}

func (a *App) auditSink(ctx context.Context) (audit.Sink, error) {
	if a.mongoClient == nil {
		return audit.NewPostgresSink(a.db), nil
	}

	db := a.dbConnector.MongoDatabase(a.mongoClient)
	if err := migrations.EnsureAuditIndexes(ctx, db); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to ensure audit indexes", "error", err)
	}
	return audit.NewMongoSink(db), nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	api := &API{
		pool:       a.pool,
		dispatcher: a.dispatcher,
		breaker:    a.breaker,
		health:     a.health,
		logger:     a.Logger,
	}
	api.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)
	runCtx := logging.WithServiceName(gCtx, constants.ServiceName)

	a.pool.Start(gCtx)
	a.dedup.Start(gCtx)

	g.Go(func() error {
		a.sender.Limiter().StartEviction(gCtx, limiterEvictionInterval)
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(runCtx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if interval := a.Config.QuietHours.SweepInterval; interval > 0 {
		g.Go(func() error {
			a.Logger.InfowCtx(runCtx, "Starting quiet hours sweeper", "interval", interval)
			a.sweeper.Run(gCtx, interval)
			return nil
		})
	}

	if !a.BrokerEnabled() {
		a.Logger.WarnwCtx(runCtx, "Broker disabled, accepting events over HTTP only")
		return g.Wait()
	}

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	g.Go(func() error {
		return a.Consumer.Consume(gCtx, inputTopic, a.pool.HandleEnvelope)
	})

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" && a.rulesCache != nil {
		configConsumer, err := newConfigConsumer(a.Config, a.Logger)
		if err != nil {
			a.Logger.WarnwCtx(runCtx, "Failed to create config event consumer, cache invalidation disabled",
				"error", err,
			)
		} else {
			defer configConsumer.Close()
			handler := confighandler.NewHandler(a.Logger).
				On(models.EventTypeRuleUpdated, a.rulesCache)

			g.Go(func() error {
				a.Logger.InfowCtx(runCtx, "Starting config update event consumer", "topic", topic)
				return configConsumer.Consume(gCtx, topic, handler.HandleConfigUpdateEvent)
			})
		}
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down relay service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.pool != nil {
			a.pool.Stop()
		}
		if a.dedup != nil {
			a.dedup.Stop()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
