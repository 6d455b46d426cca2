// Package app wires configuration, storage, gateways, and the billing
// application layer into one dependency container shared by the API server,
// the worker, and the CLI job commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/queuecast/queuecast/internal/billing/application/commands"
	"github.com/queuecast/queuecast/internal/billing/application/queries"
	"github.com/queuecast/queuecast/internal/billing/application/services"
	billingDomain "github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/queuecast/queuecast/internal/billing/infrastructure/gateway"
	billingPersistence "github.com/queuecast/queuecast/internal/billing/infrastructure/persistence"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
	notifPersistence "github.com/queuecast/queuecast/internal/notifications/infrastructure/persistence"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/database"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/eventbus"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/locking"
	"github.com/queuecast/queuecast/internal/shared/infrastructure/migrations"
	"github.com/queuecast/queuecast/pkg/config"
	"github.com/queuecast/queuecast/pkg/observability"
)

// Container holds every long-lived dependency. Build one per process with
// New and release it with Close.
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Health *observability.HealthRegistry

	pgPool   *pgxpool.Pool
	sqliteDB *sql.DB

	Subscriptions billingDomain.SubscriptionRepository
	Payments      billingDomain.PaymentRepository
	Plans         billingDomain.PlanRepository
	Notifications notifdomain.Repository

	// CardAuth is the primary gateway: it opens checkout sessions and
	// charges stored instruments. HostedPay only reconciles, via webhooks
	// and its redirect callback.
	CardAuth  billingDomain.Gateway
	HostedPay billingDomain.Gateway

	Publisher eventbus.Publisher
	Redis     *redis.Client
	JobLock   *locking.JobLock

	Verifier       *services.PaymentVerifier
	HostedVerifier *services.PaymentVerifier
	Runner         *services.ChargeRunner
	Reminders      *services.ReminderNotifier
	HostedEvents   *services.HostedEventProcessor

	StartTrial      *commands.StartTrialHandler
	Cancel          *commands.RequestCancellationHandler
	Reactivate      *commands.ReactivateHandler
	InitiatePayment *commands.InitiatePaymentHandler
	GetSubscription *queries.GetSubscriptionHandler
}

// New builds the container: opens the store (Postgres or SQLite, detected
// from DATABASE_URL), runs migrations, connects the optional broker and
// Redis, and assembles the application services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}

	if err := c.openStore(ctx); err != nil {
		return nil, err
	}
	c.openPublisher()
	c.openRedis()
	c.buildServices()

	return c, nil
}

func (c *Container) openStore(ctx context.Context) error {
	cfg := c.Config

	switch database.DetectDriver(cfg.DatabaseURL) {
	case database.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
			_ = db.Close()
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		c.sqliteDB = db
		c.Subscriptions = billingPersistence.NewSQLiteSubscriptionRepository(db)
		c.Payments = billingPersistence.NewSQLitePaymentRepository(db)
		c.Plans = billingPersistence.NewSQLitePlanRepository(db)
		c.Notifications = notifPersistence.NewSQLiteNotificationRepository(db)
		c.Health.Register("database", observability.DatabaseHealthChecker(db.PingContext))
		c.Logger.Info("using sqlite store", "path", cfg.DatabaseURL)

	default:
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL, 0)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return fmt.Errorf("migrate postgres: %w", err)
		}
		c.pgPool = pool
		c.Subscriptions = billingPersistence.NewPostgresSubscriptionRepository(pool)
		c.Payments = billingPersistence.NewPostgresPaymentRepository(pool)
		c.Plans = billingPersistence.NewPostgresPlanRepository(pool)
		c.Notifications = notifPersistence.NewPostgresNotificationRepository(pool)
		c.Health.Register("database", observability.DatabaseHealthChecker(pool.Ping))
		c.Logger.Info("using postgres store")
	}

	return nil
}

// openPublisher connects RabbitMQ when configured. Event delivery is best
// effort, so a broker outage degrades to the noop publisher instead of
// failing startup.
func (c *Container) openPublisher() {
	if c.Config.RabbitMQURL == "" {
		c.Publisher = eventbus.NewNoopPublisher(c.Logger)
		return
	}

	publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
	if err != nil {
		c.Logger.Warn("rabbitmq unavailable, billing events will be dropped", "error", err)
		c.Publisher = eventbus.NewNoopPublisher(c.Logger)
		return
	}
	c.Publisher = publisher
}

// openRedis connects the cron-lock client when configured. Without Redis the
// worker still runs; overlapping replicas are then only protected by payment
// idempotency.
func (c *Container) openRedis() {
	if c.Config.RedisURL == "" {
		return
	}

	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		c.Logger.Warn("invalid REDIS_URL, cron locking disabled", "error", err)
		return
	}

	c.Redis = redis.NewClient(opt)
	c.JobLock = locking.NewJobLock(c.Redis, c.Config.CronLockTTL)
	c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
		return c.Redis.Ping(ctx).Err()
	}))
}

func (c *Container) buildServices() {
	cfg := c.Config
	logger := c.Logger

	c.CardAuth = gateway.NewCardAuthGateway(cfg.CardAuthBaseURL, cfg.CardAuthSecretKey, logger)
	c.HostedPay = gateway.NewHostedPayGateway(
		cfg.HostedPayBaseURL, cfg.HostedPaySecretKey,
		cfg.HostedPaySuccessURL, cfg.HostedPayCancelURL, logger)

	c.Verifier = services.NewPaymentVerifier(
		c.Payments, c.Subscriptions, c.Plans, c.Notifications, c.CardAuth, c.Publisher, logger)
	c.HostedVerifier = services.NewPaymentVerifier(
		c.Payments, c.Subscriptions, c.Plans, c.Notifications, c.HostedPay, c.Publisher, logger)
	c.Runner = services.NewChargeRunner(
		c.Subscriptions, c.Payments, c.Plans, c.Notifications, c.CardAuth, c.Publisher, logger).
		WithChargeTimeout(cfg.ChargeTimeout)
	c.Reminders = services.NewReminderNotifier(c.Subscriptions, c.Notifications, logger)
	c.HostedEvents = services.NewHostedEventProcessor(
		c.Subscriptions, c.Payments, c.Notifications, c.Publisher, logger)

	c.StartTrial = commands.NewStartTrialHandler(c.Subscriptions, c.Plans, c.Notifications, c.Publisher, logger)
	c.Cancel = commands.NewRequestCancellationHandler(c.Subscriptions, c.Notifications, c.Publisher, logger)
	c.Reactivate = commands.NewReactivateHandler(c.Subscriptions, c.Notifications, c.Publisher, logger)
	c.InitiatePayment = commands.NewInitiatePaymentHandler(c.Payments, c.Plans, c.CardAuth, logger)
	c.GetSubscription = queries.NewGetSubscriptionHandler(c.Subscriptions)
}

// Close releases every held connection.
func (c *Container) Close() {
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			c.Logger.Warn("failed to close publisher", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", "error", err)
		}
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	if c.sqliteDB != nil {
		if err := c.sqliteDB.Close(); err != nil {
			c.Logger.Warn("failed to close sqlite store", "error", err)
		}
	}
}
