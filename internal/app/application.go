// Package app собирает сервис из компонентов и управляет их жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/adapters/chat"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/mail"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/objectstore"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/paylink"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/portal"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/render"
	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
	"github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/httpapi"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
	"github.com/vladislavdragonenkov/orderflow/internal/service/ingestion"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/orderflow/internal/service/notify"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderflow/internal/service/statussync"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderflow/internal/storage/postgres"
	"github.com/vladislavdragonenkov/orderflow/internal/tenant"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

// Repositories: хранилища, общие для всех компонентов.
type Repositories struct {
	Orders      domain.OrderRepository
	Customers   domain.CustomerRepository
	APIKeys     domain.APIKeyRepository
	FailedSyncs domain.FailedSyncRepository
	Outbox      domain.OutboxRepository
}

// Application владеет шиной событий и всеми компонентами. Подписчики шины
// подключаются только здесь.
type Application struct {
	cfg     Config
	logger  *log.Entry
	metrics *metrics.LifecycleMetrics

	Bus   *events.Bus
	Repos Repositories

	Queue      *queue.Queue
	Pool       *queue.Pool
	janitor    *queue.Janitor
	Controller *lifecycle.Controller
	Gateway    *ingestion.Gateway
	Tenants    *tenant.Resolver
	Sync       *statussync.Service

	outboxWorker *outbox.Worker
	consumer     *kafka.Consumer
	health       *health.Handler
	router       *gin.Engine

	closers []func() error
}

// New собирает приложение. При ошибке уже открытые ресурсы закрываются.
func New(ctx context.Context, cfg Config, logger *log.Entry) (*Application, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewLifecycleMetrics(),
		health:  health.NewHandler(version.GetVersion()),
	}
	a.Bus = events.NewBus(logger.WithField("component", "event-bus"), a.metrics)

	steps := []func(context.Context) error{
		a.initStorage,
		a.seedAPIKeys,
		a.initQueue,
		a.initServices,
		a.initNotifications,
		a.initKafka,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.router = httpapi.NewRouter(httpapi.Dependencies{
		Lifecycle:   a.Controller,
		Ingestor:    a.Gateway,
		Queue:       a.Queue,
		FailedSyncs: a.Repos.FailedSyncs,
		Tenants:     a.Tenants,
		Logger:      logger.WithField("component", "http"),
	})
	return a, nil
}

func (a *Application) initStorage(ctx context.Context) error {
	switch a.cfg.StorageDriver {
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, a.cfg.PostgresDSN, postgres.WithMaxOpenConns(a.cfg.PostgresMaxConns))
		if err != nil {
			return err
		}
		a.onClose(store.Close)
		if a.cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
		}
		a.Repos = Repositories{
			Orders:      postgres.NewOrderRepository(store),
			Customers:   postgres.NewCustomerRepository(store),
			APIKeys:     postgres.NewAPIKeyRepository(store),
			FailedSyncs: postgres.NewFailedSyncRepository(store),
			Outbox:      postgres.NewOutboxRepository(store),
		}
		a.health.Register("postgres", health.NewChecker("postgres", store.Ping))
	case StorageDriverMemory:
		a.Repos = Repositories{
			Orders:      memory.NewOrderRepository(),
			Customers:   memory.NewCustomerRepository(),
			APIKeys:     memory.NewAPIKeyRepository(),
			FailedSyncs: memory.NewFailedSyncRepository(),
			Outbox:      memory.NewOutboxRepository(),
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", a.cfg.StorageDriver)
	}
	a.logger.WithField("driver", a.cfg.StorageDriver).Info("storage initialized")
	return nil
}

// seedAPIKeys заводит ключи из конфигурации. Сырые ключи не сохраняются, только хеш.
func (a *Application) seedAPIKeys(context.Context) error {
	for raw, tenantID := range a.cfg.APIKeys {
		err := a.Repos.APIKeys.Put(domain.APIKey{
			TenantID:  tenantID,
			KeyHash:   domain.HashAPIKey(raw),
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed api key for %s: %w", tenantID, err)
		}
	}
	if n := len(a.cfg.APIKeys); n > 0 {
		a.logger.WithField("count", n).Info("api keys seeded")
	}
	return nil
}

func (a *Application) initQueue(context.Context) error {
	var backend queue.Backend
	switch a.cfg.QueueDriver {
	case QueueDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.onClose(client.Close)
		redisBackend := queue.NewRedisBackend(client, a.cfg.QueuePrefix)
		a.health.Register("redis", health.NewChecker("redis", redisBackend.Ping))
		backend = redisBackend
	case QueueDriverMemory:
		backend = queue.NewMemoryBackend()
	default:
		return fmt.Errorf("unsupported queue driver %q", a.cfg.QueueDriver)
	}

	a.Queue = queue.New(backend, a.logger.WithField("component", "queue"))
	a.Pool = queue.NewPool(backend,
		queue.WithPoolLogger(a.logger.WithField("component", "queue-pool")),
		queue.WithWorkers(a.cfg.QueueWorkers),
		queue.WithJobTimeout(a.cfg.QueueJobTimeout),
	)
	a.janitor = queue.NewJanitor(backend,
		queue.WithJanitorLogger(a.logger.WithField("component", "queue-janitor")),
		queue.WithJanitorInterval(a.cfg.JanitorInterval),
		queue.WithKeepCompleted(a.cfg.QueueKeepCompleted),
	)
	a.health.Register("queue", health.NewChecker("queue", func(ctx context.Context) error {
		_, err := a.Queue.Stats(ctx)
		return err
	}))
	a.logger.WithField("driver", a.cfg.QueueDriver).Info("job queue initialized")
	return nil
}

func (a *Application) initServices(ctx context.Context) error {
	a.Tenants = tenant.NewResolver(a.cfg.TenantHosts, a.Repos.APIKeys)

	links := a.paymentLinks()
	a.Controller = lifecycle.NewController(a.Repos.Orders, a.Repos.Customers, a.Bus,
		lifecycle.WithLogger(a.logger.WithField("component", "lifecycle")),
		lifecycle.WithMetrics(a.metrics),
		lifecycle.WithPaymentLinks(links, a.cfg.PaymentLinkTimeout),
		lifecycle.WithCurrency(a.cfg.Currency),
	)
	a.Controller.SubscribeAutoInvoice(a.Bus)

	gatewayOpts := []ingestion.Option{
		ingestion.WithLogger(a.logger.WithField("component", "ingestion")),
		ingestion.WithMetrics(a.metrics),
	}
	if a.cfg.Firestore.ProjectID != "" {
		mirror, err := portal.NewFirestoreMirror(ctx, a.cfg.Firestore, a.logger.WithField("component", "portal-mirror"))
		if err != nil {
			return err
		}
		a.onClose(mirror.Close)
		mirror.Subscribe(a.Bus)
		gatewayOpts = append(gatewayOpts, ingestion.WithMirror(mirror, a.cfg.MirrorTimeout))
	}
	a.Gateway = ingestion.NewGateway(a.Tenants, a.Repos.Orders, a.Repos.Customers, a.Bus, gatewayOpts...)

	syncLogger := a.logger.WithField("component", "status-sync")
	breaker := statussync.NewCircuitBreaker(a.cfg.SyncBreakerAt, time.Minute, syncLogger)
	target := statussync.NewHTTPTarget(&http.Client{Timeout: a.cfg.SyncTimeout}, breaker, a.cfg.SyncToken)
	a.Sync = statussync.NewService(a.Repos.Orders, a.Repos.FailedSyncs, target,
		statussync.NewURLResolver(a.cfg.SyncURLs, a.cfg.SyncURL),
		statussync.WithLogger(syncLogger),
		statussync.WithMetrics(a.metrics),
		statussync.WithPushTimeout(a.cfg.SyncTimeout),
		statussync.WithRetryInterval(a.cfg.SyncInterval),
		statussync.WithWorkers(a.cfg.SyncWorkers, 0),
	)
	a.Sync.Subscribe(a.Bus)
	return nil
}

// paymentLinks выбирает провайдера ссылок: Stripe с запасной mock-ссылкой или только mock.
func (a *Application) paymentLinks() domain.PaymentLinkProvider {
	mock := paylink.NewMockLinks(a.cfg.PaymentLinkBase)
	if a.cfg.Stripe.APIKey == "" {
		return mock
	}
	stripeLinks, err := paylink.NewStripeLinks(a.cfg.Stripe)
	if err != nil {
		a.logger.WithError(err).Warn("stripe payment links disabled")
		return mock
	}
	return paylink.NewFallback(stripeLinks, mock, a.logger.WithField("component", "payment-links"))
}

func (a *Application) initNotifications(ctx context.Context) error {
	pdf, err := render.NewPDFRenderer(a.cfg.PDF, a.logger.WithField("component", "pdf-renderer"))
	if err != nil {
		return err
	}
	a.onClose(pdf.Close)

	var storage domain.DocumentStorage = objectstore.NewMemoryStorage(a.cfg.DocumentBaseURL)
	if a.cfg.S3.Bucket != "" {
		s3Storage, err := objectstore.NewS3Storage(ctx, a.cfg.S3)
		if err != nil {
			return err
		}
		storage = s3Storage
	}

	var chatSender domain.ChatSender = chat.NewLogSender(a.logger.WithField("component", "chat"))
	if a.cfg.Chat.Token != "" {
		httpSender, err := chat.NewHTTPSender(a.cfg.Chat, nil)
		if err != nil {
			return err
		}
		chatSender = httpSender
	}

	var emailSender domain.EmailSender = mail.NewLogSender(a.logger.WithField("component", "email"))
	if a.cfg.SMTP.Host != "" {
		smtpSender, err := mail.NewSMTPSender(a.cfg.SMTP)
		if err != nil {
			return err
		}
		emailSender = smtpSender
	}

	opts := []notify.Option{
		notify.WithLogger(a.logger.WithField("component", "notifier")),
		notify.WithReminderDelay(a.cfg.ReminderDelay),
	}
	if a.cfg.ReminderPaymentCheck {
		opts = append(opts, notify.WithPaymentCheck(notify.NewOrderPaymentLookup(a.Repos.Orders)))
	}
	notifier := notify.NewNotifier(pdf, storage, chatSender, emailSender, a.Queue, opts...)
	notifier.Register(a.Pool)
	notify.NewScheduler(a.Queue, a.logger.WithField("component", "notify-scheduler")).Subscribe(a.Bus)
	return nil
}

// initKafka включает outbox-ретранслятор и consumer витрин. Без брокеров события в outbox не пишутся.
func (a *Application) initKafka(context.Context) error {
	if len(a.cfg.KafkaBrokers) == 0 {
		a.logger.Info("kafka is not configured, outbox relay and storefront consumer disabled")
		return nil
	}

	producer, err := kafka.NewProducer(a.cfg.KafkaBrokers, a.cfg.KafkaClientID)
	if err != nil {
		return err
	}
	a.onClose(producer.Close)

	outbox.NewRecorder(a.Repos.Outbox).Subscribe(a.Bus)
	a.outboxWorker = outbox.NewWorker(a.Repos.Outbox, kafka.NewOutboxPublisher(producer, a.cfg.KafkaEventsTopic),
		outbox.WithLogger(a.logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, a.cfg.KafkaDLQTopic)),
		outbox.WithPollInterval(a.cfg.OutboxPollInterval),
		outbox.WithBatchSize(a.cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(a.cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(a.cfg.OutboxRetryDelay),
	)

	consumer, err := kafka.NewConsumer(a.cfg.KafkaBrokers, a.cfg.KafkaGroupID,
		[]string{a.cfg.KafkaStorefrontTopic}, kafka.NewStorefrontHandler(a.Gateway),
		kafka.WithConsumerLogger(a.logger.WithField("component", "kafka-consumer")),
		kafka.WithDeadLetter(producer, a.cfg.KafkaDLQTopic),
		kafka.WithPermanentErrors(ingestion.IsPermanent),
	)
	if err != nil {
		return err
	}
	a.consumer = consumer
	a.health.RegisterOptional("outbox", health.NewChecker("outbox", func(context.Context) error {
		_, err := a.Repos.Outbox.Stats()
		return err
	}))

	a.logger.WithField("brokers", a.cfg.KafkaBrokers).Info("kafka initialized")
	return nil
}

// Handler возвращает HTTP API сервиса.
func (a *Application) Handler() http.Handler {
	return a.router
}

// Health возвращает агрегатор проверок готовности.
func (a *Application) Health() *health.Handler {
	return a.health
}

func (a *Application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close освобождает ресурсы в обратном порядке открытия.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
