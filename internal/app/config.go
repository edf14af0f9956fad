package app

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/adapters/chat"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/mail"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/objectstore"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/paylink"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/portal"
	"github.com/vladislavdragonenkov/orderflow/internal/adapters/render"
	"github.com/vladislavdragonenkov/orderflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderflow/internal/tenant"
)

const envPrefix = "ORDERFLOW_"

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы очереди задач.
const (
	QueueDriverMemory = "memory"
	QueueDriverRedis  = "redis"
)

// Config описывает все настройки запуска сервиса.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	MetricsAddr     string
	ShutdownTimeout time.Duration

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	QueueDriver        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	QueuePrefix        string
	QueueWorkers       int
	QueueJobTimeout    time.Duration
	QueueKeepCompleted int
	JanitorInterval    time.Duration

	// ReminderDelay: через сколько после счёта напоминать об оплате.
	ReminderDelay time.Duration
	// ReminderPaymentCheck включает проверку оплаты перед отправкой напоминания.
	ReminderPaymentCheck bool

	KafkaBrokers         []string
	KafkaClientID        string
	KafkaGroupID         string
	KafkaEventsTopic     string
	KafkaStorefrontTopic string
	KafkaDLQTopic        string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	// TenantHosts сопоставляет хост витрины с тенантом.
	TenantHosts map[string]string
	// APIKeys: ключ=тенант, заводятся при старте (локальная разработка, memory-хранилище).
	APIKeys map[string]string

	SyncURL       string
	SyncURLs      map[string]string
	SyncToken     string
	SyncInterval  time.Duration
	SyncTimeout   time.Duration
	SyncWorkers   int
	SyncBreakerAt int

	Currency           string
	PaymentLinkBase    string
	PaymentLinkTimeout time.Duration
	MirrorTimeout      time.Duration
	DocumentBaseURL    string

	Stripe    paylink.StripeConfig
	S3        objectstore.S3Config
	Firestore portal.Config
	Chat      chat.Config
	SMTP      mail.SMTPConfig
	PDF       render.PDFConfig
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 10 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,

		QueueDriver:        QueueDriverMemory,
		RedisAddr:          "localhost:6379",
		QueuePrefix:        "orderflow:queue",
		QueueWorkers:       4,
		QueueJobTimeout:    time.Minute,
		QueueKeepCompleted: 1000,
		JanitorInterval:    30 * time.Second,

		ReminderDelay:        72 * time.Hour,
		ReminderPaymentCheck: true,

		KafkaClientID:        "orderflow",
		KafkaGroupID:         "orderflow-storefront",
		KafkaEventsTopic:     kafka.TopicOrderEvents,
		KafkaStorefrontTopic: kafka.TopicStorefrontOrders,
		KafkaDLQTopic:        kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   200 * time.Millisecond,

		TenantHosts: map[string]string{},
		APIKeys:     map[string]string{},
		SyncURLs:    map[string]string{},

		SyncInterval:  5 * time.Minute,
		SyncTimeout:   10 * time.Second,
		SyncWorkers:   4,
		SyncBreakerAt: 5,

		Currency:           "INR",
		PaymentLinkTimeout: 10 * time.Second,
		MirrorTimeout:      5 * time.Second,
		DocumentBaseURL:    "http://localhost:8080/documents",

		S3:   objectstore.S3Config{Region: "us-east-1", PresignTTL: 7 * 24 * time.Hour},
		SMTP: mail.SMTPConfig{Port: 587},
		Chat: chat.Config{BaseURL: "https://graph.facebook.com/v19.0"},
	}
}

// ConfigFromEnv накладывает переменные ORDERFLOW_* на DefaultConfig.
func ConfigFromEnv() (Config, error) {
	return configFromLookup(os.LookupEnv)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(envPrefix + name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) integer(name string, dst *int) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = d
}

func (r *envReader) boolean(name string, dst *bool) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = b
}

func (r *envReader) list(name string, dst *[]string) {
	v, ok := r.lookup(envPrefix + name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) pairs(name string, dst *map[string]string) {
	if v, ok := r.lookup(envPrefix + name); ok {
		*dst = tenant.ParseHosts(v)
	}
}

func configFromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	r := &envReader{lookup: lookup}

	r.str("HTTP_ADDR", &cfg.HTTPAddr)
	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)
	r.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)

	r.str("STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.integer("POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)

	r.str("QUEUE_DRIVER", &cfg.QueueDriver)
	r.str("REDIS_ADDR", &cfg.RedisAddr)
	r.str("REDIS_PASSWORD", &cfg.RedisPassword)
	r.integer("REDIS_DB", &cfg.RedisDB)
	r.str("QUEUE_PREFIX", &cfg.QueuePrefix)
	r.integer("QUEUE_WORKERS", &cfg.QueueWorkers)
	r.duration("QUEUE_JOB_TIMEOUT", &cfg.QueueJobTimeout)
	r.integer("QUEUE_KEEP_COMPLETED", &cfg.QueueKeepCompleted)
	r.duration("JANITOR_INTERVAL", &cfg.JanitorInterval)
	r.duration("REMINDER_DELAY", &cfg.ReminderDelay)
	r.boolean("REMINDER_PAYMENT_CHECK", &cfg.ReminderPaymentCheck)

	r.list("KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.str("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	r.str("KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	r.str("KAFKA_EVENTS_TOPIC", &cfg.KafkaEventsTopic)
	r.str("KAFKA_STOREFRONT_TOPIC", &cfg.KafkaStorefrontTopic)
	r.str("KAFKA_DLQ_TOPIC", &cfg.KafkaDLQTopic)

	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.pairs("TENANT_HOSTS", &cfg.TenantHosts)
	r.pairs("API_KEYS", &cfg.APIKeys)

	r.str("SYNC_URL", &cfg.SyncURL)
	r.pairs("SYNC_URLS", &cfg.SyncURLs)
	r.str("SYNC_TOKEN", &cfg.SyncToken)
	r.duration("SYNC_INTERVAL", &cfg.SyncInterval)
	r.duration("SYNC_TIMEOUT", &cfg.SyncTimeout)
	r.integer("SYNC_WORKERS", &cfg.SyncWorkers)
	r.integer("SYNC_BREAKER_FAILURES", &cfg.SyncBreakerAt)

	r.str("CURRENCY", &cfg.Currency)
	r.str("PAYMENT_LINK_BASE", &cfg.PaymentLinkBase)
	r.duration("PAYMENT_LINK_TIMEOUT", &cfg.PaymentLinkTimeout)
	r.duration("MIRROR_TIMEOUT", &cfg.MirrorTimeout)
	r.str("DOCUMENT_BASE_URL", &cfg.DocumentBaseURL)

	r.str("STRIPE_API_KEY", &cfg.Stripe.APIKey)
	r.str("STRIPE_SUCCESS_URL", &cfg.Stripe.SuccessURL)
	r.str("STRIPE_CANCEL_URL", &cfg.Stripe.CancelURL)

	r.str("S3_REGION", &cfg.S3.Region)
	r.str("S3_BUCKET", &cfg.S3.Bucket)
	r.str("S3_ACCESS_KEY", &cfg.S3.AccessKey)
	r.str("S3_SECRET_KEY", &cfg.S3.SecretKey)
	r.str("S3_ENDPOINT", &cfg.S3.Endpoint)
	r.str("S3_PREFIX", &cfg.S3.Prefix)
	r.str("S3_PUBLIC_BASE", &cfg.S3.PublicBase)
	r.duration("S3_PRESIGN_TTL", &cfg.S3.PresignTTL)

	r.str("FIRESTORE_PROJECT_ID", &cfg.Firestore.ProjectID)
	r.str("FIRESTORE_CREDENTIALS_FILE", &cfg.Firestore.CredentialsFile)
	if v, ok := lookup("FIRESTORE_EMULATOR_HOST"); ok {
		cfg.Firestore.EmulatorHost = v
	}

	r.str("CHAT_BASE_URL", &cfg.Chat.BaseURL)
	r.str("CHAT_PHONE_ID", &cfg.Chat.PhoneID)
	r.str("CHAT_TOKEN", &cfg.Chat.Token)
	r.duration("CHAT_TIMEOUT", &cfg.Chat.Timeout)

	r.str("SMTP_HOST", &cfg.SMTP.Host)
	r.integer("SMTP_PORT", &cfg.SMTP.Port)
	r.str("SMTP_USERNAME", &cfg.SMTP.Username)
	r.str("SMTP_PASSWORD", &cfg.SMTP.Password)
	r.str("SMTP_FROM", &cfg.SMTP.From)
	r.duration("SMTP_TIMEOUT", &cfg.SMTP.Timeout)

	r.str("CHROME_URL", &cfg.PDF.RemoteURL)
	r.boolean("CHROME_NO_SANDBOX", &cfg.PDF.NoSandbox)
	r.duration("PDF_TIMEOUT", &cfg.PDF.Timeout)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	cfg.Stripe.Currency = cfg.Currency
	return cfg, cfg.Validate()
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires ORDERFLOW_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	switch c.QueueDriver {
	case QueueDriverMemory:
	case QueueDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis queue requires ORDERFLOW_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported queue driver %q", c.QueueDriver))
	}
	if c.QueueWorkers <= 0 {
		errs = append(errs, errors.New("queue workers must be positive"))
	}
	if tenants := tenantsWithSeveralKeys(c.APIKeys); len(tenants) > 0 {
		errs = append(errs, fmt.Errorf("ORDERFLOW_API_KEYS lists more than one key for tenant(s) %s", strings.Join(tenants, ", ")))
	}
	return errors.Join(errs...)
}

// tenantsWithSeveralKeys возвращает отсортированный список тенантов, которым выдано больше одного ключа.
func tenantsWithSeveralKeys(keys map[string]string) []string {
	seen := make(map[string]int, len(keys))
	for _, tenantID := range keys {
		seen[tenantID]++
	}
	var out []string
	for tenantID, n := range seen {
		if n > 1 {
			out = append(out, tenantID)
		}
	}
	slices.Sort(out)
	return out
}
