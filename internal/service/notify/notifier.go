package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
)

const (
	defaultReminderDelay = 72 * time.Hour
	defaultCallTimeout   = 30 * time.Second

	channelEmail = "email"
	channelChat  = "chat"
)

// Options задаёт параметры Notifier.
type Options struct {
	Logger        *log.Entry
	Payments      domain.PaymentStatusLookup
	ReminderDelay time.Duration
	CallTimeout   time.Duration
}

// Option настраивает Notifier.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithPaymentCheck включает проверку статуса оплаты перед напоминанием.
// Без неё напоминание уходит всегда.
func WithPaymentCheck(lookup domain.PaymentStatusLookup) Option {
	return func(opts *Options) {
		opts.Payments = lookup
	}
}

// WithReminderDelay задаёт, через сколько после счёта напоминать об оплате.
func WithReminderDelay(delay time.Duration) Option {
	return func(opts *Options) {
		opts.ReminderDelay = delay
	}
}

// WithCallTimeout ограничивает каждый внешний вызов (рендер, загрузка, почта, чат).
func WithCallTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.CallTimeout = timeout
	}
}

// Notifier обрабатывает задачи уведомлений. chat и email могут быть nil: канал отключён.
type Notifier struct {
	renderer      domain.DocumentRenderer
	storage       domain.DocumentStorage
	chat          domain.ChatSender
	email         domain.EmailSender
	queue         queue.Enqueuer
	payments      domain.PaymentStatusLookup
	logger        *log.Entry
	reminderDelay time.Duration
	timeout       time.Duration
}

// NewNotifier создаёт обработчик задач уведомлений.
func NewNotifier(
	renderer domain.DocumentRenderer,
	storage domain.DocumentStorage,
	chat domain.ChatSender,
	email domain.EmailSender,
	enqueuer queue.Enqueuer,
	options ...Option,
) *Notifier {
	opts := Options{
		ReminderDelay: defaultReminderDelay,
		CallTimeout:   defaultCallTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	if opts.ReminderDelay <= 0 {
		opts.ReminderDelay = defaultReminderDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}

	return &Notifier{
		renderer:      renderer,
		storage:       storage,
		chat:          chat,
		email:         email,
		queue:         enqueuer,
		payments:      opts.Payments,
		logger:        logger,
		reminderDelay: opts.ReminderDelay,
		timeout:       opts.CallTimeout,
	}
}

// Register подключает обработчики всех типов задач к пулу.
func (n *Notifier) Register(pool *queue.Pool) {
	pool.Handle(JobInvoiceCreated, n.HandleInvoice)
	pool.Handle(JobEstimateCreated, n.HandleEstimate)
	pool.Handle(JobPaymentReminder, n.HandleReminder)
	pool.Handle(JobPaymentReceived, n.HandlePaymentReceived)
	pool.Handle(JobOrderPlaced, n.HandleOrderPlaced)
}

// HandleInvoice рассылает счёт и, если заказ не оплачен, ставит напоминание.
func (n *Notifier) HandleInvoice(ctx context.Context, job queue.Job) error {
	payload, err := queue.Decode[DocumentJob](job)
	if err != nil {
		return err
	}
	logger := n.jobLogger(job, payload.TenantID, payload.OrderID)

	url, err := n.publishDocument(ctx, TemplateInvoice, payload)
	if err != nil {
		return err
	}

	if payload.PaymentStatus != domain.PaymentStatusPaid {
		if err := n.scheduleReminder(ctx, payload); err != nil {
			return err
		}
	}

	deliveries := n.documentDeliveries(payload, "invoice", url, invoiceChatText(payload), invoiceButtons(payload.OrderID))
	return n.deliver(ctx, logger, deliveries)
}

// HandleEstimate рассылает смету с кнопками принятия и отказа.
func (n *Notifier) HandleEstimate(ctx context.Context, job queue.Job) error {
	payload, err := queue.Decode[DocumentJob](job)
	if err != nil {
		return err
	}
	logger := n.jobLogger(job, payload.TenantID, payload.OrderID)

	url, err := n.publishDocument(ctx, TemplateEstimate, payload)
	if err != nil {
		return err
	}

	deliveries := n.documentDeliveries(payload, "estimate", url, estimateChatText(payload), estimateButtons(payload.OrderID))
	return n.deliver(ctx, logger, deliveries)
}

// HandleReminder напоминает об оплате. Если подключена проверка оплаты и заказ
// уже оплачен, напоминание не отправляется.
func (n *Notifier) HandleReminder(ctx context.Context, job queue.Job) error {
	payload, err := queue.Decode[ReminderJob](job)
	if err != nil {
		return err
	}
	logger := n.jobLogger(job, payload.TenantID, payload.OrderID)

	if n.payments != nil {
		checkCtx, cancel := context.WithTimeout(ctx, n.timeout)
		status, err := n.payments.PaymentStatus(checkCtx, payload.TenantID, payload.OrderID)
		cancel()
		if errors.Is(err, domain.ErrOrderNotFound) {
			remindersTotal.WithLabelValues("order_missing").Inc()
			return queue.Permanent(fmt.Errorf("reminder for %s: %w", payload.OrderID, err))
		}
		if err != nil {
			return fmt.Errorf("check payment status: %w", err)
		}
		if status == domain.PaymentStatusPaid {
			remindersTotal.WithLabelValues("skipped_paid").Inc()
			logger.Info("payment reminder skipped: order already paid")
			return nil
		}
	}

	var deliveries []delivery
	if n.chat != nil && payload.Contact.Phone != "" {
		deliveries = append(deliveries, delivery{channel: channelChat, send: func(ctx context.Context) error {
			return n.chat.SendText(ctx, payload.Contact.Phone, reminderText(payload))
		}})
	}
	if err := n.deliver(ctx, logger, deliveries); err != nil {
		remindersTotal.WithLabelValues("failed").Inc()
		return err
	}
	remindersTotal.WithLabelValues("sent").Inc()
	return nil
}

// HandlePaymentReceived подтверждает оплату письмом и сообщением в чат.
func (n *Notifier) HandlePaymentReceived(ctx context.Context, job queue.Job) error {
	payload, err := queue.Decode[PaymentReceivedJob](job)
	if err != nil {
		return err
	}
	logger := n.jobLogger(job, payload.TenantID, payload.OrderID)

	var deliveries []delivery
	if n.email != nil && payload.Contact.Email != "" {
		body, err := renderEmail("paid", payload)
		if err != nil {
			return queue.Permanent(err)
		}
		deliveries = append(deliveries, delivery{channel: channelEmail, send: func(ctx context.Context) error {
			return n.email.Send(ctx, payload.Contact.Email, "Payment received for order "+payload.OrderID, body)
		}})
	}
	if n.chat != nil && payload.Contact.Phone != "" {
		deliveries = append(deliveries, delivery{channel: channelChat, send: func(ctx context.Context) error {
			return n.chat.SendText(ctx, payload.Contact.Phone, paymentReceivedText(payload))
		}})
	}
	return n.deliver(ctx, logger, deliveries)
}

// HandleOrderPlaced отправляет письмо о приёме заказа.
func (n *Notifier) HandleOrderPlaced(ctx context.Context, job queue.Job) error {
	payload, err := queue.Decode[OrderPlacedJob](job)
	if err != nil {
		return err
	}
	logger := n.jobLogger(job, payload.TenantID, payload.OrderID)

	var deliveries []delivery
	if n.email != nil && payload.Contact.Email != "" {
		body, err := renderEmail("placed", payload)
		if err != nil {
			return queue.Permanent(err)
		}
		deliveries = append(deliveries, delivery{channel: channelEmail, send: func(ctx context.Context) error {
			return n.email.Send(ctx, payload.Contact.Email, "Order "+payload.OrderID+" received", body)
		}})
	}
	return n.deliver(ctx, logger, deliveries)
}

// publishDocument рендерит документ и загружает его в хранилище.
// Ошибка здесь означает повтор всей задачи.
func (n *Notifier) publishDocument(ctx context.Context, template string, payload DocumentJob) (string, error) {
	renderCtx, cancel := context.WithTimeout(ctx, n.timeout)
	data, err := n.renderer.Render(renderCtx, template, payload)
	cancel()
	if err != nil {
		documentsTotal.WithLabelValues(template, "render_error").Inc()
		return "", fmt.Errorf("render %s: %w", template, err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, n.timeout)
	url, err := n.storage.Upload(uploadCtx, data, payload.TenantID+"/"+documentName(template, payload.OrderID))
	cancel()
	if err != nil {
		documentsTotal.WithLabelValues(template, "upload_error").Inc()
		return "", fmt.Errorf("upload %s: %w", template, err)
	}
	documentsTotal.WithLabelValues(template, "ok").Inc()
	return url, nil
}

// scheduleReminder ставит напоминание с фиксированным ID, чтобы повтор задачи счёта не дублировал его.
func (n *Notifier) scheduleReminder(ctx context.Context, payload DocumentJob) error {
	_, err := n.queue.Enqueue(ctx, JobPaymentReminder, NewReminderJob(payload), queue.Options{
		JobID: "reminder:" + payload.TenantID + ":" + payload.OrderID,
		Delay: n.reminderDelay,
	})
	if errors.Is(err, queue.ErrJobExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule payment reminder: %w", err)
	}
	remindersTotal.WithLabelValues("scheduled").Inc()
	return nil
}

func (n *Notifier) documentDeliveries(payload DocumentJob, kind, url, chatText string, buttons []domain.ChatButton) []delivery {
	var deliveries []delivery
	if n.email != nil && payload.Contact.Email != "" {
		deliveries = append(deliveries, delivery{channel: channelEmail, send: func(ctx context.Context) error {
			body, err := renderEmail("document", documentEmail{DocumentJob: payload, Kind: kind, URL: url})
			if err != nil {
				return err
			}
			return n.email.Send(ctx, payload.Contact.Email, "Your "+kind+" for order "+payload.OrderID, body)
		}})
	}
	if n.chat != nil && payload.Contact.Phone != "" {
		deliveries = append(deliveries, delivery{channel: channelChat, send: func(ctx context.Context) error {
			if err := n.chat.SendInteractiveButtons(ctx, payload.Contact.Phone, chatText, buttons); err != nil {
				return err
			}
			return n.chat.SendDocument(ctx, payload.Contact.Phone, url, documentName(kind, payload.OrderID), chatText)
		}})
	}
	return deliveries
}

type delivery struct {
	channel string
	send    func(ctx context.Context) error
}

// deliver пробует каналы независимо. Задача падает, только если не сработал ни один канал.
func (n *Notifier) deliver(ctx context.Context, logger *log.Entry, deliveries []delivery) error {
	if len(deliveries) == 0 {
		logger.Debug("no notification channel available")
		return nil
	}

	var errs []error
	for _, d := range deliveries {
		callCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := d.send(callCtx)
		cancel()
		if err != nil {
			notificationsTotal.WithLabelValues(d.channel, "error").Inc()
			logger.WithError(err).WithField("channel", d.channel).Warn("notification channel failed")
			errs = append(errs, fmt.Errorf("%s: %w", d.channel, err))
			continue
		}
		notificationsTotal.WithLabelValues(d.channel, "ok").Inc()
	}

	if len(errs) == len(deliveries) {
		return errors.Join(errs...)
	}
	return nil
}

func (n *Notifier) jobLogger(job queue.Job, tenantID, orderID string) *log.Entry {
	return n.logger.WithFields(log.Fields{
		"job_id":    job.ID,
		"job_type":  job.Type,
		"attempt":   job.Attempts,
		"tenant_id": tenantID,
		"order_id":  orderID,
	})
}
