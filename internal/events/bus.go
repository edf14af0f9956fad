package events

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handler обрабатывает событие. Ошибка логируется шиной и не прерывает доставку остальным.
type Handler func(ctx context.Context, event Event) error

// Publisher: то, что нужно сервисам для публикации событий.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// FailureObserver получает уведомления о сбоях подписчиков (метрики).
type FailureObserver interface {
	RecordHandlerFailure(event, subscriber string)
}

type subscription struct {
	subscriber string
	handler    Handler
}

// Bus: синхронная шина событий одного процесса.
// Publish возвращается только после того, как отработали все подписчики события.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscription
	all      []subscription
	logger   *log.Entry
	observer FailureObserver
}

// NewBus создаёт шину. observer может быть nil.
func NewBus(logger *log.Entry, observer FailureObserver) *Bus {
	if logger == nil {
		logger = log.WithField("component", "event-bus")
	}
	return &Bus{
		handlers: make(map[Name][]subscription),
		logger:   logger,
		observer: observer,
	}
}

// Subscribe регистрирует обработчик события name. subscriber используется в логах и метриках.
func (b *Bus) Subscribe(name Name, subscriber string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{subscriber: subscriber, handler: handler})
}

// SubscribeAll регистрирует обработчик всех событий.
func (b *Bus) SubscribeAll(subscriber string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, subscription{subscriber: subscriber, handler: handler})
}

// On регистрирует обработчик конкретного типа события.
func On[T Event](b *Bus, subscriber string, fn func(ctx context.Context, event T) error) {
	var zero T
	b.Subscribe(zero.EventName(), subscriber, func(ctx context.Context, event Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event, zero.EventName())
		}
		return fn(ctx, typed)
	})
}

// Publish доставляет событие всем подписчикам по очереди.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if event == nil {
		return
	}
	name := event.EventName()

	// Копируем список под блокировкой: обработчик может сам публиковать события.
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[name])+len(b.all))
	subs = append(subs, b.handlers[name]...)
	subs = append(subs, b.all...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.dispatch(ctx, sub, event); err != nil {
			order := event.OrderSnapshot()
			b.logger.WithError(err).WithFields(log.Fields{
				"event":      name,
				"subscriber": sub.subscriber,
				"tenant_id":  order.TenantID,
				"order_id":   order.OrderID,
			}).Error("event handler failed")
			if b.observer != nil {
				b.observer.RecordHandlerFailure(string(name), sub.subscriber)
			}
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

var _ Publisher = (*Bus)(nil)
