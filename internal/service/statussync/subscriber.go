package statussync

import (
	"context"

	"github.com/vladislavdragonenkov/orderflow/internal/events"
)

// Subscribe ставит отправку статуса на каждое изменение заказа с витрины.
// Создание и импорт не отправляются: витрина сама их источник.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.SubscribeAll("status-sync", func(_ context.Context, event events.Event) error {
		switch event.EventName() {
		case events.OrderCreated, events.OrderImported:
			return nil
		}
		s.Schedule(event.OrderSnapshot())
		return nil
	})
}
