package lifecycle

import (
	"context"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/events"
)

// SubscribeAutoInvoice выставляет счёт сразу после оплаты заказа,
// если счёт ещё не выставлен и заказ стоит в PAYMENT_COMPLETED.
func (c *Controller) SubscribeAutoInvoice(bus *events.Bus) {
	events.On(bus, "auto-invoice", func(ctx context.Context, e events.PaymentSucceededEvent) error {
		order := e.Order
		if order.Status != domain.OrderStatusPaymentCompleted || order.InvoiceStatus == domain.InvoiceStatusGenerated {
			return nil
		}
		_, err := c.GenerateInvoice(ctx, order.TenantID, order.OrderID)
		return err
	})
}
