package kafka

import (
	"context"

	"github.com/IBM/sarama"
)

// StorefrontImporter принимает сырой заказ витрины (JSON) для импорта.
type StorefrontImporter interface {
	ImportMessage(ctx context.Context, tenantHint string, payload []byte) error
}

// NewStorefrontHandler превращает сообщения топика витрин в вызовы импорта.
// Тенант из заголовка x-tenant-id сверяется с тенантом API-ключа.
func NewStorefrontHandler(importer StorefrontImporter) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		return importer.ImportMessage(ctx, Header(message, HeaderTenantID), message.Value)
	}
}
