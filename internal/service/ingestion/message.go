package ingestion

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// ImportMessage принимает заказ, пришедший через брокер сообщений. Формат тела тот же,
// что у HTTP-запроса; источник по умолчанию KAFKA.
func (g *Gateway) ImportMessage(ctx context.Context, tenantHint string, payload []byte) error {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		g.metrics.RecordIngest(metrics.IngestRejected)
		return domain.NewValidationError("body", "malformed JSON")
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = domain.SourceKafka
	}

	result, err := g.Import(ctx, strings.TrimSpace(tenantHint), req)
	if err != nil {
		return err
	}
	g.logger.WithFields(log.Fields{
		"tenant_id":         result.Order.TenantID,
		"order_id":          result.Order.OrderID,
		"external_order_id": result.Order.ExternalOrderID,
		"created":           result.Created,
	}).Info("storefront message imported")
	return nil
}

// IsPermanent сообщает, что повтор импорта с теми же данными ничего не изменит.
func IsPermanent(err error) bool {
	return ingestResult(Result{}, err) == metrics.IngestRejected
}
