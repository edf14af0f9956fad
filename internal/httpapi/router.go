package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
	"github.com/vladislavdragonenkov/orderflow/internal/service/ingestion"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

// Lifecycle: операции над заказом, доступные через HTTP.
type Lifecycle interface {
	GetOrder(tenantID, orderID string) (domain.Order, error)
	ListOrders(tenantID string, limit int) ([]domain.Order, error)
	CreateOrder(ctx context.Context, in lifecycle.CreateOrderInput) (domain.Order, error)
	CreateEstimate(ctx context.Context, tenantID, orderID string, in lifecycle.EstimateInput) (domain.Order, error)
	HandleEstimateResponse(ctx context.Context, tenantID, orderID string, response lifecycle.EstimateResponse) (domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, tenantID, orderID, paymentRef string) (domain.Order, error)
	GenerateInvoice(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	MarkDispatched(ctx context.Context, tenantID, orderID string, in lifecycle.DispatchInput) (domain.Order, error)
	MarkDelivered(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, tenantID, orderID, reason string) (domain.Order, error)
}

// Ingestor принимает заказы с витрин.
type Ingestor interface {
	Import(ctx context.Context, hostTenant string, req ingestion.Request) (ingestion.Result, error)
}

// QueueInspector отдаёт состояние очереди задач.
type QueueInspector interface {
	Stats(ctx context.Context) (queue.Stats, error)
	Failed(ctx context.Context, limit int) ([]queue.Job, error)
	Replay(ctx context.Context, id string) (queue.Job, error)
}

// FailedSyncLister читает журнал неудачных синхронизаций.
type FailedSyncLister interface {
	List(tenantID string, status domain.FailedSyncStatus, limit int) ([]domain.FailedSync, error)
}

// Dependencies: всё, что нужно роутеру. Nil-зависимость отключает свою группу маршрутов.
type Dependencies struct {
	Lifecycle   Lifecycle
	Ingestor    Ingestor
	Queue       QueueInspector
	FailedSyncs FailedSyncLister
	Tenants     TenantResolver
	Logger      *log.Entry
}

type handlers struct {
	deps   Dependencies
	logger *log.Entry
}

// NewRouter собирает gin.Engine со всеми маршрутами /api/v1.
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	h := &handlers{deps: deps, logger: logger}

	router := gin.New()
	router.Use(requestIDMiddleware(), recoveryMiddleware(logger), loggingMiddleware(logger), metricsMiddleware())
	router.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	api := router.Group("/api/v1")
	if deps.Ingestor != nil {
		api.POST("/orders/sync", h.syncOrder)
	}

	if deps.Lifecycle != nil {
		orders := api.Group("/orders", tenantMiddleware(deps.Tenants))
		orders.GET("", h.listOrders)
		orders.POST("", h.createOrder)
		orders.GET("/:orderId", h.getOrder)
		orders.POST("/:orderId/estimate", h.createEstimate)
		orders.POST("/:orderId/estimate/response", h.estimateResponse)
		orders.POST("/:orderId/payment", h.updatePayment)
		orders.POST("/:orderId/invoice", h.generateInvoice)
		orders.POST("/:orderId/dispatch", h.markDispatched)
		orders.POST("/:orderId/deliver", h.markDelivered)
		orders.POST("/:orderId/cancel", h.cancelOrder)
	}

	admin := api.Group("/admin")
	if deps.Queue != nil {
		admin.GET("/queue/stats", h.queueStats)
		admin.GET("/queue/failed", h.failedJobs)
		admin.POST("/queue/jobs/:jobId/replay", h.replayJob)
	}
	if deps.FailedSyncs != nil {
		admin.GET("/failed-syncs", tenantMiddleware(deps.Tenants), h.failedSyncs)
	}
	return router
}
