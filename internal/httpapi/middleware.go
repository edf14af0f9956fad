package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	headerRequestID = "X-Request-Id"
	headerTenantID  = "X-Tenant-ID"
	headerAPIKey    = "X-API-Key"

	ctxRequestID = "request_id"
	ctxTenantID  = "tenant_id"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_http_requests_total",
		Help: "HTTP requests grouped by route, method and status code.",
	}, []string{"route", "method", "code"})
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// requestIDMiddleware берёт X-Request-Id клиента или выдаёт новый.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// loggingMiddleware пишет строку лога на каждый запрос.
func loggingMiddleware(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(started).String(),
			"request_id": requestID(c),
		})
		if tenantID := c.GetString(ctxTenantID); tenantID != "" {
			entry = entry.WithField("tenant_id", tenantID)
		}
		switch {
		case status >= 500:
			entry.Error("http request")
		case status >= 400:
			entry.Warn("http request")
		default:
			entry.Info("http request")
		}
	}
}

// metricsMiddleware учитывает запросы по шаблону маршрута, а не по сырому пути.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(started).Seconds())
	}
}

// recoveryMiddleware превращает панику обработчика в 500 и запись в лог.
func recoveryMiddleware(logger *log.Entry) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.WithFields(log.Fields{
			"panic":      recovered,
			"path":       c.Request.URL.Path,
			"request_id": requestID(c),
		}).Error("handler panicked")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	})
}

// TenantResolver определяет тенанта по имени хоста.
type TenantResolver interface {
	ResolveTenant(host string) (string, bool)
}

// tenantMiddleware требует тенанта для доверенных маршрутов: из X-Tenant-ID или по хосту.
func tenantMiddleware(tenants TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(headerTenantID))
		if tenantID == "" && tenants != nil {
			tenantID, _ = tenants.ResolveTenant(c.Request.Host)
		}
		if tenantID == "" {
			fail(c, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required")
			return
		}
		c.Set(ctxTenantID, tenantID)
		c.Next()
	}
}

func tenantOf(c *gin.Context) string {
	return c.GetString(ctxTenantID)
}
