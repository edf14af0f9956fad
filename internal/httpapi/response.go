// Package httpapi: HTTP-интерфейс сервиса: приём заказов с витрин, операции жизненного цикла и служебные эндпоинты.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// Response: общий конверт ответа.
type Response[T any] struct {
	Success bool              `json:"success"`
	Data    T                 `json:"data"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respond[T any](c *gin.Context, status int, data T) {
	c.JSON(status, Response[T]{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response[any]{Error: message, Code: code})
}

// writeError переводит доменную ошибку в HTTP-ответ. Неизвестные ошибки отдаются как 500
// без текста, сам текст уходит в лог.
func writeError(c *gin.Context, logger *log.Entry, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, Response[any]{
			Error: "validation failed", Code: "VALIDATION_FAILED", Fields: vErr.Fields,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
	case errors.Is(err, domain.ErrTenantMismatch), errors.Is(err, domain.ErrOrderNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		fail(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		fail(c, http.StatusConflict, "VERSION_CONFLICT", err.Error())
	default:
		logger.WithError(err).WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"request_id": requestID(c),
		}).Error("request failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
