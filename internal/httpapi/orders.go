package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/service/ingestion"
	"github.com/vladislavdragonenkov/orderflow/internal/service/lifecycle"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// syncOrder принимает заказ с витрины. 201 для нового заказа, 200 для повтора и уже
// синхронизированного. Ошибки отдаются в общем конверте.
func (h *handlers) syncOrder(c *gin.Context) {
	var req ingestion.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindingError(err))
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		req.APIKey = c.GetHeader(headerAPIKey)
	}

	hostTenant := ""
	if h.deps.Tenants != nil {
		hostTenant, _ = h.deps.Tenants.ResolveTenant(c.Request.Host)
	}

	result, err := h.deps.Ingestor.Import(c.Request.Context(), hostTenant, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !result.Created {
		c.JSON(http.StatusOK, syncOrderResponse{Success: true, OrderID: result.Order.OrderID})
		return
	}
	c.JSON(http.StatusCreated, syncOrderResponse{
		Success:    true,
		OrderID:    result.Order.OrderID,
		InternalID: result.Order.ID,
	})
}

func (h *handlers) listOrders(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	orders, err := h.deps.Lifecycle.ListOrders(tenantOf(c), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	respond(c, http.StatusOK, out)
}

func (h *handlers) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindingError(err))
		return
	}
	order, err := h.deps.Lifecycle.CreateOrder(c.Request.Context(), lifecycle.CreateOrderInput{
		TenantID: tenantOf(c),
		Customer: domain.CustomerSnapshot{
			Name: req.Customer.Name, Phone: req.Customer.Phone, Email: req.Customer.Email, Address: req.Customer.Address,
		},
		Items:       toItemInputs(req.Items),
		TotalAmount: req.TotalAmount,
		Source:      req.Source,
	})
	h.reply(c, http.StatusCreated, order, err)
}

func (h *handlers) getOrder(c *gin.Context) {
	order, err := h.deps.Lifecycle.GetOrder(tenantOf(c), c.Param("orderId"))
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) createEstimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindingError(err))
		return
	}
	order, err := h.deps.Lifecycle.CreateEstimate(c.Request.Context(), tenantOf(c), c.Param("orderId"), lifecycle.EstimateInput{
		Items:        toItemInputs(req.Items),
		ValidityDays: req.ValidityDays,
		Notes:        req.Notes,
	})
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) estimateResponse(c *gin.Context) {
	var req estimateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindingError(err))
		return
	}
	order, err := h.deps.Lifecycle.HandleEstimateResponse(c.Request.Context(), tenantOf(c), c.Param("orderId"),
		lifecycle.EstimateResponse(req.Response))
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) updatePayment(c *gin.Context) {
	var req paymentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, h.logger, err)
		return
	}
	order, err := h.deps.Lifecycle.UpdatePaymentStatus(c.Request.Context(), tenantOf(c), c.Param("orderId"), req.PaymentRef)
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) generateInvoice(c *gin.Context) {
	order, err := h.deps.Lifecycle.GenerateInvoice(c.Request.Context(), tenantOf(c), c.Param("orderId"))
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) markDispatched(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, bindingError(err))
		return
	}
	order, err := h.deps.Lifecycle.MarkDispatched(c.Request.Context(), tenantOf(c), c.Param("orderId"), lifecycle.DispatchInput{
		Courier:          req.Courier,
		TrackingNumber:   req.TrackingNumber,
		ExpectedDelivery: req.ExpectedDelivery,
	})
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) markDelivered(c *gin.Context) {
	order, err := h.deps.Lifecycle.MarkDelivered(c.Request.Context(), tenantOf(c), c.Param("orderId"))
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		writeError(c, h.logger, err)
		return
	}
	order, err := h.deps.Lifecycle.CancelOrder(c.Request.Context(), tenantOf(c), c.Param("orderId"), req.Reason)
	h.reply(c, http.StatusOK, order, err)
}

func (h *handlers) reply(c *gin.Context, status int, order domain.Order, err error) {
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, status, toOrderResponse(order))
}

// bindOptionalJSON разбирает тело, если оно есть. Пустое тело допустимо.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		return bindingError(err)
	}
	return nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, domain.NewValidationError("limit", "must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
