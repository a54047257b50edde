package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"fanzone/internal/services"
)

type CheckoutHandler struct {
	checkout *services.CheckoutService
}

func NewCheckoutHandler(checkout *services.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Catalog - list matches with per-zone availability
func (h *CheckoutHandler) Catalog(e *core.RequestEvent) error {
	entries, err := h.checkout.Catalog()
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to load catalog", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"matches": entries})
}

// CreateOrder - open a pending ticket order with a payment hold
func (h *CheckoutHandler) CreateOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.CheckoutRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	req.UserID = e.Auth.Id

	result, err := h.checkout.CreatePendingOrder(req)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, result)
}

// CancelOrder - cancel the caller's pending order
func (h *CheckoutHandler) CancelOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orderID := e.Request.PathValue("orderId")
	if err := h.checkout.CancelPendingOrder(orderID, e.Auth.Id); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "cancelled"})
}

// ListOrders - the caller's recent orders
func (h *CheckoutHandler) ListOrders(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	orders, err := h.checkout.ListOrdersForUser(e.Auth.Id, 20)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to list orders", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder - one order receipt for its owner
func (h *CheckoutHandler) GetOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	order, err := h.checkout.GetOrder(e.Request.PathValue("orderId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, order)
}
