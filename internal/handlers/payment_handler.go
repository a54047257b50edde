package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"fanzone/config"
	"fanzone/internal/intake"
	"fanzone/internal/services"
)

type PaymentHandler struct {
	app       core.App
	cfg       *config.Config
	reconcile *services.ReconcileService
}

func NewPaymentHandler(app core.App, cfg *config.Config, reconcile *services.ReconcileService) *PaymentHandler {
	return &PaymentHandler{app: app, cfg: cfg, reconcile: reconcile}
}

// ProcessParsed - run reconciliation for a stored notification
func (h *PaymentHandler) ProcessParsed(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Admin only", nil)
	}

	var req struct {
		SmsParsedID string `json:"sms_parsed_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.SmsParsedID == "" {
		return apis.NewBadRequestError("Missing sms_parsed_id", nil)
	}

	result, err := h.reconcile.ProcessParsedSms(e.Request.Context(), req.SmsParsedID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, result)
}

// ListManualReview - the open review queue
func (h *PaymentHandler) ListManualReview(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Admin only", nil)
	}

	entries, err := h.reconcile.ListManualReview(50)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to list review queue", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"entries": entries})
}

// AttachSms - manually bind a notification to a payment
func (h *PaymentHandler) AttachSms(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Admin only", nil)
	}

	var req struct {
		SmsParsedID string `json:"sms_parsed_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	paymentID := e.Request.PathValue("paymentId")
	if err := h.reconcile.AttachSmsToPayment(e.Request.Context(), paymentID, req.SmsParsedID); err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"status": "confirmed"})
}

// SimulatePayment - development helper that fakes one parsed notification
// end to end. Disabled outside development.
func (h *PaymentHandler) SimulatePayment(e *core.RequestEvent) error {
	if h.cfg.Environment != "development" {
		return apis.NewForbiddenError("Not available", nil)
	}

	var req struct {
		Amount     int64   `json:"amount"`
		Ref        string  `json:"ref"`
		Confidence float64 `json:"confidence"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.Confidence == 0 {
		req.Confidence = 0.99
	}

	smsID, err := intake.Ingest(h.app, h.cfg, req.Amount, h.cfg.Currency, req.Ref, req.Confidence, "")
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to store notification", nil)
	}

	result, err := h.reconcile.ProcessParsedSms(e.Request.Context(), smsID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"sms_parsed_id": smsID,
		"result":        result,
	})
}
