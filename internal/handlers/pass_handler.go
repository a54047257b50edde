package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"fanzone/internal/services"
)

type PassHandler struct {
	passes *services.PassService
}

func NewPassHandler(passes *services.PassService) *PassHandler {
	return &PassHandler{passes: passes}
}

// ListActive - the caller's presentable passes
func (h *PassHandler) ListActive(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	passes, err := h.passes.ListActivePasses(e.Auth.Id)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to list passes", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"passes": passes})
}

// Verify - steward gate scan
func (h *PassHandler) Verify(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Token  string `json:"token"`
		DryRun bool   `json:"dry_run"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.Token == "" {
		return apis.NewBadRequestError("Missing token", nil)
	}

	result, err := h.passes.VerifyPassToken(e.Request.Context(), req.Token, e.Auth.Id, req.DryRun)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "verification failed", nil)
	}
	return e.JSON(http.StatusOK, result)
}

// Rotate - refresh the QR token of an owned pass
func (h *PassHandler) Rotate(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	token, validFor, err := h.passes.RotatePassToken(e.Request.Context(), e.Request.PathValue("passId"), e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"token":             token,
		"valid_for_seconds": int(validFor.Seconds()),
	})
}

// Transfer - start handing a pass to another fan
func (h *PassHandler) Transfer(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		RecipientID string `json:"recipient_id"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	code, err := h.passes.InitiateTransfer(e.Request.Context(), e.Request.PathValue("passId"), e.Auth.Id, req.RecipientID)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, map[string]any{"code": code})
}

// Claim - complete a transfer with the shared code
func (h *PassHandler) Claim(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	pass, err := h.passes.ClaimTransfer(e.Request.Context(), e.Request.PathValue("passId"), req.Code, e.Auth.Id)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusOK, pass)
}

// GateHistory - recent scans for a match
func (h *PassHandler) GateHistory(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewForbiddenError("Admin only", nil)
	}

	scans, err := h.passes.ListGateHistory(e.Request.PathValue("matchId"), 100)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to list scans", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"scans": scans})
}

// GateMetrics - per-gate aggregates for a match
func (h *PassHandler) GateMetrics(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	metrics, err := h.passes.GateMetricsSnapshot(e.Request.Context(), e.Request.PathValue("matchId"))
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to aggregate metrics", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"metrics": metrics})
}
