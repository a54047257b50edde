package handlers

import (
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"fanzone/internal/services"
)

type MembershipHandler struct {
	memberships *services.MembershipService
	commerce    *services.CommerceService
}

func NewMembershipHandler(memberships *services.MembershipService, commerce *services.CommerceService) *MembershipHandler {
	return &MembershipHandler{memberships: memberships, commerce: commerce}
}

// ListPlans - active membership plans
func (h *MembershipHandler) ListPlans(e *core.RequestEvent) error {
	plans, err := h.memberships.ListPlans()
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to list plans", nil)
	}
	return e.JSON(http.StatusOK, map[string]any{"plans": plans})
}

// Upgrade - open a pending membership on a plan
func (h *MembershipHandler) Upgrade(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		PlanID  string `json:"plan_id"`
		Channel string `json:"channel"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}
	if req.PlanID == "" {
		return apis.NewBadRequestError("Missing plan_id", nil)
	}

	result, err := h.memberships.Upgrade(e.Auth.Id, req.PlanID, req.Channel)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, result)
}

// Status - the caller's current membership
func (h *MembershipHandler) Status(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	membership, err := h.memberships.Status(e.Auth.Id)
	if err != nil {
		return apis.NewApiError(http.StatusInternalServerError, "failed to load membership", nil)
	}
	if membership == nil {
		return e.JSON(http.StatusOK, map[string]any{"membership": nil})
	}
	return e.JSON(http.StatusOK, map[string]any{"membership": membership})
}

// CreateShopOrder - open a pending shop order
func (h *MembershipHandler) CreateShopOrder(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Total   int64  `json:"total"`
		Channel string `json:"channel"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	result, err := h.commerce.CreateShopOrder(e.Auth.Id, req.Total, req.Channel)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, result)
}

// CreateDonation - open a pending donation
func (h *MembershipHandler) CreateDonation(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Project string `json:"project"`
		Amount  int64  `json:"amount"`
		Channel string `json:"channel"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request body", err)
	}

	result, err := h.commerce.CreateDonation(e.Auth.Id, req.Project, req.Amount, req.Channel)
	if err != nil {
		return apiError(err)
	}
	return e.JSON(http.StatusCreated, result)
}
