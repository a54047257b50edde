package handlers

import (
	"errors"

	"github.com/pocketbase/pocketbase/apis"

	"fanzone/internal/services"
	"fanzone/internal/status"
)

// apiError maps service sentinels onto HTTP responses. Unknown errors come
// back as a 400 with the service message; callers that need a 500 surface
// the error themselves.
func apiError(err error) error {
	var capErr *services.CapacityError
	if errors.As(err, &capErr) {
		return apis.NewBadRequestError(capErr.Error(), map[string]any{
			"zone":      capErr.Zone,
			"remaining": capErr.Remaining,
		})
	}

	switch {
	case errors.Is(err, status.ErrMatchNotSellable),
		errors.Is(err, status.ErrUnknownZone),
		errors.Is(err, status.ErrPriceMismatch),
		errors.Is(err, status.ErrOrderNotPending),
		errors.Is(err, status.ErrPassNotActive),
		errors.Is(err, status.ErrTransferExpired):
		return apis.NewBadRequestError(err.Error(), nil)

	case errors.Is(err, status.ErrNotOrderOwner),
		errors.Is(err, status.ErrNotPassOwner),
		errors.Is(err, status.ErrTransferLocked):
		return apis.NewForbiddenError(err.Error(), nil)

	case errors.Is(err, status.ErrPaymentConfirmed),
		errors.Is(err, status.ErrPaymentSmsConflict):
		return apis.NewApiError(409, err.Error(), nil)

	case errors.Is(err, status.ErrMissingEntity),
		errors.Is(err, status.ErrTransferCodeInvalid):
		return apis.NewBadRequestError(err.Error(), nil)
	}

	return apis.NewBadRequestError("request failed", nil)
}
