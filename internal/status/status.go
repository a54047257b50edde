package status

import "errors"

var (
	ErrMatchNotSellable    = errors.New("checkout: tickets are not available for this match")
	ErrUnknownZone         = errors.New("checkout: zone is not configured for ticketing")
	ErrPriceMismatch       = errors.New("checkout: submitted price does not match zone price")
	ErrCapacityExceeded    = errors.New("checkout: not enough seats remain in zone")
	ErrOrderNotPending     = errors.New("order: only pending orders can be cancelled")
	ErrNotOrderOwner       = errors.New("order: order does not belong to this user")
	ErrPaymentConfirmed    = errors.New("payment: payment already confirmed")
	ErrPaymentSmsConflict  = errors.New("payment: payment is linked to a different parsed sms")
	ErrMissingEntity       = errors.New("payment: payment missing domain entity context")
	ErrPassNotActive       = errors.New("pass: only active passes can be used here")
	ErrNotPassOwner        = errors.New("pass: pass not found for user")
	ErrTransferCodeInvalid = errors.New("transfer: invalid transfer code")
	ErrTransferExpired     = errors.New("transfer: transfer code expired")
	ErrTransferLocked      = errors.New("transfer: transfer locked to another recipient")
)
