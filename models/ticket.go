package models

import (
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

type TicketOrder struct {
	ID        string      `json:"id"`
	MatchID   string      `json:"match_id"`
	UserID    string      `json:"user_id,omitempty"`
	Total     int64       `json:"total"`
	Status    OrderStatus `json:"status"`
	UssdCode  string      `json:"ussd_code"`
	SmsRef    string      `json:"sms_ref,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether a pending hold has lapsed. Expiry is never swept by
// a background job; it is observed lazily wherever order state is read.
func (o *TicketOrder) Expired(now time.Time) bool {
	return o.Status == OrderPending && now.After(o.ExpiresAt)
}

// EffectiveStatus folds lazy expiry into the stored status.
func (o *TicketOrder) EffectiveStatus(now time.Time) OrderStatus {
	if o.Expired(now) {
		return OrderExpired
	}
	return o.Status
}

type TicketOrderItem struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Zone     string `json:"zone"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type PassState string

const (
	PassActive   PassState = "active"
	PassUsed     PassState = "used"
	PassRefunded PassState = "refunded"
)

// Terminal reports whether no transition ever leaves the state.
func (s PassState) Terminal() bool {
	return s == PassUsed || s == PassRefunded
}

type TicketPass struct {
	ID              string     `json:"id"`
	OrderID         string     `json:"order_id"`
	Zone            string     `json:"zone"`
	Gate            string     `json:"gate"`
	State           PassState  `json:"state"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
	TransferredTo   string     `json:"transferred_to,omitempty"`
	TransferredAt   *time.Time `json:"transferred_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IssuedPass pairs a freshly minted pass with its raw token. The raw token is
// returned to the caller exactly once and only its hash is persisted.
type IssuedPass struct {
	PassID string `json:"pass_id"`
	Zone   string `json:"zone"`
	Gate   string `json:"gate"`
	Token  string `json:"token"`
}

type ScanResult string

const (
	ScanVerified ScanResult = "verified"
	ScanUsed     ScanResult = "used"
	ScanRefunded ScanResult = "refunded"
	ScanNotFound ScanResult = "not_found"
)

type GateScan struct {
	ID        string     `json:"id"`
	PassID    string     `json:"pass_id"`
	Gate      string     `json:"gate"`
	StewardID string     `json:"steward_id,omitempty"`
	Result    ScanResult `json:"result"`
	CreatedAt time.Time  `json:"created_at"`
}

// GateMetrics is the per-gate aggregate broadcast after every recorded scan.
type GateMetrics struct {
	Gate     string `json:"gate"`
	Total    int    `json:"total"`
	Verified int    `json:"verified"`
	Rejected int    `json:"rejected"`
}
