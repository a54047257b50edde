package models

import (
	"time"
)

// ParsedSms is a structured payment notification produced by the external
// SMS parser. Immutable once stored; reconciliation only reads it.
type ParsedSms struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Ref             string    `json:"ref"`
	Confidence      float64   `json:"confidence"`
	SourceMessageID string    `json:"source_message_id"`
	MatchedEntity   string    `json:"matched_entity,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type PaymentKind string

const (
	PaymentKindTicket     PaymentKind = "ticket"
	PaymentKindMembership PaymentKind = "membership"
	PaymentKindShop       PaymentKind = "shop"
	PaymentKindDonation   PaymentKind = "donation"
)

// ReconcileOrder is the fixed domain priority for amount matching.
var ReconcileOrder = []PaymentKind{
	PaymentKindTicket,
	PaymentKindMembership,
	PaymentKindShop,
	PaymentKindDonation,
}

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "pending"
	PaymentConfirmed    PaymentStatus = "confirmed"
	PaymentManualReview PaymentStatus = "manual_review"
	PaymentFailed       PaymentStatus = "failed"
)

// Manual review reasons.
const (
	ReviewReasonNoMatch       = "no_match"
	ReviewReasonLowConfidence = "low_confidence"
)

// Payment is one pending expectation of money tied to exactly one domain
// entity. At most one ParsedSms is ever linked to it, and a confirmed
// payment never regresses.
type Payment struct {
	ID           string        `json:"id"`
	Kind         PaymentKind   `json:"kind"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	Status       PaymentStatus `json:"status"`
	SmsParsedID  string        `json:"sms_parsed_id,omitempty"`
	OrderID      string        `json:"order_id,omitempty"`
	MembershipID string        `json:"membership_id,omitempty"`
	ShopOrderID  string        `json:"shop_order_id,omitempty"`
	DonationID   string        `json:"donation_id,omitempty"`
	Meta         PaymentMeta   `json:"metadata"`
	ConfirmedAt  *time.Time    `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// PaymentMeta is the typed metadata envelope persisted with a payment.
// Ref and ManualReason apply to every kind; at most one kind branch is set,
// matching the payment's kind.
type PaymentMeta struct {
	Ref          string `json:"ref,omitempty"`
	ManualReason string `json:"manual_reason,omitempty"`

	Ticket     *TicketPaymentMeta     `json:"ticket,omitempty"`
	Membership *MembershipPaymentMeta `json:"membership,omitempty"`
	Shop       *ShopPaymentMeta       `json:"shop,omitempty"`
	Donation   *DonationPaymentMeta   `json:"donation,omitempty"`
}

type TicketPaymentMeta struct {
	Channel      string `json:"channel,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	CancelledBy  string `json:"cancelled_by,omitempty"`
}

type MembershipPaymentMeta struct {
	PlanID  string `json:"plan_id,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type ShopPaymentMeta struct {
	Channel string `json:"channel,omitempty"`
}

type DonationPaymentMeta struct {
	ProjectID string `json:"project_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
}
