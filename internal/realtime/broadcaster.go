package realtime

import (
	"context"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"fanzone/models"
	"fanzone/utils"
)

// Channels fanned out to connected clients.
const (
	ChannelPayments = "payments"
	ChannelTickets  = "tickets"
	ChannelGates    = "gates"
)

type TicketOrderConfirmedEvent struct {
	OrderID   string        `json:"order_id"`
	PaymentID string        `json:"payment_id"`
	Passes    []PassSummary `json:"passes"`
}

type PassSummary struct {
	PassID string `json:"pass_id"`
	Zone   string `json:"zone"`
}

type MembershipActivatedEvent struct {
	MembershipID string `json:"membership_id"`
	ValidUntil   string `json:"valid_until"`
}

type ShopOrderConfirmedEvent struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

type DonationConfirmedEvent struct {
	DonationID string `json:"donation_id"`
	PaymentID  string `json:"payment_id"`
}

type ManualReviewEvent struct {
	SmsParsedID string `json:"sms_parsed_id"`
	Amount      int64  `json:"amount"`
}

type GateScanEvent struct {
	PassID    string `json:"pass_id"`
	Result    string `json:"result"`
	Gate      string `json:"gate"`
	StewardID string `json:"steward_id,omitempty"`
}

type GateMetricsEvent struct {
	MatchID string               `json:"match_id"`
	Metrics []models.GateMetrics `json:"metrics"`
}

// Broadcaster fans domain events out to connected clients. Publishing is
// best-effort: implementations must never fail the operation that emitted
// the event.
type Broadcaster interface {
	NotifyTicketOrderConfirmed(ctx context.Context, event TicketOrderConfirmedEvent)
	NotifyMembershipActivated(ctx context.Context, event MembershipActivatedEvent)
	NotifyShopOrderConfirmed(ctx context.Context, event ShopOrderConfirmedEvent)
	NotifyDonationConfirmed(ctx context.Context, event DonationConfirmedEvent)
	NotifyPaymentForManualReview(ctx context.Context, event ManualReviewEvent)
	NotifyGateScan(ctx context.Context, event GateScanEvent)
	NotifyGateMetricsSnapshot(ctx context.Context, event GateMetricsEvent)
}

// Noop is the "transport not attached yet" variant. Every notification is
// dropped silently so core logic never depends on startup ordering.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) NotifyTicketOrderConfirmed(context.Context, TicketOrderConfirmedEvent) {}
func (*Noop) NotifyMembershipActivated(context.Context, MembershipActivatedEvent)   {}
func (*Noop) NotifyShopOrderConfirmed(context.Context, ShopOrderConfirmedEvent)     {}
func (*Noop) NotifyDonationConfirmed(context.Context, DonationConfirmedEvent)       {}
func (*Noop) NotifyPaymentForManualReview(context.Context, ManualReviewEvent)       {}
func (*Noop) NotifyGateScan(context.Context, GateScanEvent)                         {}
func (*Noop) NotifyGateMetricsSnapshot(context.Context, GateMetricsEvent)           {}

// PubNubBroadcaster publishes events over PubNub channels. A circuit breaker
// drops publishes while the transport is unhealthy instead of stalling the
// calling operation.
type PubNubBroadcaster struct {
	pn      *pubnub.PubNub
	breaker *utils.CircuitBreaker
}

func NewPubNubBroadcaster(pn *pubnub.PubNub) *PubNubBroadcaster {
	return &PubNubBroadcaster{
		pn:      pn,
		breaker: utils.NewCircuitBreaker("realtime-publish"),
	}
}

func (b *PubNubBroadcaster) publish(ctx context.Context, channel, eventType string, payload any) {
	_, err := b.breaker.Execute(ctx, func() (any, error) {
		_, _, err := b.pn.Publish().
			Channel(channel).
			Message(map[string]any{
				"type":    eventType,
				"payload": payload,
			}).
			Execute()
		return nil, err
	})
	if err != nil {
		slog.Warn("realtime publish dropped", "channel", channel, "type", eventType, "error", err)
	}
}

func (b *PubNubBroadcaster) NotifyTicketOrderConfirmed(ctx context.Context, event TicketOrderConfirmedEvent) {
	b.publish(ctx, ChannelTickets, "ticket_order_confirmed", event)
}

func (b *PubNubBroadcaster) NotifyMembershipActivated(ctx context.Context, event MembershipActivatedEvent) {
	b.publish(ctx, ChannelPayments, "membership_activated", event)
}

func (b *PubNubBroadcaster) NotifyShopOrderConfirmed(ctx context.Context, event ShopOrderConfirmedEvent) {
	b.publish(ctx, ChannelPayments, "shop_order_confirmed", event)
}

func (b *PubNubBroadcaster) NotifyDonationConfirmed(ctx context.Context, event DonationConfirmedEvent) {
	b.publish(ctx, ChannelPayments, "donation_confirmed", event)
}

func (b *PubNubBroadcaster) NotifyPaymentForManualReview(ctx context.Context, event ManualReviewEvent) {
	b.publish(ctx, ChannelPayments, "payment_manual_review", event)
}

func (b *PubNubBroadcaster) NotifyGateScan(ctx context.Context, event GateScanEvent) {
	b.publish(ctx, ChannelGates, "gate_scan", event)
}

func (b *PubNubBroadcaster) NotifyGateMetricsSnapshot(ctx context.Context, event GateMetricsEvent) {
	b.publish(ctx, ChannelGates, "gate_metrics", event)
}
