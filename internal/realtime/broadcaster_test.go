package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanzone/models"
)

func TestNoopImplementsBroadcaster(t *testing.T) {
	var b Broadcaster = &Noop{}
	ctx := context.Background()

	// Every method is a safe no-op.
	b.NotifyTicketOrderConfirmed(ctx, TicketOrderConfirmedEvent{OrderID: "o1"})
	b.NotifyMembershipActivated(ctx, MembershipActivatedEvent{MembershipID: "m1"})
	b.NotifyShopOrderConfirmed(ctx, ShopOrderConfirmedEvent{OrderID: "s1"})
	b.NotifyDonationConfirmed(ctx, DonationConfirmedEvent{DonationID: "d1"})
	b.NotifyPaymentForManualReview(ctx, ManualReviewEvent{SmsParsedID: "p1"})
	b.NotifyGateScan(ctx, GateScanEvent{PassID: "pass1"})
	b.NotifyGateMetricsSnapshot(ctx, GateMetricsEvent{MatchID: "match1"})
}

func TestTicketOrderConfirmedEvent_Wire(t *testing.T) {
	event := TicketOrderConfirmedEvent{
		OrderID:   "ord123",
		PaymentID: "pay456",
		Passes: []PassSummary{
			{PassID: "pass1", Zone: "VIP"},
			{PassID: "pass2", Zone: "VIP"},
		},
	}

	encoded, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.Equal(t, "ord123", decoded["order_id"])
	assert.Equal(t, "pay456", decoded["payment_id"])
	assert.Len(t, decoded["passes"], 2)
}

func TestGateMetricsEvent_Wire(t *testing.T) {
	event := GateMetricsEvent{
		MatchID: "match1",
		Metrics: []models.GateMetrics{
			{Gate: "A", Total: 10, Verified: 8, Rejected: 2},
		},
	}

	encoded, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"gate":"A"`)
	assert.Contains(t, string(encoded), `"verified":8`)
}
