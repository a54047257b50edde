package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fanzone/config"
	"fanzone/internal/realtime"
	"fanzone/internal/status"
	_ "fanzone/migrations"
	"fanzone/models"
)

const (
	buyerID    = "fanbuyer0000001"
	holderID   = "fanowner0000001"
	claimantID = "fanclaim0000001"
	strangerID = "fanrando0000001"
)

func newStoreApp(t *testing.T) *tests.TestApp {
	t.Helper()

	app, err := tests.NewTestApp(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)
	return app
}

func seedMatch(t *testing.T, app core.App) *core.Record {
	t.Helper()

	collection, err := app.FindCollectionByNameOrId(models.CollectionMatches)
	require.NoError(t, err)

	kickoff, err := types.ParseDateTime(time.Now().Add(72 * time.Hour))
	require.NoError(t, err)

	match := core.NewRecord(collection)
	match.Set("opponent", "Rayon Sports")
	match.Set("kickoff", kickoff)
	match.Set("venue", "Amahoro Stadium")
	match.Set("competition", "League")
	match.Set("status", string(models.MatchScheduled))
	require.NoError(t, app.Save(match))
	return match
}

func seedSms(t *testing.T, app core.App, amount int64, confidence float64, source string) *core.Record {
	t.Helper()

	collection, err := app.FindCollectionByNameOrId(models.CollectionSmsParsed)
	require.NoError(t, err)

	sms := core.NewRecord(collection)
	sms.Set("amount", amount)
	sms.Set("currency", "RWF")
	sms.Set("ref", "MP"+source)
	sms.Set("confidence", confidence)
	sms.Set("source_message_id", source)
	require.NoError(t, app.Save(sms))
	return sms
}

func newReconciler(app core.App, cfg *config.Config) *ReconcileService {
	passes := NewPassService(app, cfg, realtime.NewNoop(), nil, nil)
	return NewReconcileService(app, cfg, realtime.NewNoop(), passes, nil, nil)
}

func vipCheckout(t *testing.T, svc *CheckoutService, matchID, userID string, quantity int) *CheckoutResult {
	t.Helper()

	result, err := svc.CreatePendingOrder(CheckoutRequest{
		MatchID: matchID,
		UserID:  userID,
		Items:   []CheckoutItem{{Zone: "VIP", Price: 25000, Quantity: quantity}},
	})
	require.NoError(t, err)
	return result
}

func allPayments(t *testing.T, app core.App) []*core.Record {
	t.Helper()

	records, err := app.FindRecordsByFilter(models.CollectionPayments, "id != ''", "+created", 0, 0)
	require.NoError(t, err)
	return records
}

func passesForOrder(t *testing.T, app core.App, orderID string) []*core.Record {
	t.Helper()

	records, err := app.FindRecordsByFilter(
		models.CollectionTicketPasses,
		"order = {:order}",
		"",
		0,
		0,
		dbx.Params{"order": orderID},
	)
	require.NoError(t, err)
	return records
}

func TestCreatePendingOrder_CapacityExhausted(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	cfg.ZoneCapacity["VIP"] = 3
	match := seedMatch(t, app)
	svc := NewCheckoutService(app, cfg)

	first := vipCheckout(t, svc, match.Id, holderID, 2)

	_, err := svc.CreatePendingOrder(CheckoutRequest{
		MatchID: match.Id,
		UserID:  buyerID,
		Items:   []CheckoutItem{{Zone: "VIP", Price: 25000, Quantity: 2}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrCapacityExceeded)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "VIP", capErr.Zone)
	assert.Equal(t, 1, capErr.Remaining)

	// The last seat still sells.
	vipCheckout(t, svc, match.Id, buyerID, 1)

	_, err = svc.CreatePendingOrder(CheckoutRequest{
		MatchID: match.Id,
		UserID:  strangerID,
		Items:   []CheckoutItem{{Zone: "VIP", Price: 25000, Quantity: 1}},
	})
	assert.ErrorIs(t, err, status.ErrCapacityExceeded)

	// Cancelling a hold releases its seats.
	require.NoError(t, svc.CancelPendingOrder(first.OrderID, holderID))
	vipCheckout(t, svc, match.Id, strangerID, 2)
}

func TestCreatePendingOrder_ExpiredHoldReleasesSeats(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	cfg.ZoneCapacity["VIP"] = 2
	match := seedMatch(t, app)
	svc := NewCheckoutService(app, cfg)

	first := vipCheckout(t, svc, match.Id, holderID, 2)

	order, err := app.FindRecordById(models.CollectionTicketOrders, first.OrderID)
	require.NoError(t, err)
	past, err := types.ParseDateTime(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	order.Set("expires_at", past)
	require.NoError(t, app.Save(order))

	// Nothing sweeps expired holds; the capacity sum just stops counting them.
	vipCheckout(t, svc, match.Id, buyerID, 2)

	summary, err := svc.GetOrder(first.OrderID, holderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, summary.Status)
}

func TestProcessParsedSms_ConfirmsExactAmountMatch(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)
	sms := seedSms(t, app, 25000, 0.92, "src-confirm-001")

	result, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, models.PaymentKindTicket, result.Kind)
	assert.Equal(t, res.PaymentID, result.PaymentID)

	payment, err := app.FindRecordById(models.CollectionPayments, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentConfirmed), payment.GetString("status"))
	assert.Equal(t, sms.Id, payment.GetString("sms_parsed"))
	assert.False(t, payment.GetDateTime("confirmed_at").IsZero())

	order, err := app.FindRecordById(models.CollectionTicketOrders, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderPaid), order.GetString("status"))
	assert.Equal(t, sms.GetString("ref"), order.GetString("sms_ref"))

	passes := passesForOrder(t, app, res.OrderID)
	require.Len(t, passes, 1)
	assert.Equal(t, string(models.PassActive), passes[0].GetString("state"))
	assert.Equal(t, "A", passes[0].GetString("gate"))

	linked, err := app.FindRecordById(models.CollectionSmsParsed, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, "payment:"+res.PaymentID, linked.GetString("matched_entity"))
}

func TestProcessParsedSms_TicketOutranksOlderMembership(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	memberships := NewMembershipService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	// The White plan costs the same as one VIP seat.
	plan, err := app.FindFirstRecordByFilter(models.CollectionMembershipPlans, "name = 'White'")
	require.NoError(t, err)

	upgrade, err := memberships.Upgrade(buyerID, plan.Id, "mtn")
	require.NoError(t, err)
	require.Equal(t, int64(25000), upgrade.Amount)

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)

	sms := seedSms(t, app, 25000, 0.95, "src-priority-001")
	result, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)

	// The membership obligation is older, but tickets match first.
	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, models.PaymentKindTicket, result.Kind)
	assert.Equal(t, res.PaymentID, result.PaymentID)

	pending, err := app.FindRecordById(models.CollectionPayments, upgrade.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentPending), pending.GetString("status"))
}

func TestProcessParsedSms_LowConfidenceFlagsCandidate(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)
	sms := seedSms(t, app, 25000, 0.30, "src-lowconf-001")

	result, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManualReview, result.Outcome)
	assert.Equal(t, models.ReviewReasonLowConfidence, result.Reason)
	assert.Equal(t, res.PaymentID, result.PaymentID)

	// The candidate itself goes under review; no extra payment appears.
	flagged, err := app.FindRecordById(models.CollectionPayments, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentManualReview), flagged.GetString("status"))
	assert.Equal(t, sms.Id, flagged.GetString("sms_parsed"))
	assert.Len(t, allPayments(t, app), 1)

	linked, err := app.FindRecordById(models.CollectionSmsParsed, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("candidate:ticket:%s", res.PaymentID), linked.GetString("matched_entity"))

	// A later notification for the same amount must not settle the flagged
	// obligation behind the reviewer's back.
	second := seedSms(t, app, 25000, 0.95, "src-lowconf-002")
	again, err := rec.ProcessParsedSms(ctx, second.Id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManualReview, again.Outcome)
	assert.Equal(t, models.ReviewReasonNoMatch, again.Reason)

	flagged, err = app.FindRecordById(models.CollectionPayments, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentManualReview), flagged.GetString("status"))
	assert.Equal(t, sms.Id, flagged.GetString("sms_parsed"))
}

func TestProcessParsedSms_NoCandidateCreatesReviewPayment(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	sms := seedSms(t, app, 7777, 0.90, "src-nomatch-001")

	result, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeManualReview, result.Outcome)
	assert.Equal(t, models.ReviewReasonNoMatch, result.Reason)
	require.NotEmpty(t, result.PaymentID)

	review, err := app.FindRecordById(models.CollectionPayments, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentKindTicket), review.GetString("kind"))
	assert.Equal(t, string(models.PaymentManualReview), review.GetString("status"))
	assert.Equal(t, sms.Id, review.GetString("sms_parsed"))

	queue, err := rec.ListManualReview(10)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, result.PaymentID, queue[0].PaymentID)
	assert.Equal(t, models.ReviewReasonNoMatch, queue[0].Reason)
}

func TestProcessParsedSms_MissingParsed(t *testing.T) {
	app := newStoreApp(t)
	rec := newReconciler(app, testConfig())

	result, err := rec.ProcessParsedSms(context.Background(), "missing00000001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissingParsed, result.Outcome)

	// No side effects.
	assert.Empty(t, allPayments(t, app))
}

func TestProcessParsedSms_SettledNotificationIsNoOp(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)
	sms := seedSms(t, app, 25000, 0.90, "src-idem-001")

	first, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, first.Outcome)

	second, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyLinked, second.Outcome)

	assert.Len(t, passesForOrder(t, app, res.OrderID), 1)
}

func TestAttachSmsToPayment_ResolvesFlaggedCandidate(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)
	sms := seedSms(t, app, 25000, 0.20, "src-attach-001")

	flagged, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	require.Equal(t, OutcomeManualReview, flagged.Outcome)

	require.NoError(t, rec.AttachSmsToPayment(ctx, res.PaymentID, sms.Id))

	payment, err := app.FindRecordById(models.CollectionPayments, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentConfirmed), payment.GetString("status"))
	assert.Equal(t, sms.Id, payment.GetString("sms_parsed"))

	order, err := app.FindRecordById(models.CollectionTicketOrders, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderPaid), order.GetString("status"))
	assert.Len(t, passesForOrder(t, app, res.OrderID), 1)
}

func TestAttachSmsToPayment_FailedConfirmKeepsReviewState(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	rec := newReconciler(app, cfg)
	ctx := context.Background()

	res := vipCheckout(t, checkout, match.Id, buyerID, 1)
	sms := seedSms(t, app, 25000, 0.20, "src-strand-001")

	flagged, err := rec.ProcessParsedSms(ctx, sms.Id)
	require.NoError(t, err)
	require.Equal(t, OutcomeManualReview, flagged.Outcome)

	// The order falls out from under the review before the operator acts.
	order, err := app.FindRecordById(models.CollectionTicketOrders, res.OrderID)
	require.NoError(t, err)
	order.Set("status", string(models.OrderCancelled))
	require.NoError(t, app.Save(order))

	err = rec.AttachSmsToPayment(ctx, res.PaymentID, sms.Id)
	assert.ErrorIs(t, err, status.ErrOrderNotPending)

	// The failed settle rolls back; the payment stays in the review queue.
	payment, err := app.FindRecordById(models.CollectionPayments, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PaymentManualReview), payment.GetString("status"))
	assert.Equal(t, sms.Id, payment.GetString("sms_parsed"))
}

func issuePaidPasses(t *testing.T, app core.App, cfg *config.Config, userID string, quantity int) (*PassService, string, []models.IssuedPass) {
	t.Helper()

	match := seedMatch(t, app)
	checkout := NewCheckoutService(app, cfg)
	res := vipCheckout(t, checkout, match.Id, userID, quantity)

	order, err := app.FindRecordById(models.CollectionTicketOrders, res.OrderID)
	require.NoError(t, err)
	order.Set("status", string(models.OrderPaid))
	require.NoError(t, app.Save(order))

	passes := NewPassService(app, cfg, realtime.NewNoop(), nil, nil)
	issued, err := passes.IssuePassesForOrder(app, res.OrderID)
	require.NoError(t, err)
	require.Len(t, issued, quantity)
	return passes, res.OrderID, issued
}

func TestIssuePassesForOrder_IssuesOncePerOrder(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()

	passes, orderID, issued := issuePaidPasses(t, app, cfg, buyerID, 2)
	for _, pass := range issued {
		assert.NotEmpty(t, pass.Token)
		assert.Equal(t, "VIP", pass.Zone)
		assert.Equal(t, "A", pass.Gate)
	}

	again, err := passes.IssuePassesForOrder(app, orderID)
	require.NoError(t, err)
	assert.Empty(t, again)

	assert.Len(t, passesForOrder(t, app, orderID), 2)
}

func TestVerifyPassToken_SingleUse(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	ctx := context.Background()

	passes, _, issued := issuePaidPasses(t, app, cfg, buyerID, 1)
	token := issued[0].Token

	// Dry run reports without consuming.
	preview, err := passes.VerifyPassToken(ctx, token, "steward-7", true)
	require.NoError(t, err)
	assert.Equal(t, models.ScanVerified, preview.Result)
	record, err := app.FindRecordById(models.CollectionTicketPasses, issued[0].PassID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PassActive), record.GetString("state"))

	first, err := passes.VerifyPassToken(ctx, token, "steward-7", false)
	require.NoError(t, err)
	assert.Equal(t, models.ScanVerified, first.Result)
	assert.Equal(t, "A", first.Gate)

	record, err = app.FindRecordById(models.CollectionTicketPasses, issued[0].PassID)
	require.NoError(t, err)
	assert.Equal(t, string(models.PassUsed), record.GetString("state"))
	assert.False(t, record.GetDateTime("consumed_at").IsZero())

	// A second presentation is rejected and still logged.
	second, err := passes.VerifyPassToken(ctx, token, "steward-9", false)
	require.NoError(t, err)
	assert.Equal(t, models.ScanUsed, second.Result)

	scans, err := app.FindRecordsByFilter(
		models.CollectionGateScans,
		"pass = {:pass}",
		"+created",
		0,
		0,
		dbx.Params{"pass": issued[0].PassID},
	)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, string(models.ScanVerified), scans[0].GetString("result"))
	assert.Equal(t, string(models.ScanUsed), scans[1].GetString("result"))

	// Unknown tokens report not_found without an error.
	missing, err := passes.VerifyPassToken(ctx, "nosuchtoken", "steward-7", false)
	require.NoError(t, err)
	assert.Equal(t, models.ScanNotFound, missing.Result)
}

func TestRotatePassToken_InvalidatesPreviousToken(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	ctx := context.Background()

	passes, _, issued := issuePaidPasses(t, app, cfg, buyerID, 1)
	oldToken := issued[0].Token

	_, _, err := passes.RotatePassToken(ctx, issued[0].PassID, strangerID)
	assert.ErrorIs(t, err, status.ErrNotPassOwner)

	newToken, validFor, err := passes.RotatePassToken(ctx, issued[0].PassID, buyerID)
	require.NoError(t, err)
	assert.Equal(t, cfg.RotationValidity, validFor)
	assert.NotEqual(t, oldToken, newToken)

	stale, err := passes.VerifyPassToken(ctx, oldToken, "steward-7", true)
	require.NoError(t, err)
	assert.Equal(t, models.ScanNotFound, stale.Result)

	fresh, err := passes.VerifyPassToken(ctx, newToken, "steward-7", true)
	require.NoError(t, err)
	assert.Equal(t, models.ScanVerified, fresh.Result)

	// Consumed passes stop rotating.
	_, err = passes.VerifyPassToken(ctx, newToken, "steward-7", false)
	require.NoError(t, err)
	_, _, err = passes.RotatePassToken(ctx, issued[0].PassID, buyerID)
	assert.ErrorIs(t, err, status.ErrPassNotActive)
}

func TestClaimTransfer_MovesOwnership(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	ctx := context.Background()

	passes, _, issued := issuePaidPasses(t, app, cfg, holderID, 1)
	passID := issued[0].PassID

	code, err := passes.InitiateTransfer(ctx, passID, holderID, "")
	require.NoError(t, err)
	require.Len(t, code, 6)

	_, err = passes.ClaimTransfer(ctx, passID, "------", claimantID)
	assert.ErrorIs(t, err, status.ErrTransferCodeInvalid)

	claimed, err := passes.ClaimTransfer(ctx, passID, code, claimantID)
	require.NoError(t, err)
	require.NotEmpty(t, claimed.Token)

	// The claim rotates the token; the seller's copy is dead.
	stale, err := passes.VerifyPassToken(ctx, issued[0].Token, "steward-7", true)
	require.NoError(t, err)
	assert.Equal(t, models.ScanNotFound, stale.Result)
	fresh, err := passes.VerifyPassToken(ctx, claimed.Token, "steward-7", true)
	require.NoError(t, err)
	assert.Equal(t, models.ScanVerified, fresh.Result)

	_, _, err = passes.RotatePassToken(ctx, passID, holderID)
	assert.ErrorIs(t, err, status.ErrNotPassOwner)
	_, _, err = passes.RotatePassToken(ctx, passID, claimantID)
	require.NoError(t, err)
}

func TestClaimTransfer_RespectsRecipientLock(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	ctx := context.Background()

	passes, _, issued := issuePaidPasses(t, app, cfg, holderID, 1)
	passID := issued[0].PassID

	code, err := passes.InitiateTransfer(ctx, passID, holderID, claimantID)
	require.NoError(t, err)

	_, err = passes.ClaimTransfer(ctx, passID, code, strangerID)
	assert.ErrorIs(t, err, status.ErrTransferLocked)

	_, err = passes.ClaimTransfer(ctx, passID, code, claimantID)
	require.NoError(t, err)
}

func TestClaimTransfer_ExpiredCode(t *testing.T) {
	app := newStoreApp(t)
	cfg := testConfig()
	ctx := context.Background()

	passes, _, issued := issuePaidPasses(t, app, cfg, holderID, 1)
	passID := issued[0].PassID

	code, err := passes.InitiateTransfer(ctx, passID, holderID, "")
	require.NoError(t, err)

	record, err := app.FindRecordById(models.CollectionTicketPasses, passID)
	require.NoError(t, err)
	expired, err := types.ParseDateTime(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	record.Set("transfer_expires_at", expired)
	require.NoError(t, app.Save(record))

	_, err = passes.ClaimTransfer(ctx, passID, code, claimantID)
	assert.ErrorIs(t, err, status.ErrTransferExpired)
}
