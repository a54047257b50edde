package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/redis/go-redis/v9"

	"fanzone/config"
	"fanzone/internal/realtime"
	"fanzone/internal/status"
	"fanzone/models"
	"fanzone/monitoring"
)

// Reconciliation outcomes reported to callers and metrics.
const (
	OutcomeConfirmed     = "confirmed"
	OutcomeManualReview  = "manual_review"
	OutcomeAlreadyLinked = "already_linked"
	OutcomeDuplicate     = "duplicate"
	OutcomeMissingParsed = "missing_parsed"
)

// ReconcileService matches parsed payment notifications to pending payments
// across the four domains and settles them. Matching walks the domains in a
// fixed priority order and takes the oldest candidate with the exact amount.
type ReconcileService struct {
	app         core.App
	cfg         *config.Config
	broadcaster realtime.Broadcaster
	passes      *PassService
	redis       *redis.Client
	monitor     *monitoring.Monitor
}

func NewReconcileService(
	app core.App,
	cfg *config.Config,
	broadcaster realtime.Broadcaster,
	passes *PassService,
	redisClient *redis.Client,
	monitor *monitoring.Monitor,
) *ReconcileService {
	return &ReconcileService{
		app:         app,
		cfg:         cfg,
		broadcaster: broadcaster,
		passes:      passes,
		redis:       redisClient,
		monitor:     monitor,
	}
}

// kindStrategy describes how one payment kind participates in matching:
// which relation holds its obligation, how to recognize a still-open
// candidate, and how to settle the obligation once money arrives.
type kindStrategy struct {
	kind            models.PaymentKind
	relField        string
	candidateFilter string
	confirm         func(s *ReconcileService, txApp core.App, payment *core.Record, sms *core.Record, announce *[]func(context.Context)) error
}

var kindStrategies = []kindStrategy{
	{
		kind:            models.PaymentKindTicket,
		relField:        "order",
		candidateFilter: "order.status = 'pending' && order.expires_at > {:now}",
		confirm:         (*ReconcileService).confirmTicket,
	},
	{
		kind:            models.PaymentKindMembership,
		relField:        "membership",
		candidateFilter: "membership.status = 'pending'",
		confirm:         (*ReconcileService).confirmMembership,
	},
	{
		kind:            models.PaymentKindShop,
		relField:        "shop_order",
		candidateFilter: "shop_order.status = 'pending'",
		confirm:         (*ReconcileService).confirmShop,
	},
	{
		kind:            models.PaymentKindDonation,
		relField:        "donation",
		candidateFilter: "donation.status = 'pending'",
		confirm:         (*ReconcileService).confirmDonation,
	},
}

func strategyFor(kind models.PaymentKind) *kindStrategy {
	for i := range kindStrategies {
		if kindStrategies[i].kind == kind {
			return &kindStrategies[i]
		}
	}
	return nil
}

// ReconcileResult reports what happened to one parsed notification.
type ReconcileResult struct {
	Outcome   string             `json:"outcome"`
	Kind      models.PaymentKind `json:"kind,omitempty"`
	PaymentID string             `json:"payment_id,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// ProcessParsedSms runs one notification through matching. An unknown
// notification id reports missing_parsed without touching anything.
// Re-processing a notification that already settled is a no-op, and a short
// lived lock keeps duplicate deliveries of the same source message from
// racing each other.
func (s *ReconcileService) ProcessParsedSms(ctx context.Context, smsID string) (*ReconcileResult, error) {
	started := time.Now()

	sms, err := s.app.FindRecordById(models.CollectionSmsParsed, smsID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ReconcileResult{Outcome: OutcomeMissingParsed}, nil
		}
		return nil, fmt.Errorf("find parsed sms %s: %w", smsID, err)
	}

	if sms.GetString("matched_entity") != "" {
		return &ReconcileResult{Outcome: OutcomeAlreadyLinked}, nil
	}

	if !s.acquireLock(ctx, sms) {
		return &ReconcileResult{Outcome: OutcomeDuplicate}, nil
	}
	defer s.releaseLock(ctx, sms)

	amount := int64(sms.GetInt("amount"))
	confidence := sms.GetFloat("confidence")

	candidate, strategy, err := s.findCandidate(amount)
	if err != nil {
		return nil, err
	}

	if confidence < s.cfg.ConfidenceThreshold {
		result, err := s.flagManualReview(ctx, sms, models.ReviewReasonLowConfidence, candidate, strategy)
		reviewKind := models.PaymentKindTicket
		if strategy != nil {
			reviewKind = strategy.kind
		}
		s.track(string(reviewKind), OutcomeManualReview, started)
		return result, err
	}

	if candidate == nil {
		result, err := s.flagManualReview(ctx, sms, models.ReviewReasonNoMatch, nil, nil)
		s.track(string(models.PaymentKindTicket), OutcomeManualReview, started)
		return result, err
	}

	if err := s.confirmPayment(ctx, candidate, sms, strategy); err != nil {
		return nil, err
	}

	s.track(string(strategy.kind), OutcomeConfirmed, started)
	return &ReconcileResult{
		Outcome:   OutcomeConfirmed,
		Kind:      strategy.kind,
		PaymentID: candidate.Id,
	}, nil
}

// findCandidate walks the domains in priority order and returns the oldest
// pending payment whose amount matches exactly and whose obligation is still
// open.
func (s *ReconcileService) findCandidate(amount int64) (*core.Record, *kindStrategy, error) {
	now := types.NowDateTime()

	for i := range kindStrategies {
		strategy := &kindStrategies[i]
		filter := "kind = {:kind} && status = {:status} && amount = {:amount} && sms_parsed = '' && " +
			strategy.candidateFilter

		candidates, err := s.app.FindRecordsByFilter(
			models.CollectionPayments,
			filter,
			"+created",
			1,
			0,
			dbx.Params{
				"kind":   string(strategy.kind),
				"status": string(models.PaymentPending),
				"amount": amount,
				"now":    now.String(),
			},
		)
		if err != nil {
			return nil, nil, fmt.Errorf("find %s candidates: %w", strategy.kind, err)
		}
		if len(candidates) > 0 {
			return candidates[0], strategy, nil
		}
	}

	return nil, nil, nil
}

// confirmPayment settles a matched payment and its obligation in one
// transaction, re-checking both sides inside it, then announces the result.
func (s *ReconcileService) confirmPayment(ctx context.Context, payment *core.Record, sms *core.Record, strategy *kindStrategy) error {
	var announce []func(context.Context)

	err := s.app.RunInTransaction(func(txApp core.App) error {
		return s.settle(txApp, payment.Id, sms, strategy, &announce)
	})
	if err != nil {
		return err
	}

	for _, fn := range announce {
		fn(ctx)
	}
	return nil
}

// settle runs inside a transaction. It re-reads the payment, marks it
// confirmed, settles its obligation through the kind strategy and binds the
// notification.
func (s *ReconcileService) settle(txApp core.App, paymentID string, sms *core.Record, strategy *kindStrategy, announce *[]func(context.Context)) error {
	fresh, err := txApp.FindRecordById(models.CollectionPayments, paymentID)
	if err != nil {
		return err
	}
	if models.PaymentStatus(fresh.GetString("status")) != models.PaymentPending {
		return status.ErrPaymentConfirmed
	}
	if fresh.GetString("sms_parsed") != "" {
		return status.ErrPaymentSmsConflict
	}

	var meta models.PaymentMeta
	if err := fresh.UnmarshalJSONField("metadata", &meta); err != nil {
		meta = models.PaymentMeta{}
	}
	meta.Ref = sms.GetString("ref")
	meta.ManualReason = ""

	fresh.Set("status", string(models.PaymentConfirmed))
	fresh.Set("sms_parsed", sms.Id)
	fresh.Set("confirmed_at", types.NowDateTime())
	fresh.Set("metadata", meta)
	if err := txApp.Save(fresh); err != nil {
		return fmt.Errorf("confirm payment %s: %w", fresh.Id, err)
	}

	if err := strategy.confirm(s, txApp, fresh, sms, announce); err != nil {
		return err
	}

	sms.Set("matched_entity", fmt.Sprintf("payment:%s", fresh.Id))
	return txApp.Save(sms)
}

func (s *ReconcileService) confirmTicket(txApp core.App, payment *core.Record, sms *core.Record, announce *[]func(context.Context)) error {
	order, err := txApp.FindRecordById(models.CollectionTicketOrders, payment.GetString("order"))
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if models.OrderStatus(order.GetString("status")) != models.OrderPending {
		return status.ErrOrderNotPending
	}

	order.Set("status", string(models.OrderPaid))
	order.Set("sms_ref", sms.GetString("ref"))
	if err := txApp.Save(order); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}

	issued, err := s.passes.IssuePassesForOrder(txApp, order.Id)
	if err != nil {
		return fmt.Errorf("issue passes: %w", err)
	}

	event := realtime.TicketOrderConfirmedEvent{
		OrderID:   order.Id,
		PaymentID: payment.Id,
	}
	for _, pass := range issued {
		event.Passes = append(event.Passes, realtime.PassSummary{PassID: pass.PassID, Zone: pass.Zone})
	}
	*announce = append(*announce, func(ctx context.Context) {
		s.broadcaster.NotifyTicketOrderConfirmed(ctx, event)
	})
	return nil
}

func (s *ReconcileService) confirmMembership(txApp core.App, payment *core.Record, _ *core.Record, announce *[]func(context.Context)) error {
	membership, err := txApp.FindRecordById(models.CollectionMemberships, payment.GetString("membership"))
	if err != nil {
		return fmt.Errorf("find membership: %w", err)
	}
	if models.MembershipStatus(membership.GetString("status")) != models.MembershipPending {
		return status.ErrMissingEntity
	}

	days := s.cfg.MembershipValidityDays
	if plan, err := txApp.FindRecordById(models.CollectionMembershipPlans, membership.GetString("plan")); err == nil {
		if d := plan.GetInt("duration_days"); d > 0 {
			days = d
		}
	}

	now := time.Now()
	expires := now.AddDate(0, 0, days)
	membership.Set("status", string(models.MembershipActive))
	membership.Set("started_at", now)
	membership.Set("expires_at", expires)
	if err := txApp.Save(membership); err != nil {
		return fmt.Errorf("activate membership: %w", err)
	}

	event := realtime.MembershipActivatedEvent{
		MembershipID: membership.Id,
		ValidUntil:   expires.UTC().Format(time.RFC3339),
	}
	*announce = append(*announce, func(ctx context.Context) {
		s.broadcaster.NotifyMembershipActivated(ctx, event)
	})
	return nil
}

func (s *ReconcileService) confirmShop(txApp core.App, payment *core.Record, _ *core.Record, announce *[]func(context.Context)) error {
	order, err := txApp.FindRecordById(models.CollectionShopOrders, payment.GetString("shop_order"))
	if err != nil {
		return fmt.Errorf("find shop order: %w", err)
	}
	if models.ShopOrderStatus(order.GetString("status")) != models.ShopOrderPending {
		return status.ErrMissingEntity
	}

	order.Set("status", string(models.ShopOrderConfirmed))
	if err := txApp.Save(order); err != nil {
		return fmt.Errorf("confirm shop order: %w", err)
	}

	event := realtime.ShopOrderConfirmedEvent{OrderID: order.Id, PaymentID: payment.Id}
	*announce = append(*announce, func(ctx context.Context) {
		s.broadcaster.NotifyShopOrderConfirmed(ctx, event)
	})
	return nil
}

func (s *ReconcileService) confirmDonation(txApp core.App, payment *core.Record, _ *core.Record, announce *[]func(context.Context)) error {
	donation, err := txApp.FindRecordById(models.CollectionDonations, payment.GetString("donation"))
	if err != nil {
		return fmt.Errorf("find donation: %w", err)
	}
	if models.DonationStatus(donation.GetString("status")) != models.DonationPending {
		return status.ErrMissingEntity
	}

	donation.Set("status", string(models.DonationConfirmed))
	if err := txApp.Save(donation); err != nil {
		return fmt.Errorf("confirm donation: %w", err)
	}

	event := realtime.DonationConfirmedEvent{DonationID: donation.Id, PaymentID: payment.Id}
	*announce = append(*announce, func(ctx context.Context) {
		s.broadcaster.NotifyDonationConfirmed(ctx, event)
	})
	return nil
}

// flagManualReview routes a doubtful notification to the admin queue. When a
// candidate obligation exists it is the one tagged manual_review, with the
// notification linked, so it stops being a live matching target until an
// operator resolves it. Only a notification with no candidate at all
// materializes a standalone review payment.
func (s *ReconcileService) flagManualReview(ctx context.Context, sms *core.Record, reason string, candidate *core.Record, strategy *kindStrategy) (*ReconcileResult, error) {
	result := &ReconcileResult{Outcome: OutcomeManualReview, Reason: reason}

	err := s.app.RunInTransaction(func(txApp core.App) error {
		if candidate != nil && strategy != nil {
			flagged, err := txApp.FindRecordById(models.CollectionPayments, candidate.Id)
			if err != nil {
				return err
			}

			var meta models.PaymentMeta
			if err := flagged.UnmarshalJSONField("metadata", &meta); err != nil {
				meta = models.PaymentMeta{}
			}
			meta.Ref = sms.GetString("ref")
			meta.ManualReason = reason

			flagged.Set("status", string(models.PaymentManualReview))
			flagged.Set("sms_parsed", sms.Id)
			flagged.Set("metadata", meta)
			if err := txApp.Save(flagged); err != nil {
				return fmt.Errorf("flag payment for review: %w", err)
			}
			result.Kind = strategy.kind
			result.PaymentID = flagged.Id

			sms.Set("matched_entity", fmt.Sprintf("candidate:%s:%s", strategy.kind, flagged.Id))
			return txApp.Save(sms)
		}

		collection, err := txApp.FindCollectionByNameOrId(models.CollectionPayments)
		if err != nil {
			return err
		}

		review := core.NewRecord(collection)
		review.Set("kind", string(models.PaymentKindTicket))
		review.Set("amount", sms.GetInt("amount"))
		review.Set("currency", sms.GetString("currency"))
		review.Set("status", string(models.PaymentManualReview))
		review.Set("sms_parsed", sms.Id)
		review.Set("metadata", models.PaymentMeta{
			Ref:          sms.GetString("ref"),
			ManualReason: reason,
		})
		if err := txApp.Save(review); err != nil {
			return fmt.Errorf("save review payment: %w", err)
		}
		result.PaymentID = review.Id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bumpReviewBacklog(ctx, 1)
	s.broadcaster.NotifyPaymentForManualReview(ctx, realtime.ManualReviewEvent{
		SmsParsedID: sms.Id,
		Amount:      int64(sms.GetInt("amount")),
	})

	return result, nil
}

// AttachSmsToPayment is the manual resolution path: an operator binds a
// notification to a specific payment. Confirmed payments and payments
// already bound to a different notification are rejected outright.
func (s *ReconcileService) AttachSmsToPayment(ctx context.Context, paymentID, smsID string) error {
	payment, err := s.app.FindRecordById(models.CollectionPayments, paymentID)
	if err != nil {
		return fmt.Errorf("find payment %s: %w", paymentID, err)
	}
	sms, err := s.app.FindRecordById(models.CollectionSmsParsed, smsID)
	if err != nil {
		return fmt.Errorf("find parsed sms %s: %w", smsID, err)
	}

	switch models.PaymentStatus(payment.GetString("status")) {
	case models.PaymentConfirmed:
		return status.ErrPaymentConfirmed
	case models.PaymentFailed:
		return status.ErrOrderNotPending
	}

	// On a flagged payment the linked notification is only a review marker,
	// so the operator may bind a different one.
	reopening := models.PaymentStatus(payment.GetString("status")) == models.PaymentManualReview
	if linked := payment.GetString("sms_parsed"); !reopening && linked != "" && linked != sms.Id {
		return status.ErrPaymentSmsConflict
	}

	strategy := strategyFor(models.PaymentKind(payment.GetString("kind")))
	if strategy == nil || payment.GetString(strategy.relField) == "" {
		return status.ErrMissingEntity
	}

	// A flagged payment is reopened and settled inside one transaction so a
	// failed confirm rolls the review state back instead of stranding it.
	var announce []func(context.Context)
	err = s.app.RunInTransaction(func(txApp core.App) error {
		if reopening {
			flagged, err := txApp.FindRecordById(models.CollectionPayments, payment.Id)
			if err != nil {
				return err
			}
			flagged.Set("status", string(models.PaymentPending))
			flagged.Set("sms_parsed", "")
			if err := txApp.Save(flagged); err != nil {
				return fmt.Errorf("reopen payment %s: %w", flagged.Id, err)
			}
		}
		return s.settle(txApp, payment.Id, sms, strategy, &announce)
	})
	if err != nil {
		return err
	}

	if reopening {
		s.bumpReviewBacklog(ctx, -1)
	}
	for _, fn := range announce {
		fn(ctx)
	}
	return nil
}

// ManualReviewEntry is one row of the operator review queue.
type ManualReviewEntry struct {
	PaymentID   string    `json:"payment_id"`
	SmsParsedID string    `json:"sms_parsed_id,omitempty"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Ref         string    `json:"ref,omitempty"`
	Reason      string    `json:"reason"`
	Candidate   string    `json:"candidate,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListManualReview returns the open review queue, oldest first.
func (s *ReconcileService) ListManualReview(limit int) ([]ManualReviewEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	records, err := s.app.FindRecordsByFilter(
		models.CollectionPayments,
		"status = {:status}",
		"+created",
		limit,
		0,
		dbx.Params{"status": string(models.PaymentManualReview)},
	)
	if err != nil {
		return nil, fmt.Errorf("list manual review: %w", err)
	}

	entries := make([]ManualReviewEntry, 0, len(records))
	for _, record := range records {
		var meta models.PaymentMeta
		_ = record.UnmarshalJSONField("metadata", &meta)

		entry := ManualReviewEntry{
			PaymentID:   record.Id,
			SmsParsedID: record.GetString("sms_parsed"),
			Amount:      int64(record.GetInt("amount")),
			Currency:    record.GetString("currency"),
			Ref:         meta.Ref,
			Reason:      meta.ManualReason,
			CreatedAt:   record.GetDateTime("created").Time(),
		}
		if entry.SmsParsedID != "" {
			if sms, err := s.app.FindRecordById(models.CollectionSmsParsed, entry.SmsParsedID); err == nil {
				entry.Candidate = sms.GetString("matched_entity")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *ReconcileService) acquireLock(ctx context.Context, sms *core.Record) bool {
	if s.redis == nil {
		return true
	}
	key := "reconcile:lock:" + sms.GetString("source_message_id")
	ok, err := s.redis.SetNX(ctx, key, sms.Id, 10*time.Minute).Result()
	if err != nil {
		slog.Warn("reconcile lock unavailable, proceeding", "error", err)
		return true
	}
	return ok
}

func (s *ReconcileService) releaseLock(ctx context.Context, sms *core.Record) {
	if s.redis == nil {
		return
	}
	s.redis.Del(ctx, "reconcile:lock:"+sms.GetString("source_message_id"))
}

func (s *ReconcileService) bumpReviewBacklog(ctx context.Context, delta int64) {
	if s.redis == nil {
		return
	}
	if err := s.redis.IncrBy(ctx, monitoring.ReviewBacklogKey, delta).Err(); err != nil {
		slog.Warn("review backlog counter update failed", "error", err)
	}
}

func (s *ReconcileService) track(kind, outcome string, started time.Time) {
	if s.monitor == nil {
		return
	}
	s.monitor.TrackReconcileOutcome(kind, outcome, time.Since(started))
}
