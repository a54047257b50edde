package services

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"fanzone/config"
	"fanzone/internal/status"
	"fanzone/models"
)

// MembershipService sells membership plans. An upgrade creates a pending
// membership plus the payment the reconciler will later settle; activation
// only ever happens through reconciliation or manual attach.
type MembershipService struct {
	app core.App
	cfg *config.Config
}

func NewMembershipService(app core.App, cfg *config.Config) *MembershipService {
	return &MembershipService{app: app, cfg: cfg}
}

// ListPlans returns the active plans, cheapest first.
func (s *MembershipService) ListPlans() ([]models.MembershipPlan, error) {
	records, err := s.app.FindRecordsByFilter(
		models.CollectionMembershipPlans,
		"is_active = true",
		"+price",
		0,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	plans := make([]models.MembershipPlan, 0, len(records))
	for _, record := range records {
		plans = append(plans, models.MembershipPlan{
			ID:           record.Id,
			Name:         record.GetString("name"),
			Price:        int64(record.GetInt("price")),
			DurationDays: record.GetInt("duration_days"),
			IsActive:     record.GetBool("is_active"),
		})
	}
	return plans, nil
}

type UpgradeResult struct {
	MembershipID string `json:"membership_id"`
	PaymentID    string `json:"payment_id"`
	Amount       int64  `json:"amount"`
	UssdCode     string `json:"ussd_code"`
}

// Upgrade opens a pending membership on a plan. A user with a membership
// already pending on the same plan gets the existing one back instead of a
// second obligation.
func (s *MembershipService) Upgrade(userID, planID, channel string) (*UpgradeResult, error) {
	plan, err := s.app.FindRecordById(models.CollectionMembershipPlans, planID)
	if err != nil {
		return nil, fmt.Errorf("find plan %s: %w", planID, err)
	}
	if !plan.GetBool("is_active") {
		return nil, fmt.Errorf("%w: plan %s", status.ErrMissingEntity, planID)
	}

	channel = NormalizeChannel(channel)
	price := int64(plan.GetInt("price"))
	result := &UpgradeResult{
		Amount:   price,
		UssdCode: BuildUssdCode(s.cfg, channel, price),
	}

	err = s.app.RunInTransaction(func(txApp core.App) error {
		if err := ensureUser(txApp, userID); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		existing, err := txApp.FindFirstRecordByFilter(
			models.CollectionMemberships,
			"user = {:user} && plan = {:plan} && status = 'pending'",
			dbx.Params{"user": userID, "plan": planID},
		)
		if err == nil {
			result.MembershipID = existing.Id
			payment, err := txApp.FindFirstRecordByFilter(
				models.CollectionPayments,
				"membership = {:membership} && status = 'pending'",
				dbx.Params{"membership": existing.Id},
			)
			if err != nil {
				return fmt.Errorf("find pending membership payment: %w", err)
			}
			result.PaymentID = payment.Id
			return nil
		}

		memberships, err := txApp.FindCollectionByNameOrId(models.CollectionMemberships)
		if err != nil {
			return err
		}
		membership := core.NewRecord(memberships)
		membership.Set("user", userID)
		membership.Set("plan", planID)
		membership.Set("status", string(models.MembershipPending))
		if err := txApp.Save(membership); err != nil {
			return fmt.Errorf("save membership: %w", err)
		}

		payments, err := txApp.FindCollectionByNameOrId(models.CollectionPayments)
		if err != nil {
			return err
		}
		payment := core.NewRecord(payments)
		payment.Set("kind", string(models.PaymentKindMembership))
		payment.Set("amount", price)
		payment.Set("currency", s.cfg.Currency)
		payment.Set("status", string(models.PaymentPending))
		payment.Set("membership", membership.Id)
		payment.Set("metadata", models.PaymentMeta{
			Membership: &models.MembershipPaymentMeta{PlanID: planID, Channel: channel},
		})
		if err := txApp.Save(payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		result.MembershipID = membership.Id
		result.PaymentID = payment.Id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Status returns the user's most relevant membership: an active one if any,
// otherwise the latest pending one. Expiry is folded in at read time.
func (s *MembershipService) Status(userID string) (*models.Membership, error) {
	records, err := s.app.FindRecordsByFilter(
		models.CollectionMemberships,
		"user = {:user} && status != 'expired'",
		"-created",
		0,
		0,
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}

	now := time.Now()
	var pending *models.Membership
	for _, record := range records {
		membership := recordToMembership(record)
		if membership.Status == models.MembershipActive {
			if membership.ExpiresAt != nil && now.After(*membership.ExpiresAt) {
				membership.Status = models.MembershipExpired
				continue
			}
			return &membership, nil
		}
		if pending == nil {
			m := membership
			pending = &m
		}
	}
	return pending, nil
}

func recordToMembership(record *core.Record) models.Membership {
	membership := models.Membership{
		ID:        record.Id,
		UserID:    record.GetString("user"),
		PlanID:    record.GetString("plan"),
		Status:    models.MembershipStatus(record.GetString("status")),
		CreatedAt: record.GetDateTime("created").Time(),
	}
	if started := record.GetDateTime("started_at").Time(); !started.IsZero() {
		membership.StartedAt = &started
	}
	if expires := record.GetDateTime("expires_at").Time(); !expires.IsZero() {
		membership.ExpiresAt = &expires
	}
	return membership
}
