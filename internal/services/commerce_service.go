package services

import (
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"fanzone/config"
	"fanzone/internal/status"
	"fanzone/models"
)

// CommerceService opens shop and donation obligations. Like checkout and
// membership upgrades, it only creates pending state; money arrival is the
// reconciler's business.
type CommerceService struct {
	app core.App
	cfg *config.Config
}

func NewCommerceService(app core.App, cfg *config.Config) *CommerceService {
	return &CommerceService{app: app, cfg: cfg}
}

type PendingObligation struct {
	EntityID  string `json:"entity_id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	UssdCode  string `json:"ussd_code"`
}

// CreateShopOrder opens a pending shop order for an externally priced cart
// total.
func (s *CommerceService) CreateShopOrder(userID string, total int64, channel string) (*PendingObligation, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: shop order total", status.ErrPriceMismatch)
	}

	channel = NormalizeChannel(channel)
	result := &PendingObligation{
		Amount:   total,
		UssdCode: BuildUssdCode(s.cfg, channel, total),
	}

	err := s.app.RunInTransaction(func(txApp core.App) error {
		if userID != "" {
			if err := ensureUser(txApp, userID); err != nil {
				return fmt.Errorf("ensure user: %w", err)
			}
		}

		orders, err := txApp.FindCollectionByNameOrId(models.CollectionShopOrders)
		if err != nil {
			return err
		}
		order := core.NewRecord(orders)
		order.Set("user", userID)
		order.Set("total", total)
		order.Set("status", string(models.ShopOrderPending))
		if err := txApp.Save(order); err != nil {
			return fmt.Errorf("save shop order: %w", err)
		}

		payments, err := txApp.FindCollectionByNameOrId(models.CollectionPayments)
		if err != nil {
			return err
		}
		payment := core.NewRecord(payments)
		payment.Set("kind", string(models.PaymentKindShop))
		payment.Set("amount", total)
		payment.Set("currency", s.cfg.Currency)
		payment.Set("status", string(models.PaymentPending))
		payment.Set("shop_order", order.Id)
		payment.Set("metadata", models.PaymentMeta{
			Shop: &models.ShopPaymentMeta{Channel: channel},
		})
		if err := txApp.Save(payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		result.EntityID = order.Id
		result.PaymentID = payment.Id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CreateDonation opens a pending donation toward a club project.
func (s *CommerceService) CreateDonation(userID, project string, amount int64, channel string) (*PendingObligation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: donation amount", status.ErrPriceMismatch)
	}
	if project == "" {
		return nil, fmt.Errorf("%w: donation project", status.ErrMissingEntity)
	}

	channel = NormalizeChannel(channel)
	result := &PendingObligation{
		Amount:   amount,
		UssdCode: BuildUssdCode(s.cfg, channel, amount),
	}

	err := s.app.RunInTransaction(func(txApp core.App) error {
		if userID != "" {
			if err := ensureUser(txApp, userID); err != nil {
				return fmt.Errorf("ensure user: %w", err)
			}
		}

		donations, err := txApp.FindCollectionByNameOrId(models.CollectionDonations)
		if err != nil {
			return err
		}
		donation := core.NewRecord(donations)
		donation.Set("user", userID)
		donation.Set("project", project)
		donation.Set("amount", amount)
		donation.Set("status", string(models.DonationPending))
		if err := txApp.Save(donation); err != nil {
			return fmt.Errorf("save donation: %w", err)
		}

		payments, err := txApp.FindCollectionByNameOrId(models.CollectionPayments)
		if err != nil {
			return err
		}
		payment := core.NewRecord(payments)
		payment.Set("kind", string(models.PaymentKindDonation))
		payment.Set("amount", amount)
		payment.Set("currency", s.cfg.Currency)
		payment.Set("status", string(models.PaymentPending))
		payment.Set("donation", donation.Id)
		payment.Set("metadata", models.PaymentMeta{
			Donation: &models.DonationPaymentMeta{ProjectID: project, Channel: channel},
		})
		if err := txApp.Save(payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		result.EntityID = donation.Id
		result.PaymentID = payment.Id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
