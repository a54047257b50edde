package services

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"fanzone/config"
	"fanzone/internal/status"
	"fanzone/models"
)

// CheckoutService creates and cancels pending ticket orders under the
// per-zone capacity invariant. The read-aggregate-then-insert sequence runs
// inside a store transaction so two concurrent checkouts for the last seat
// cannot both succeed.
type CheckoutService struct {
	app core.App
	cfg *config.Config
}

func NewCheckoutService(app core.App, cfg *config.Config) *CheckoutService {
	return &CheckoutService{app: app, cfg: cfg}
}

type CheckoutItem struct {
	Zone     string `json:"zone"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type CheckoutRequest struct {
	MatchID      string         `json:"match_id"`
	Items        []CheckoutItem `json:"items"`
	Channel      string         `json:"channel"`
	UserID       string         `json:"user_id,omitempty"`
	ContactName  string         `json:"contact_name,omitempty"`
	ContactPhone string         `json:"contact_phone,omitempty"`
}

type CheckoutResult struct {
	OrderID   string    `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Total     int64     `json:"total"`
	UssdCode  string    `json:"ussd_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CapacityError carries the exact number of seats left when a request does
// not fit. It unwraps to status.ErrCapacityExceeded.
type CapacityError struct {
	Zone      string
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("only %d seats remain in %s", e.Remaining, e.Zone)
}

func (e *CapacityError) Unwrap() error { return status.ErrCapacityExceeded }

type zoneRequest struct {
	zone     string
	quantity int
}

// CreatePendingOrder validates pricing against the canonical zone tables,
// checks capacity and creates the order, its line items and the linked
// pending payment in one transaction.
func (s *CheckoutService) CreatePendingOrder(req CheckoutRequest) (*CheckoutResult, error) {
	match, err := s.app.FindRecordById(models.CollectionMatches, req.MatchID)
	if err != nil {
		return nil, fmt.Errorf("find match %s: %w", req.MatchID, err)
	}
	if !models.MatchStatus(match.GetString("status")).Sellable() {
		return nil, status.ErrMatchNotSellable
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: empty order", status.ErrPriceMismatch)
	}

	requested, total, err := s.aggregateItems(req.Items)
	if err != nil {
		return nil, err
	}

	channel := NormalizeChannel(req.Channel)
	ussdCode := BuildUssdCode(s.cfg, channel, total)
	now := time.Now()
	expiresAt := now.Add(s.cfg.CheckoutHoldDuration)

	result := &CheckoutResult{Total: total, UssdCode: ussdCode, ExpiresAt: expiresAt}

	err = s.app.RunInTransaction(func(txApp core.App) error {
		held, err := heldSeatsByZone(txApp, req.MatchID, now)
		if err != nil {
			return fmt.Errorf("aggregate held seats: %w", err)
		}

		for _, zr := range requested {
			capacity, ok := s.cfg.ZoneCapacity[zr.zone]
			if !ok {
				return fmt.Errorf("%w: %s", status.ErrUnknownZone, zr.zone)
			}
			if held[zr.zone]+zr.quantity > capacity {
				remaining := capacity - held[zr.zone]
				if remaining < 0 {
					remaining = 0
				}
				return &CapacityError{Zone: zr.zone, Remaining: remaining}
			}
		}

		if req.UserID != "" {
			if err := ensureUser(txApp, req.UserID); err != nil {
				return fmt.Errorf("ensure user: %w", err)
			}
		}

		orders, err := txApp.FindCollectionByNameOrId(models.CollectionTicketOrders)
		if err != nil {
			return err
		}
		order := core.NewRecord(orders)
		order.Set("match", req.MatchID)
		order.Set("user", req.UserID)
		order.Set("total", total)
		order.Set("status", string(models.OrderPending))
		order.Set("ussd_code", ussdCode)
		order.Set("expires_at", expiresAt)
		if err := txApp.Save(order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		items, err := txApp.FindCollectionByNameOrId(models.CollectionTicketOrderItems)
		if err != nil {
			return err
		}
		for _, item := range req.Items {
			rec := core.NewRecord(items)
			rec.Set("order", order.Id)
			rec.Set("zone", item.Zone)
			rec.Set("price", item.Price)
			rec.Set("quantity", item.Quantity)
			if err := txApp.Save(rec); err != nil {
				return fmt.Errorf("save order item: %w", err)
			}
		}

		payments, err := txApp.FindCollectionByNameOrId(models.CollectionPayments)
		if err != nil {
			return err
		}
		payment := core.NewRecord(payments)
		payment.Set("kind", string(models.PaymentKindTicket))
		payment.Set("amount", total)
		payment.Set("currency", s.cfg.Currency)
		payment.Set("status", string(models.PaymentPending))
		payment.Set("order", order.Id)
		payment.Set("metadata", models.PaymentMeta{
			Ticket: &models.TicketPaymentMeta{
				Channel:      channel,
				ContactName:  req.ContactName,
				ContactPhone: req.ContactPhone,
			},
		})
		if err := txApp.Save(payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}

		result.OrderID = order.Id
		result.PaymentID = payment.Id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// aggregateItems validates every submitted line against the canonical zone
// price and folds duplicate zones together.
func (s *CheckoutService) aggregateItems(items []CheckoutItem) ([]zoneRequest, int64, error) {
	index := map[string]int{}
	var requested []zoneRequest
	total := decimal.Zero

	for _, item := range items {
		expected, ok := s.cfg.ZonePricing[item.Zone]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", status.ErrUnknownZone, item.Zone)
		}
		if item.Price != expected {
			return nil, 0, fmt.Errorf("%w: zone %s", status.ErrPriceMismatch, item.Zone)
		}
		if item.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: zone %s quantity", status.ErrPriceMismatch, item.Zone)
		}

		if i, ok := index[item.Zone]; ok {
			requested[i].quantity += item.Quantity
		} else {
			index[item.Zone] = len(requested)
			requested = append(requested, zoneRequest{zone: item.Zone, quantity: item.Quantity})
		}

		total = total.Add(decimal.NewFromInt(expected).Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return requested, total.IntPart(), nil
}

// heldSeatsByZone sums quantities across paid orders and unexpired pending
// holds for a match. Expired holds fall out of the sum purely by timestamp
// comparison; nothing sweeps them.
func heldSeatsByZone(app core.App, matchID string, now time.Time) (map[string]int, error) {
	nowDT, err := types.ParseDateTime(now.UTC())
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Zone string `db:"zone"`
		Held int    `db:"held"`
	}
	err = app.DB().
		Select("i.zone", "COALESCE(SUM(i.quantity), 0) AS held").
		From(models.CollectionTicketOrderItems + " i").
		InnerJoin(models.CollectionTicketOrders+" o", dbx.NewExp("[[o.id]] = [[i.order]]")).
		Where(dbx.And(
			dbx.HashExp{"o.match": matchID},
			dbx.Or(
				dbx.HashExp{"o.status": string(models.OrderPaid)},
				dbx.And(
					dbx.HashExp{"o.status": string(models.OrderPending)},
					dbx.NewExp("[[o.expires_at]] > {:now}", dbx.Params{"now": nowDT.String()}),
				),
			),
		)).
		GroupBy("i.zone").
		All(&rows)
	if err != nil {
		return nil, err
	}

	held := make(map[string]int, len(rows))
	for _, row := range rows {
		held[row.Zone] = row.Held
	}
	return held, nil
}

// CancelPendingOrder cancels an owner's pending order and fails its pending
// ticket payments so they stop being reconciliation candidates.
func (s *CheckoutService) CancelPendingOrder(orderID, userID string) error {
	order, err := s.app.FindRecordById(models.CollectionTicketOrders, orderID)
	if err != nil {
		return fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order.GetString("user") == "" || order.GetString("user") != userID {
		return status.ErrNotOrderOwner
	}
	if models.OrderStatus(order.GetString("status")) != models.OrderPending {
		return status.ErrOrderNotPending
	}

	return s.app.RunInTransaction(func(txApp core.App) error {
		payments, err := txApp.FindRecordsByFilter(
			models.CollectionPayments,
			"order = {:order} && kind = {:kind} && status = {:status}",
			"",
			0,
			0,
			dbx.Params{
				"order":  order.Id,
				"kind":   string(models.PaymentKindTicket),
				"status": string(models.PaymentPending),
			},
		)
		if err != nil {
			return fmt.Errorf("find order payments: %w", err)
		}

		for _, payment := range payments {
			var meta models.PaymentMeta
			if err := payment.UnmarshalJSONField("metadata", &meta); err != nil {
				meta = models.PaymentMeta{}
			}
			if meta.Ticket == nil {
				meta.Ticket = &models.TicketPaymentMeta{}
			}
			meta.Ticket.CancelledBy = "user"
			payment.Set("status", string(models.PaymentFailed))
			payment.Set("metadata", meta)
			if err := txApp.Save(payment); err != nil {
				return fmt.Errorf("fail payment %s: %w", payment.Id, err)
			}
		}

		order.Set("status", string(models.OrderCancelled))
		return txApp.Save(order)
	})
}

// ZoneAvailability is one zone row of the ticket catalog.
type ZoneAvailability struct {
	Zone      string `json:"zone"`
	Price     int64  `json:"price"`
	Capacity  int    `json:"capacity"`
	Remaining int    `json:"remaining"`
	Gate      string `json:"gate"`
}

type CatalogEntry struct {
	Match models.Match       `json:"match"`
	Zones []ZoneAvailability `json:"zones"`
}

// Catalog lists every match with per-zone price, capacity and remaining
// seats after lazy expiry.
func (s *CheckoutService) Catalog() ([]CatalogEntry, error) {
	matches, err := s.app.FindRecordsByFilter(models.CollectionMatches, "id != ''", "kickoff", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}

	now := time.Now()
	entries := make([]CatalogEntry, 0, len(matches))
	for _, match := range matches {
		held, err := heldSeatsByZone(s.app, match.Id, now)
		if err != nil {
			return nil, err
		}

		zones := make([]ZoneAvailability, 0, len(s.cfg.ZoneCapacity))
		for zone, capacity := range s.cfg.ZoneCapacity {
			remaining := capacity - held[zone]
			if remaining < 0 {
				remaining = 0
			}
			zones = append(zones, ZoneAvailability{
				Zone:      zone,
				Price:     s.cfg.ZonePricing[zone],
				Capacity:  capacity,
				Remaining: remaining,
				Gate:      ZoneGate(s.cfg, zone),
			})
		}

		entries = append(entries, CatalogEntry{
			Match: models.Match{
				ID:          match.Id,
				Opponent:    match.GetString("opponent"),
				Kickoff:     match.GetDateTime("kickoff").Time(),
				Venue:       match.GetString("venue"),
				Competition: match.GetString("competition"),
				Status:      models.MatchStatus(match.GetString("status")),
			},
			Zones: zones,
		})
	}

	return entries, nil
}

// OrderSummary is the owner-facing view of one order, with lazy expiry
// folded into the status.
type OrderSummary struct {
	ID        string                   `json:"id"`
	MatchID   string                   `json:"match_id"`
	Status    models.OrderStatus       `json:"status"`
	Total     int64                    `json:"total"`
	UssdCode  string                   `json:"ussd_code"`
	SmsRef    string                   `json:"sms_ref,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
	ExpiresAt time.Time                `json:"expires_at"`
	Items     []models.TicketOrderItem `json:"items"`
}

// ListOrdersForUser returns the user's most recent orders, newest first.
func (s *CheckoutService) ListOrdersForUser(userID string, limit int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	orders, err := s.app.FindRecordsByFilter(
		models.CollectionTicketOrders,
		"user = {:user}",
		"-created",
		limit,
		0,
		dbx.Params{"user": userID},
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	now := time.Now()
	summaries := make([]OrderSummary, 0, len(orders))
	for _, order := range orders {
		summary, err := s.orderSummary(order, now)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}

// GetOrder returns one order for its owner.
func (s *CheckoutService) GetOrder(orderID, userID string) (*OrderSummary, error) {
	order, err := s.app.FindRecordById(models.CollectionTicketOrders, orderID)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order.GetString("user") != userID {
		return nil, status.ErrNotOrderOwner
	}
	return s.orderSummary(order, time.Now())
}

func (s *CheckoutService) orderSummary(order *core.Record, now time.Time) (*OrderSummary, error) {
	items, err := s.app.FindRecordsByFilter(
		models.CollectionTicketOrderItems,
		"order = {:order}",
		"",
		0,
		0,
		dbx.Params{"order": order.Id},
	)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	model := models.TicketOrder{
		Status:    models.OrderStatus(order.GetString("status")),
		ExpiresAt: order.GetDateTime("expires_at").Time(),
	}

	summary := &OrderSummary{
		ID:        order.Id,
		MatchID:   order.GetString("match"),
		Status:    model.EffectiveStatus(now),
		Total:     int64(order.GetInt("total")),
		UssdCode:  order.GetString("ussd_code"),
		SmsRef:    order.GetString("sms_ref"),
		CreatedAt: order.GetDateTime("created").Time(),
		ExpiresAt: order.GetDateTime("expires_at").Time(),
	}
	for _, item := range items {
		summary.Items = append(summary.Items, models.TicketOrderItem{
			ID:       item.Id,
			OrderID:  order.Id,
			Zone:     item.GetString("zone"),
			Price:    int64(item.GetInt("price")),
			Quantity: item.GetInt("quantity"),
		})
	}
	return summary, nil
}
