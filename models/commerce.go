package models

import (
	"time"
)

type ShopOrderStatus string

const (
	ShopOrderPending   ShopOrderStatus = "pending"
	ShopOrderConfirmed ShopOrderStatus = "confirmed"
	ShopOrderCancelled ShopOrderStatus = "cancelled"
)

type ShopOrder struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	Total     int64           `json:"total"`
	Status    ShopOrderStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type DonationStatus string

const (
	DonationPending   DonationStatus = "pending"
	DonationConfirmed DonationStatus = "confirmed"
)

type Donation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Project   string         `json:"project"`
	Amount    int64          `json:"amount"`
	Status    DonationStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
