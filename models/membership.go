package models

import (
	"time"
)

type MembershipStatus string

const (
	MembershipPending MembershipStatus = "pending"
	MembershipActive  MembershipStatus = "active"
	MembershipExpired MembershipStatus = "expired"
)

type MembershipPlan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	DurationDays int    `json:"duration_days"`
	IsActive     bool   `json:"is_active"`
}

type Membership struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	PlanID    string           `json:"plan_id"`
	Status    MembershipStatus `json:"status"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
