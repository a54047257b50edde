package models

// Store collection names.
const (
	CollectionMatches          = "matches"
	CollectionTicketOrders     = "ticket_orders"
	CollectionTicketOrderItems = "ticket_order_items"
	CollectionTicketPasses     = "ticket_passes"
	CollectionGateScans        = "gate_scans"
	CollectionPayments         = "payments"
	CollectionSmsParsed        = "sms_parsed"
	CollectionMembershipPlans  = "membership_plans"
	CollectionMemberships      = "memberships"
	CollectionShopOrders       = "shop_orders"
	CollectionDonations        = "donations"
	CollectionUsers            = "users"
)
