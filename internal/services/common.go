package services

import (
	"fmt"
	"strings"

	"github.com/pocketbase/pocketbase/core"

	"fanzone/config"
	"fanzone/models"
)

const (
	ChannelMTN    = "mtn"
	ChannelAirtel = "airtel"
)

// NormalizeChannel folds operator aliases onto the two canonical channels.
// Anything unrecognized falls back to MTN, the dominant operator.
func NormalizeChannel(channel string) string {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case ChannelAirtel, "airtel_money", "airtel-money":
		return ChannelAirtel
	default:
		return ChannelMTN
	}
}

// BuildUssdCode renders the dial string a fan keys in to pay the given
// amount to the club's merchant shortcode. The trailing # is percent
// encoded so the string survives tel: links.
func BuildUssdCode(cfg *config.Config, channel string, amount int64) string {
	code := cfg.MTNPayCode
	if channel == ChannelAirtel {
		code = cfg.AirtelPayCode
	}
	return fmt.Sprintf("*182*1*%s*%d%%23", code, amount)
}

// ZoneGate resolves the entry gate for a zone, defaulting to the zone name
// itself when no mapping exists.
func ZoneGate(cfg *config.Config, zone string) string {
	if gate, ok := cfg.ZoneGates[zone]; ok {
		return gate
	}
	return zone
}

// ensureUser creates a minimal auth record when the given id has no backing
// user yet. Checkout and transfer claims accept ids minted client side, so
// relations must not dangle.
func ensureUser(app core.App, userID string) error {
	if _, err := app.FindRecordById(models.CollectionUsers, userID); err == nil {
		return nil
	}

	collection, err := app.FindCollectionByNameOrId(models.CollectionUsers)
	if err != nil {
		return err
	}

	record := core.NewRecord(collection)
	record.Id = userID
	record.Set("email", fmt.Sprintf("%s@pending.fanzone.local", userID))
	record.Set("name", "Fan "+userID)
	record.SetRandomPassword()
	return app.Save(record)
}
