// Package intake subscribes to the parsed SMS feed and hands each
// notification to reconciliation. The SMS parser runs on the fans' relay
// phones and publishes structured results over PubNub; this side only ever
// consumes.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	pubnub "github.com/pubnub/go/v7"

	"fanzone/config"
	"fanzone/internal/services"
	"fanzone/models"
)

// payload is the wire shape the parser publishes.
type payload struct {
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	Ref             string  `json:"ref"`
	Confidence      float64 `json:"confidence"`
	SourceMessageID string  `json:"source_message_id"`
}

type Listener struct {
	app       core.App
	cfg       *config.Config
	reconcile *services.ReconcileService

	pn  *pubnub.PubNub
	lis *pubnub.Listener
}

// New connects to the intake channel. Returns nil with no error when no
// subscribe key is configured, which is the normal state in development.
func New(app core.App, cfg *config.Config, reconcile *services.ReconcileService) (*Listener, error) {
	if cfg.IntakeSubscribeKey == "" {
		return nil, nil
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.IntakeUUID))
	pnCfg.SubscribeKey = cfg.IntakeSubscribeKey

	l := &Listener{
		app:       app,
		cfg:       cfg,
		reconcile: reconcile,
		pn:        pubnub.NewPubNub(pnCfg),
		lis:       pubnub.NewListener(),
	}
	l.pn.AddListener(l.lis)

	return l, nil
}

// Start subscribes and processes messages until the context ends.
func (l *Listener) Start(ctx context.Context) {
	l.pn.Subscribe().Channels([]string{l.cfg.IntakeChannel}).Execute()
	go l.processSubscription(ctx)
}

func (l *Listener) processSubscription(ctx context.Context) {
	for {
		select {
		case status := <-l.lis.Status:
			switch status.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("sms intake connected", "channel", l.cfg.IntakeChannel)

			case pubnub.PNReconnectedCategory:
				slog.Info("sms intake reconnected")

			case pubnub.PNDisconnectedCategory:
				slog.Warn("sms intake disconnected")

			case pubnub.PNAccessDeniedCategory:
				slog.Error("sms intake access denied")

			case pubnub.PNReconnectionAttemptsExhausted:
				slog.Error("sms intake reconnection attempts exhausted")

			default:
				slog.Debug("sms intake status", "category", fmt.Sprint(status.Category))
			}

		case message := <-l.lis.Message:
			if err := l.handleMessage(ctx, message.Message); err != nil {
				slog.Error("sms intake message failed", "error", err)
			}

		case <-ctx.Done():
			l.pn.Unsubscribe().Channels([]string{l.cfg.IntakeChannel}).Execute()
			slog.Info("sms intake stopped")
			return
		}
	}
}

func (l *Listener) handleMessage(ctx context.Context, raw any) error {
	var p payload
	switch msg := raw.(type) {
	case string:
		if err := json.NewDecoder(strings.NewReader(msg)).Decode(&p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	default:
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("re-encode payload: %w", err)
		}
		if err := json.Unmarshal(encoded, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	smsID, err := Ingest(l.app, l.cfg, p.Amount, p.Currency, p.Ref, p.Confidence, p.SourceMessageID)
	if err != nil {
		return err
	}

	result, err := l.reconcile.ProcessParsedSms(ctx, smsID)
	if err != nil {
		return fmt.Errorf("reconcile sms %s: %w", smsID, err)
	}
	slog.Info("parsed sms processed",
		"sms", smsID,
		"outcome", result.Outcome,
		"amount", p.Amount,
	)
	return nil
}

// Ingest persists one parsed notification. Re-delivery of the same source
// message returns the stored record instead of inserting a duplicate. A
// missing source id gets a generated one so dedup still has a key.
func Ingest(app core.App, cfg *config.Config, amount int64, currency, ref string, confidence float64, sourceMessageID string) (string, error) {
	if sourceMessageID == "" {
		sourceMessageID = uuid.NewString()
	}
	if currency == "" {
		currency = cfg.Currency
	}

	existing, err := app.FindFirstRecordByFilter(
		models.CollectionSmsParsed,
		"source_message_id = {:source}",
		dbx.Params{"source": sourceMessageID},
	)
	if err == nil {
		return existing.Id, nil
	}

	collection, err := app.FindCollectionByNameOrId(models.CollectionSmsParsed)
	if err != nil {
		return "", err
	}

	record := core.NewRecord(collection)
	record.Set("amount", amount)
	record.Set("currency", currency)
	record.Set("ref", ref)
	record.Set("confidence", confidence)
	record.Set("source_message_id", sourceMessageID)
	if err := app.Save(record); err != nil {
		return "", fmt.Errorf("save parsed sms: %w", err)
	}
	return record.Id, nil
}
