package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		orders, err := app.FindCollectionByNameOrId("ticket_orders")
		if err != nil {
			return err
		}

		passes := core.NewBaseCollection("ticket_passes")
		passes.Fields.Add(
			&core.RelationField{Name: "order", Required: true, MaxSelect: 1, CollectionId: orders.Id},
			&core.TextField{Name: "zone", Required: true, Max: 40},
			&core.TextField{Name: "gate", Required: true, Max: 40},
			&core.SelectField{
				Name:      "state",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"active", "used", "refunded"},
			},
			&core.TextField{Name: "qr_token_hash", Required: true, Max: 64},
			&core.DateField{Name: "consumed_at"},
			&core.TextField{Name: "transfer_token_hash", Max: 100},
			&core.DateField{Name: "transfer_expires_at"},
			&core.RelationField{Name: "transferred_to", MaxSelect: 1, CollectionId: users.Id},
			&core.DateField{Name: "transferred_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		passes.AddIndex("idx_ticket_passes_qr_token_hash", true, "qr_token_hash", "")
		passes.AddIndex("idx_ticket_passes_order", false, "`order`", "")
		if err := app.Save(passes); err != nil {
			return err
		}

		scans := core.NewBaseCollection("gate_scans")
		scans.Fields.Add(
			&core.RelationField{Name: "pass", Required: true, MaxSelect: 1, CollectionId: passes.Id},
			&core.TextField{Name: "gate", Required: true, Max: 40},
			&core.TextField{Name: "steward_id", Max: 40},
			&core.SelectField{
				Name:      "result",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"verified", "used", "refunded", "not_found"},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		scans.AddIndex("idx_gate_scans_pass", false, "`pass`", "")
		scans.AddIndex("idx_gate_scans_gate", false, "`gate`", "")
		return app.Save(scans)
	}, func(app core.App) error {
		for _, name := range []string{"gate_scans", "ticket_passes"} {
			collection, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				return err
			}
			if err := app.Delete(collection); err != nil {
				return err
			}
		}
		return nil
	})
}
