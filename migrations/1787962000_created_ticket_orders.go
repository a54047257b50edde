package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		matches, err := app.FindCollectionByNameOrId("matches")
		if err != nil {
			return err
		}

		orders := core.NewBaseCollection("ticket_orders")
		orders.Fields.Add(
			&core.RelationField{Name: "match", Required: true, MaxSelect: 1, CollectionId: matches.Id},
			&core.RelationField{Name: "user", MaxSelect: 1, CollectionId: users.Id},
			&core.NumberField{Name: "total", Required: true, OnlyInt: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "paid", "cancelled", "expired"},
			},
			&core.TextField{Name: "ussd_code", Max: 60},
			&core.TextField{Name: "sms_ref", Max: 120},
			&core.DateField{Name: "expires_at", Required: true},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		orders.AddIndex("idx_ticket_orders_match_status", false, "`match`, `status`", "")
		orders.AddIndex("idx_ticket_orders_user", false, "`user`", "")
		if err := app.Save(orders); err != nil {
			return err
		}

		items := core.NewBaseCollection("ticket_order_items")
		items.Fields.Add(
			&core.RelationField{Name: "order", Required: true, MaxSelect: 1, CollectionId: orders.Id, CascadeDelete: true},
			&core.TextField{Name: "zone", Required: true, Max: 40},
			&core.NumberField{Name: "price", Required: true, OnlyInt: true},
			&core.NumberField{Name: "quantity", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
		)
		items.AddIndex("idx_ticket_order_items_order", false, "`order`", "")
		return app.Save(items)
	}, func(app core.App) error {
		for _, name := range []string{"ticket_order_items", "ticket_orders"} {
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
