package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		smsParsed, err := app.FindCollectionByNameOrId("sms_parsed")
		if err != nil {
			return err
		}
		orders, err := app.FindCollectionByNameOrId("ticket_orders")
		if err != nil {
			return err
		}
		memberships, err := app.FindCollectionByNameOrId("memberships")
		if err != nil {
			return err
		}
		shopOrders, err := app.FindCollectionByNameOrId("shop_orders")
		if err != nil {
			return err
		}
		donations, err := app.FindCollectionByNameOrId("donations")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("payments")
		collection.Fields.Add(
			&core.SelectField{
				Name:      "kind",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"ticket", "membership", "shop", "donation"},
			},
			&core.NumberField{Name: "amount", Required: true, OnlyInt: true},
			&core.TextField{Name: "currency", Required: true, Max: 8},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed", "manual_review", "failed"},
			},
			&core.RelationField{Name: "sms_parsed", MaxSelect: 1, CollectionId: smsParsed.Id},
			&core.RelationField{Name: "order", MaxSelect: 1, CollectionId: orders.Id},
			&core.RelationField{Name: "membership", MaxSelect: 1, CollectionId: memberships.Id},
			&core.RelationField{Name: "shop_order", MaxSelect: 1, CollectionId: shopOrders.Id},
			&core.RelationField{Name: "donation", MaxSelect: 1, CollectionId: donations.Id},
			&core.JSONField{Name: "metadata", MaxSize: 5000},
			&core.DateField{Name: "confirmed_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_payments_kind_status_amount", false, "`kind`, `status`, `amount`", "")
		collection.AddIndex("idx_payments_sms_parsed", false, "`sms_parsed`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("payments")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
