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

		shopOrders := core.NewBaseCollection("shop_orders")
		shopOrders.Fields.Add(
			&core.RelationField{Name: "user", MaxSelect: 1, CollectionId: users.Id},
			&core.NumberField{Name: "total", Required: true, OnlyInt: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed", "cancelled"},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		if err := app.Save(shopOrders); err != nil {
			return err
		}

		donations := core.NewBaseCollection("donations")
		donations.Fields.Add(
			&core.RelationField{Name: "user", MaxSelect: 1, CollectionId: users.Id},
			&core.TextField{Name: "project", Required: true, Max: 120},
			&core.NumberField{Name: "amount", Required: true, OnlyInt: true},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed"},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		return app.Save(donations)
	}, func(app core.App) error {
		for _, name := range []string{"donations", "shop_orders"} {
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
