package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("membership_plans")
		collection.Fields.Add(
			&core.TextField{Name: "name", Required: true, Max: 80},
			&core.NumberField{Name: "price", Required: true, OnlyInt: true},
			&core.NumberField{Name: "duration_days", OnlyInt: true},
			&core.BoolField{Name: "is_active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		if err := app.Save(collection); err != nil {
			return err
		}

		// Default plans; operators adjust them from the dashboard.
		seed := []struct {
			name  string
			price int64
			days  int
		}{
			{"Blue", 10000, 365},
			{"White", 25000, 365},
			{"Legend", 60000, 365},
		}
		for _, plan := range seed {
			record := core.NewRecord(collection)
			record.Set("name", plan.name)
			record.Set("price", plan.price)
			record.Set("duration_days", plan.days)
			record.Set("is_active", true)
			if err := app.Save(record); err != nil {
				return err
			}
		}
		return nil
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("membership_plans")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
