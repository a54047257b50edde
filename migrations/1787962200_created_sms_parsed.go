package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("sms_parsed")
		collection.Fields.Add(
			&core.NumberField{Name: "amount", Required: true, OnlyInt: true},
			&core.TextField{Name: "currency", Required: true, Max: 8},
			&core.TextField{Name: "ref", Max: 120},
			&core.NumberField{Name: "confidence", Required: true},
			&core.TextField{Name: "source_message_id", Required: true, Max: 64},
			&core.TextField{Name: "matched_entity", Max: 120},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_sms_parsed_source", true, "source_message_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("sms_parsed")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
