package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("matches")
		collection.Fields.Add(
			&core.TextField{Name: "opponent", Required: true, Max: 120},
			&core.DateField{Name: "kickoff", Required: true},
			&core.TextField{Name: "venue", Max: 120},
			&core.TextField{Name: "competition", Max: 120},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"scheduled", "live", "finished", "postponed"},
			},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_matches_kickoff", false, "kickoff", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("matches")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
