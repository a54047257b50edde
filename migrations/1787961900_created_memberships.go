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
		plans, err := app.FindCollectionByNameOrId("membership_plans")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("memberships")
		collection.Fields.Add(
			&core.RelationField{Name: "user", Required: true, MaxSelect: 1, CollectionId: users.Id},
			&core.RelationField{Name: "plan", Required: true, MaxSelect: 1, CollectionId: plans.Id},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "active", "expired"},
			},
			&core.DateField{Name: "started_at"},
			&core.DateField{Name: "expires_at"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_memberships_user_status", false, "`user`, `status`", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("memberships")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
