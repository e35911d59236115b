package okta

import (
	"embed"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Table schemas ship with the binary so a load never depends on autodetect
// or on the target table already existing.
//
//go:embed schemas/*.json
var schemaFiles embed.FS

var (
	appSchema        = mustSchema("okta_apps_schema.json")
	userSchema       = mustSchema("okta_users_schema.json")
	groupSchema      = mustSchema("okta_groups_schema.json")
	memberSchema     = mustSchema("okta_group_members_schema.json")
	appUserSchema    = mustSchema("okta_app_users_schema.json")
	everyoneIDSchema = mustSchema("okta_everyone_ids_schema.json")
)

func mustSchema(name string) bigquery.Schema {
	data, err := schemaFiles.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("okta: read schema %s: %v", name, err))
	}
	schema, err := bigquery.SchemaFromJSON(data)
	if err != nil {
		panic(fmt.Sprintf("okta: parse schema %s: %v", name, err))
	}
	return schema
}
