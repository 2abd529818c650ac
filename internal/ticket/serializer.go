package ticket

import (
	"embed"
	"encoding/json"
	"strings"
	"sync"

	"dbmflow/internal/errs"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var schemaCache sync.Map

// ValidateDetails checks ticket details against the type's embedded
// schema before anything is persisted. On failure the caller receives a
// field-level message; a ticket type without a schema file accepts any
// details.
func ValidateDetails(ticketType string, details json.RawMessage) error {
	schema, ok, err := loadSchema(ticketType)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	value := any(map[string]any{})
	if len(details) > 0 {
		if err := json.Unmarshal(details, &value); err != nil {
			return errs.TicketDataInvalid.WithArgs(map[string]any{"field": "details", "reason": "not a JSON object"})
		}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(value))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	first := result.Errors()[0]
	field := first.Field()
	if field == "(root)" {
		if prop, ok := first.Details()["property"].(string); ok {
			field = prop
		}
	}
	return errs.TicketDataInvalid.WithArgs(map[string]any{
		"field":  field,
		"reason": first.Description(),
	})
}

func loadSchema(ticketType string) (any, bool, error) {
	key := strings.ToLower(ticketType)
	if val, ok := schemaCache.Load(key); ok {
		return val, true, nil
	}
	data, err := schemaFS.ReadFile("schemas/" + key + ".json")
	if err != nil {
		return nil, false, nil
	}
	var schema any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, false, err
	}
	schemaCache.Store(key, schema)
	return schema, true, nil
}
