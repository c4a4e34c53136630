package httpapi

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Значения статусов проверяются позже без учёта регистра, поэтому схема
// ограничивает только форму тела.
const statusPatchSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": false,
  "properties": {
    "status":        { "type": "string", "minLength": 1, "maxLength": 32 },
    "paymentStatus": { "type": "string", "minLength": 1, "maxLength": 32 },
    "note":          { "type": "string", "maxLength": 2000 }
  }
}`

var statusPatchLoader = gojsonschema.NewStringLoader(statusPatchSchema)

// validateSchema возвращает список нарушений схемы. Ошибка означает, что тело
// вообще не удалось разобрать как JSON.
func validateSchema(schema gojsonschema.JSONLoader, body []byte) ([]string, error) {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
