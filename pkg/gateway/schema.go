package gateway

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// runRequestSchema describes POST /v1/runs and websocket "ask" history.
const runRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["question"],
  "additionalProperties": false,
  "properties": {
    "question": {"type": "string", "minLength": 1, "maxLength": 4000, "pattern": "\\S"},
    "session_id": {"type": "string", "pattern": "^[A-Za-z0-9_-]{1,64}$"},
    "stream": {"type": "boolean"},
    "history": {
      "type": "array",
      "maxItems": 50,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "additionalProperties": false,
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

// SchemaError lists every violation found in a request body.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid request: %d violation(s)", len(e.Violations))
}

// requestValidator validates request bodies against a JSON schema
type requestValidator struct {
	schema *gojsonschema.Schema
}

func newRequestValidator() (*requestValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(runRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}
	return &requestValidator{schema: schema}, nil
}

// Validate checks body, returning *SchemaError for schema violations.
func (v *requestValidator) Validate(body []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &SchemaError{Violations: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &SchemaError{Violations: violations}
}
