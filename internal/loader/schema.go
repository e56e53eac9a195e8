package loader

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema is structural only. Semantic checks (ranges, duplicate IDs)
// live in experiment.Validate so their messages stay in one place.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "params": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/param"}
    },
    "param": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string"},
        "dataType": {"type": "string"},
        "value": {"type": ["number", "string", "boolean", "null"]},
        "mean": {"type": "number"},
        "std": {"type": "number"},
        "min": {"type": "number"},
        "max": {"type": "number"},
        "expression": {"type": "string"},
        "inputLabel": {"type": "string"},
        "inputType": {"type": "string"},
        "validation": {"type": "string"}
      },
      "additionalProperties": false
    },
    "round": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "label": {"type": "string"},
        "params": {"$ref": "#/definitions/params"},
        "introTemplate": {"type": "string"},
        "decisionTemplate": {"type": "string"},
        "resultTemplate": {"type": "string"}
      }
    },
    "block": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "label": {"type": "string"},
        "params": {"$ref": "#/definitions/params"},
        "introTemplate": {"type": "string"},
        "decisionTemplate": {"type": "string"},
        "resultTemplate": {"type": "string"},
        "rounds": {"type": "array", "items": {"$ref": "#/definitions/round"}}
      }
    }
  },
  "properties": {
    "params": {"$ref": "#/definitions/params"},
    "introTemplate": {"type": "string"},
    "decisionTemplate": {"type": "string"},
    "resultTemplate": {"type": "string"},
    "blocks": {"type": "array", "items": {"$ref": "#/definitions/block"}}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("experiment.schema.json", documentSchema)
	})
	return schema, schemaErr
}

// CheckSchema validates the shape of a raw YAML or JSON document. Empty
// documents pass.
func CheckSchema(b []byte) error {
	var raw any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	// round-trip through JSON so the validator sees float64 and string keys
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile document schema: %w", err)
	}
	if err := sch.Validate(decoded); err != nil {
		return fmt.Errorf("document shape: %w", err)
	}
	return nil
}
