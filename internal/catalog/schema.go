package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// catalogSchema is the JSON Schema for a catalog YAML document.
const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Warden action catalog",
  "type": "object",
  "required": ["actions", "allowed_entities", "allowed_services"],
  "additionalProperties": false,
  "properties": {
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "domain", "service", "entity_id"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1, "pattern": "^[a-z0-9_]+$"},
          "domain": {"type": "string", "minLength": 1, "pattern": "^[a-z_]+$"},
          "service": {"type": "string", "minLength": 1, "pattern": "^[a-z_]+$"},
          "entity_id": {"type": "string", "minLength": 1, "pattern": "^[a-z_]+\\.[a-z0-9_]+$"},
          "description": {"type": "string"}
        }
      }
    },
    "allowed_entities": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "pattern": "^[a-z_]+\\.[a-z0-9_]+$"}
    },
    "allowed_services": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "pattern": "^[a-z_]+/[a-z_]+$"}
    },
    "context_entities": {
      "type": "array",
      "items": {"type": "string", "pattern": "^[a-z_]+\\.[a-z0-9_]+$"}
    }
  }
}`

// ValidateSchema checks catalog YAML against the JSON Schema. The YAML is
// first converted to JSON because gojsonschema operates on JSON.
func ValidateSchema(yamlBytes []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return fmt.Errorf("parsing YAML for schema validation: %w", err)
	}

	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("converting YAML to JSON: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(catalogSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonBytes)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for _, verr := range result.Errors() {
			errMsg += fmt.Sprintf("- %s\n", verr)
		}
		return fmt.Errorf("catalog schema errors:\n%s", errMsg)
	}
	return nil
}

// normalizeYAML converts map[interface{}]interface{} (yaml.v3 edge cases)
// to map[string]interface{} so the document marshals to JSON.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[fmt.Sprint(k)] = normalizeYAML(inner)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = normalizeYAML(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeYAML(inner)
		}
		return out
	default:
		return v
	}
}
