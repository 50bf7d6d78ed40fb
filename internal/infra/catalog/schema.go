package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"
)

const configSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "task": {"type": "string"},
    "targets": {"type": "array", "items": {"type": "string"}},
    "servers": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id", "baseURL"],
        "properties": {
          "id": {"type": "string"},
          "baseURL": {"type": "string"},
          "transport": {"type": "string"},
          "auth": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "type": {"type": "string"},
              "token": {"type": ["string", "number"]}
            }
          },
          "tags": {"type": "array", "items": {"type": "string"}},
          "healthy": {"type": "boolean"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    },
    "interaction": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "control": {"$ref": "#/$defs/locator"},
        "verdict": {"$ref": "#/$defs/locator"},
        "key": {"type": "string"}
      }
    },
    "runtime": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "protocolVersions": {"type": "array", "items": {"type": "string"}},
        "callTimeoutSeconds": {"type": "integer"},
        "greetingTimeoutMillis": {"type": "integer"},
        "backoffBaseSeconds": {"type": "number"},
        "backoffJitter": {"type": "number"},
        "minAttempts": {"type": "integer"},
        "settleMillis": {"type": "integer"},
        "domSettleMillis": {"type": "integer"},
        "snapshotAttempts": {"type": "integer"},
        "verdictAttempts": {"type": "integer"},
        "verdictIntervalMillis": {"type": "integer"},
        "toolPreferences": {
          "type": "object",
          "additionalProperties": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "ranking": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "provider": {"type": "string"},
        "endpoint": {"type": "string"},
        "model": {"type": "string"},
        "apiKey": {"type": "string"},
        "apiKeyEnvVar": {"type": "string"},
        "baseURL": {"type": "string"},
        "preferredRegion": {"type": "string"},
        "maxCandidates": {"type": "integer"},
        "timeoutSeconds": {"type": "integer"}
      }
    },
    "history": {
      "type": "object",
      "additionalProperties": false,
      "properties": {"path": {"type": "string"}}
    },
    "observability": {
      "type": "object",
      "additionalProperties": false,
      "properties": {"listenAddress": {"type": "string"}}
    }
  },
  "$defs": {
    "locator": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "domId": {"type": "string"},
        "name": {"type": "string"},
        "role": {"type": "string"}
      }
    }
  }
}`

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Resolved
	configSchemaErr  error
)

func resolvedConfigSchema() (*jsonschema.Resolved, error) {
	configSchemaOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(configSchemaJSON), &schema); err != nil {
			configSchemaErr = fmt.Errorf("decode config schema: %w", err)
			return
		}
		configSchema, configSchemaErr = schema.Resolve(nil)
	})
	return configSchema, configSchemaErr
}

// validateConfigSchema checks the expanded document's shape before it is
// decoded. Unknown keys are rejected so that typos do not silently fall back
// to defaults.
func validateConfigSchema(expanded string) error {
	var document any
	if err := yaml.Unmarshal([]byte(expanded), &document); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if document == nil {
		document = map[string]any{}
	}
	resolved, err := resolvedConfigSchema()
	if err != nil {
		return err
	}
	if err := resolved.Validate(document); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	return nil
}
