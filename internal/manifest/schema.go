package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Violation is a single schema or semantic problem found in a manifest.
type Violation struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "category", "compatible_roles"],
  "properties": {
    "name": {
      "type": "string",
      "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$",
      "maxLength": 64
    },
    "version": {"type": "string"},
    "description": {"type": "string"},
    "category": {
      "enum": ["automation", "analysis", "communication", "content", "integration", "other"]
    },
    "compatible_roles": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "uniqueItems": true
    },
    "permissions": {
      "type": "object",
      "properties": {
        "network": {
          "type": "object",
          "properties": {
            "allowed_domains": {"type": "array", "items": {"type": "string", "minLength": 1}}
          },
          "additionalProperties": false
        },
        "files": {
          "type": "object",
          "properties": {
            "read_paths": {"type": "array", "items": {"type": "string", "minLength": 1}},
            "write_paths": {"type": "array", "items": {"type": "string", "minLength": 1}}
          },
          "additionalProperties": false
        },
        "env": {
          "type": "object",
          "properties": {
            "required": {"type": "array", "items": {"type": "string", "minLength": 1}},
            "optional": {"type": "array", "items": {"type": "string", "minLength": 1}}
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "file_rules": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 1}
    }
  },
  "additionalProperties": false
}`

var manifestSchema = jsonschema.MustCompileString("manifest.schema.json", schemaJSON)

// Parse decodes and validates a raw manifest.json document. A nil manifest
// is returned when the JSON itself cannot be decoded; otherwise the decoded
// manifest is returned alongside any schema or semantic violations, so a
// submitter sees every problem in one pass.
func Parse(data []byte) (*Manifest, []Violation) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, []Violation{{Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}

	var violations []Violation
	if err := manifestSchema.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			violations = append(violations, flattenSchemaError(ve)...)
		} else {
			violations = append(violations, Violation{Message: err.Error()})
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		violations = append(violations, Violation{Message: fmt.Sprintf("manifest does not match expected structure: %v", err)})
		return nil, violations
	}

	if m.Version != "" {
		if _, err := semver.StrictNewVersion(m.Version); err != nil {
			violations = append(violations, Violation{
				Field:   "version",
				Message: fmt.Sprintf("version %q is not valid semver: %v", m.Version, err),
			})
		}
	}
	return &m, violations
}

// flattenSchemaError walks the nested cause tree down to leaf failures so
// every violated field is itemized once.
func flattenSchemaError(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{
			Field:   pointerToField(ve.InstanceLocation),
			Message: ve.Message,
		}}
	}
	var out []Violation
	for _, c := range ve.Causes {
		out = append(out, flattenSchemaError(c)...)
	}
	return out
}

func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	return strings.ReplaceAll(ptr, "/", ".")
}
