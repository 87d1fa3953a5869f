package module

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/xeipuuv/gojsonschema"

	pkgerrors "datalens/pkg/errors"
)

// descriptorSchema is the strict JSON Schema every descriptor file must
// satisfy before semantic validation runs. Unknown fields are rejected.
const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["id", "name", "version", "category"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z][a-z0-9_]{2,63}$"
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "version": {
      "type": "string",
      "pattern": "^(0|[1-9]\\d*)\\.(0|[1-9]\\d*)\\.(0|[1-9]\\d*)(-[0-9A-Za-z.\\-]+)?(\\+[0-9A-Za-z.\\-]+)?$"
    },
    "category": {
      "type": "string",
      "enum": ["core", "infrastructure", "feature", "hybrid", "dev-tools"]
    },
    "enabled": {
      "type": "boolean"
    },
    "eager_init": {
      "type": "boolean"
    },
    "backend": {
      "type": "object",
      "additionalProperties": false,
      "required": ["blueprint"],
      "properties": {
        "blueprint": { "type": "string", "minLength": 1 }
      }
    },
    "routes": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["path"],
        "properties": {
          "path": { "type": "string", "pattern": "^/" },
          "display_name": { "type": "string" },
          "icon": { "type": "string" },
          "order": { "type": "integer" }
        }
      }
    },
    "requires": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "optional": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "metadata": {
      "type": "object"
    }
  }
}`

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(descriptorSchema))
	if err != nil {
		panic(fmt.Sprintf("descriptor schema does not compile: %v", err))
	}
	compiledSchema = schema
}

// rawDescriptor mirrors the file format with optional booleans so defaults
// can be applied after schema validation.
type rawDescriptor struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Version   string                 `json:"version"`
	Category  string                 `json:"category"`
	Enabled   *bool                  `json:"enabled"`
	EagerInit *bool                  `json:"eager_init"`
	Backend   *BackendRef            `json:"backend"`
	Routes    []Route                `json:"routes"`
	Requires  []string               `json:"requires"`
	Optional  []string               `json:"optional"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// ValidateDescriptorBytes checks a raw descriptor document against the JSON
// schema and aggregates every violation into a single error.
func ValidateDescriptorBytes(raw []byte) error {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return pkgerrors.NewConfigError(fmt.Sprintf("descriptor is not valid JSON: %v", err))
	}
	if result.Valid() {
		return nil
	}

	var merr *multierror.Error
	for _, violation := range result.Errors() {
		merr = multierror.Append(merr, fmt.Errorf("%s: %s", violation.Field(), violation.Description()))
	}
	return pkgerrors.NewConfigError("descriptor failed schema validation").
		WithDetail("violations", merr.Error())
}

// ParseDescriptor validates and decodes one descriptor document, applying
// the schema defaults (enabled=true, eager_init=false).
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	if err := ValidateDescriptorBytes(raw); err != nil {
		return nil, err
	}

	var rd rawDescriptor
	if err := json.Unmarshal(raw, &rd); err != nil {
		return nil, pkgerrors.NewConfigError(fmt.Sprintf("decoding descriptor: %v", err))
	}

	desc := &Descriptor{
		ID:        rd.ID,
		Name:      rd.Name,
		Version:   rd.Version,
		Category:  Category(rd.Category),
		Enabled:   true,
		EagerInit: false,
		Backend:   rd.Backend,
		Routes:    rd.Routes,
		Requires:  rd.Requires,
		Optional:  rd.Optional,
		Metadata:  rd.Metadata,
	}
	if rd.Enabled != nil {
		desc.Enabled = *rd.Enabled
	}
	if rd.EagerInit != nil {
		desc.EagerInit = *rd.EagerInit
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
