package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/rendis/phasegraph/pkg/schema"
)

// documentSchemaJSON is the JSON Schema for importable workflow documents.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://phasegraph.dev/schemas/document.json",
  "type": "object",
  "required": ["phases"],
  "properties": {
    "workflow": { "$ref": "#/$defs/workflow" },
    "templates": {
      "type": "array",
      "items": { "$ref": "#/$defs/template" }
    },
    "phases": {
      "type": "array",
      "items": { "$ref": "#/$defs/phase" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "workflow": {
      "type": "object",
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "is_builtin": { "type": "boolean" },
        "created_at": { "type": "string", "format": "date-time" },
        "updated_at": { "type": "string", "format": "date-time" }
      },
      "additionalProperties": false
    },
    "gate_type": {
      "type": "string",
      "enum": ["auto", "human", "skip", "ai"]
    },
    "template": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "max_iterations": { "type": "integer", "minimum": 0 },
        "gate_type": { "$ref": "#/$defs/gate_type" },
        "agent_id": { "type": "string" },
        "retry_from_phase": { "type": "string" }
      },
      "additionalProperties": false
    },
    "loop_config": {
      "type": "object",
      "required": ["condition", "loop_to_phase"],
      "properties": {
        "condition": { "type": "string", "minLength": 1 },
        "loop_to_phase": { "type": "string", "minLength": 1 },
        "max_iterations": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "phase": {
      "type": "object",
      "required": ["id", "phase_template_id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "workflow_id": { "type": "string" },
        "phase_template_id": { "type": "string", "minLength": 1 },
        "sequence": { "type": "integer" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "loop_config": {
          "oneOf": [
            { "type": "string" },
            { "type": "null" },
            { "$ref": "#/$defs/loop_config" }
          ]
        },
        "max_iterations_override": { "type": "integer", "minimum": 1 },
        "gate_type_override": { "$ref": "#/$defs/gate_type" },
        "agent_override": { "type": "string" },
        "position_x": { "type": "number" },
        "position_y": { "type": "number" },
        "template": { "$ref": "#/$defs/template" }
      },
      "additionalProperties": false
    }
  }
}`

const documentSchemaURL = "https://phasegraph.dev/schemas/document.json"

// Format is the encoding of a workflow document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the document format from a file extension.
// Anything other than .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// DocumentValidator checks workflow documents against the embedded JSON
// Schema (Draft 2020-12) and decodes them. It is safe for concurrent use.
type DocumentValidator struct {
	documentSchema *jsonschema.Schema
}

// NewDocumentValidator compiles the document schema.
func NewDocumentValidator() (*DocumentValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	if err := c.AddResource(documentSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}

	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	return &DocumentValidator{documentSchema: compiled}, nil
}

// Decode parses a JSON or YAML document, validates its shape and returns it
// with templates joined onto phases. Inline loop_config objects are
// normalized to their JSON string form.
func (v *DocumentValidator) Decode(data []byte, format Format) (*schema.Document, error) {
	raw, err := parseDocument(data, format)
	if err != nil {
		return nil, err
	}

	if err := v.documentSchema.Validate(raw); err != nil {
		return nil, toGraphError(err)
	}

	if err := normalizeLoopConfigs(raw); err != nil {
		return nil, err
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to re-encode document").WithCause(err)
	}
	var doc schema.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "failed to decode document").WithCause(err)
	}
	if doc.Phases == nil {
		doc.Phases = []*schema.Phase{}
	}

	doc.JoinTemplates()
	return &doc, nil
}

// ValidateDocument validates an already decoded document against the schema.
func (v *DocumentValidator) ValidateDocument(doc *schema.Document) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is nil")
	}
	raw, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	if err := v.documentSchema.Validate(raw); err != nil {
		return toGraphError(err)
	}
	return nil
}

// parseDocument decodes data into the generic form the schema validator
// expects: numbers as json.Number, objects as map[string]any.
func parseDocument(data []byte, format Format) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "document is empty")
	}

	switch format {
	case FormatJSON, "":
		raw, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid JSON document").WithCause(err)
		}
		return raw, nil

	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "invalid YAML document").WithCause(err)
		}
		out, err := toJSONValue(raw)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "YAML document is not JSON-compatible").WithCause(err)
		}
		return out, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported document format %q", format)
}

func normalizeLoopConfigs(raw any) error {
	root, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	phases, _ := root["phases"].([]any)
	for _, item := range phases {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch lc := p["loop_config"].(type) {
		case map[string]any:
			b, err := json.Marshal(lc)
			if err != nil {
				return schema.NewError(schema.ErrCodeValidation, "failed to encode loop_config").WithCause(err)
			}
			p["loop_config"] = string(b)
		case nil:
			delete(p, "loop_config")
		}
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toGraphError converts a jsonschema.ValidationError into a GraphError whose
// details list each violation with its instance location.
func toGraphError(err error) *schema.GraphError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("document invalid: %d violations", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages prefixed with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
