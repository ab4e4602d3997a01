// Package validation checks params and documents against JSON Schemas and
// reports failures as a list of field errors.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
)

// FieldError is one failed constraint.
type FieldError struct {
	Path    string `json:"name"`
	Kind    string `json:"type"`
	Message string `json:"message"`
}

// Error lists every failed constraint of one validation.
type Error struct {
	Message string
	Errors  []FieldError
}

func (e *Error) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Path + ": " + fe.Message
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return domain.ErrValidation }

// Validator is a hand-written params check. Returning a non-nil error rejects the call.
type Validator func(params body.Params) error

// Schema is a compiled JSON Schema.
type Schema struct {
	source   string
	compiled *gojsonschema.Schema
}

// NewSchema compiles a JSON Schema document.
func NewSchema(source string) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		return nil, fmt.Errorf("invalid json schema: %w", err)
	}
	return &Schema{source: source, compiled: compiled}, nil
}

// MustSchema is NewSchema for schemas known to be valid.
func MustSchema(source string) *Schema {
	s, err := NewSchema(source)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the schema source.
func (s *Schema) String() string { return s.source }

// Partial returns a copy of the schema with every "required" list removed, for
// validating fragments such as update modifiers.
func (s *Schema) Partial() (*Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(s.source), &doc); err != nil {
		return nil, fmt.Errorf("parse json schema: %w", err)
	}
	stripRequired(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode json schema: %w", err)
	}
	return NewSchema(string(data))
}

var (
	schemaMaps  = []string{"properties", "patternProperties", "definitions", "$defs", "dependentSchemas"}
	schemaLists = []string{"allOf", "anyOf", "oneOf", "prefixItems"}
	schemaOne   = []string{"items", "additionalProperties", "additionalItems", "not", "if", "then", "else", "contains"}
)

func stripRequired(v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	delete(m, "required")
	for _, k := range schemaMaps {
		if props, ok := m[k].(map[string]any); ok {
			for _, sub := range props {
				stripRequired(sub)
			}
		}
	}
	for _, k := range schemaLists {
		if list, ok := m[k].([]any); ok {
			for _, sub := range list {
				stripRequired(sub)
			}
		}
	}
	for _, k := range schemaOne {
		switch sub := m[k].(type) {
		case map[string]any:
			stripRequired(sub)
		case []any:
			for _, item := range sub {
				stripRequired(item)
			}
		}
	}
}

// Validate checks v and returns a *Error listing every failure, or nil.
func (s *Schema) Validate(v any, message string) error {
	if v == nil {
		v = map[string]any{}
	}
	res, err := s.compiled.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if res.Valid() {
		return nil
	}

	out := &Error{Message: message}
	for _, re := range res.Errors() {
		out.Errors = append(out.Errors, FieldError{
			Path:    fieldPath(re),
			Kind:    re.Type(),
			Message: re.Description(),
		})
	}
	return out
}

const rootField = "(root)"

func fieldPath(re gojsonschema.ResultError) string {
	field := re.Field()
	if field == rootField {
		field = ""
	}
	if re.Type() == "required" {
		if prop, ok := re.Details()["property"].(string); ok {
			if field == "" {
				return prop
			}
			return field + "." + prop
		}
	}
	return field
}
