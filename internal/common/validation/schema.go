package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator checks job variables against one JSON schema. The schema is
// compiled once; a Validator is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles schema. A nil or empty schema accepts everything.
func NewValidator(schema map[string]interface{}) (*Validator, error) {
	if len(schema) == 0 {
		return &Validator{}, nil
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a decoded JSON document.
func (v *Validator) Validate(input map[string]interface{}) (*ValidationResult, error) {
	if v.schema == nil {
		return &ValidationResult{Valid: true}, nil
	}
	return collect(v.schema.Validate(gojsonschema.NewGoLoader(input)))
}

// ValidateJSON checks a raw JSON document, such as Zeebe job variables.
func (v *Validator) ValidateJSON(document string) (*ValidationResult, error) {
	if v.schema == nil {
		return &ValidationResult{Valid: true}, nil
	}
	return collect(v.schema.Validate(gojsonschema.NewStringLoader(document)))
}

// ValidateInput validates input against a schema without keeping the
// compiled form around.
func ValidateInput(input map[string]interface{}, schema map[string]interface{}) (*ValidationResult, error) {
	v, err := NewValidator(schema)
	if err != nil {
		return nil, err
	}
	return v.Validate(input)
}

func collect(result *gojsonschema.Result, err error) (*ValidationResult, error) {
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if desc.Type() == "required" {
			if prop, ok := desc.Details()["property"].(string); ok {
				field = prop
			}
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// GetErrorsForField returns errors for a specific field
func (vr *ValidationResult) GetErrorsForField(field string) []ValidationError {
	var fieldErrors []ValidationError
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			fieldErrors = append(fieldErrors, err)
		}
	}
	return fieldErrors
}
