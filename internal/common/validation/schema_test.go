package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var utteranceSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"text"},
	"properties": map[string]interface{}{
		"text":       map[string]interface{}{"type": "string", "maxLength": 10},
		"confidence": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
	},
}

func TestValidator(t *testing.T) {
	v, err := NewValidator(utteranceSchema)
	require.NoError(t, err)

	tests := []struct {
		name      string
		input     map[string]interface{}
		valid     bool
		badFields []string
	}{
		{name: "valid", input: map[string]interface{}{"text": "milo", "confidence": 0.9}, valid: true},
		{name: "missing text", input: map[string]interface{}{"confidence": 0.9}, badFields: []string{"text"}},
		{name: "text too long", input: map[string]interface{}{"text": "a very long utterance"}, badFields: []string{"text"}},
		{name: "confidence out of range", input: map[string]interface{}{"text": "milo", "confidence": 1.5}, badFields: []string{"confidence"}},
		{name: "wrong type", input: map[string]interface{}{"text": 42}, badFields: []string{"text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Validate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.GetErrorMessages())
			for _, f := range tt.badFields {
				assert.True(t, res.HasErrors(f), "expected an error on %s, got %v", f, res.GetErrorMessages())
			}
		})
	}
}

func TestValidator_JSONDocument(t *testing.T) {
	v, err := NewValidator(utteranceSchema)
	require.NoError(t, err)

	res, err := v.ValidateJSON(`{"text":"milo"}`)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = v.ValidateJSON(`{not json`)
	assert.Error(t, err)
}

func TestValidator_EmptySchemaAcceptsAll(t *testing.T) {
	res, err := ValidateInput(map[string]interface{}{"anything": true}, nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestNewValidator_BadSchema(t *testing.T) {
	_, err := NewValidator(map[string]interface{}{"type": 12})
	assert.Error(t, err)
}
