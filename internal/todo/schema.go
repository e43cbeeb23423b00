package todo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sharedo/sharedo/internal/models"
)

// ErrInvalidPayload marks a request body that failed schema validation.
// Nothing is written when it is returned.
var ErrInvalidPayload = errors.New("invalid mutation payload")

const mutationsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"text": {"type": ["string", "null"]},
			"completed": {"type": "boolean"}
		},
		"required": ["id", "text", "completed"],
		"additionalProperties": false
	}
}`

// MutationValidator checks incoming mutation batches against the wire schema
// before they reach the applier.
type MutationValidator struct {
	schema *jsonschema.Schema
}

func NewMutationValidator() (*MutationValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(mutationsSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse mutation schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mutations.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add mutation schema: %w", err)
	}
	schema, err := compiler.Compile("mutations.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile mutation schema: %w", err)
	}
	return &MutationValidator{schema: schema}, nil
}

// Parse validates the raw body and decodes it into mutations.
func (v *MutationValidator) Parse(data []byte) ([]models.Mutation, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var mutations []models.Mutation
	if err := json.Unmarshal(data, &mutations); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return mutations, nil
}
