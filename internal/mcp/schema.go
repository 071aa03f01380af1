package mcp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaValidator checks tool arguments against a tool's input schema.
// Resolved schemas are cached by their raw text.
type SchemaValidator struct {
	resolved sync.Map // string -> *jsonschema.Resolved
}

// Validate returns nil when the schema is empty or the arguments conform.
func (v *SchemaValidator) Validate(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 || string(schema) == "null" {
		return nil
	}

	rs, err := v.resolve(schema)
	if err != nil {
		return fmt.Errorf("unusable input schema: %w", err)
	}

	instance := args
	if instance == nil {
		instance = map[string]any{}
	}
	return rs.Validate(instance)
}

func (v *SchemaValidator) resolve(schema json.RawMessage) (*jsonschema.Resolved, error) {
	key := string(schema)
	if cached, ok := v.resolved.Load(key); ok {
		return cached.(*jsonschema.Resolved), nil
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, err
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		return nil, err
	}
	v.resolved.Store(key, rs)
	return rs, nil
}
