package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// ValidateParams checks tool parameters against the tool's JSON schema. A
// nil or empty schema accepts anything; unknown schemas are compiled once
// and cached by their serialized form.
func ValidateParams(schema map[string]any, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile parameter schema: %w", err)
	}

	// Round-trip through JSON so typed values (ints, structs) take the
	// shapes the validator expects.
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return err
	}
	return nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
