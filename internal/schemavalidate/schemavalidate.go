// Package schemavalidate compiles and caches JSON Schemas, grounded on the
// teacher's pkg/pluginsdk.ValidateConfig compile-and-cache pattern.
package schemavalidate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var cache sync.Map

// Compile compiles and caches a JSON Schema by name, keyed on its raw text so
// the same schema string is never recompiled twice.
func Compile(name string, schema []byte) (*jsonschema.Schema, error) {
	key := name + "\x00" + string(schema)
	if cached, ok := cache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString(name, string(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	cache.Store(key, compiled)
	return compiled, nil
}

// ValidateJSON validates a raw JSON document against a compiled schema.
func ValidateJSON(name string, schema []byte, doc json.RawMessage) error {
	compiled, err := Compile(name, schema)
	if err != nil {
		return err
	}

	var decoded any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return fmt.Errorf("decode document for %s: %w", name, err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("%s: schema validation failed: %w", name, err)
	}
	return nil
}
