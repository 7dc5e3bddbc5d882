package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// LoadSchema compiles the JSON Schema stored at path. OpenAI response_format
// wrappers ({"schema": ...} or {"json_schema": {"schema": ...}}) are unwrapped.
func LoadSchema(path string) (*jsonschema.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read response schema: %w", err)
	}
	return CompileSchema(raw)
}

// CompileSchema compiles a JSON Schema document
func CompileSchema(raw []byte) (*jsonschema.Schema, error) {
	core, err := unwrapSchema(raw)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}
	return schema, nil
}

func unwrapSchema(raw []byte) ([]byte, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid response schema JSON: %w", err)
	}

	if inner, ok := root["json_schema"]; ok {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(inner, &wrapper); err == nil {
			if schema, ok := wrapper["schema"]; ok {
				return schema, nil
			}
		}
	}
	// A "schema" key next to "name" marks the response_format wrapper, not a keyword
	if inner, ok := root["schema"]; ok {
		if _, named := root["name"]; named {
			return inner, nil
		}
	}
	return raw, nil
}
