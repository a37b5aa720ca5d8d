// Package structured validates strict-mode JSON schemas and generates
// synthetic values conforming to them.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StrictError describes a schema that violates the strict-mode contract.
type StrictError struct {
	Path   string
	Reason string
}

func (e *StrictError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid schema for response_format 'json_schema': %s", e.Reason)
	}
	return fmt.Sprintf("invalid schema for response_format 'json_schema': %s at %s", e.Reason, e.Path)
}

// ValidateStrict enforces the strict-mode rules on a schema:
// the root must be an object without anyOf, every object level must set
// additionalProperties:false, and required must list every property.
// parallelToolCalls must be disabled by the caller for strict output.
func ValidateStrict(schemaBytes json.RawMessage, parallelToolCalls bool) error {
	if parallelToolCalls {
		return &StrictError{Reason: "'parallel_tool_calls' must be false when using strict structured output"}
	}

	var schema map[string]any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return &StrictError{Reason: "schema is not a JSON object"}
	}

	if t, _ := schema["type"].(string); t != "object" {
		return &StrictError{Path: "#", Reason: "root 'type' must be 'object'"}
	}
	if _, ok := schema["anyOf"]; ok {
		return &StrictError{Path: "#", Reason: "'anyOf' is not permitted at the root"}
	}
	return checkObjectStrict(schema, "#")
}

func checkObjectStrict(schema map[string]any, path string) error {
	if t, _ := schema["type"].(string); t == "object" || schema["properties"] != nil {
		ap, present := schema["additionalProperties"]
		if !present {
			return &StrictError{Path: path, Reason: "'additionalProperties' must be set to false"}
		}
		if allowed, ok := ap.(bool); !ok || allowed {
			return &StrictError{Path: path, Reason: "'additionalProperties' must be false"}
		}

		props, _ := schema["properties"].(map[string]any)
		required := requiredSet(schema)
		for name := range props {
			if !required[name] {
				return &StrictError{Path: path, Reason: fmt.Sprintf("'required' must include every property, missing %q", name)}
			}
		}
		for name, raw := range props {
			sub, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if err := checkObjectStrict(sub, path+"/"+name); err != nil {
				return err
			}
		}
	}

	if items, ok := schema["items"].(map[string]any); ok {
		if err := checkObjectStrict(items, path+"/items"); err != nil {
			return err
		}
	}
	return nil
}

func requiredSet(schema map[string]any) map[string]bool {
	out := make(map[string]bool)
	raw, _ := schema["required"].([]any)
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out[strings.TrimSpace(s)] = true
		}
	}
	return out
}
