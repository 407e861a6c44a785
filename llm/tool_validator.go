package llm

import (
	"fmt"
	"math"
)

// ToolValidator checks tool call arguments against the tool's parameter
// schema: required properties and top-level primitive types.
type ToolValidator struct {
	tools map[string]Tool
}

// NewToolValidator creates a validator from a list of tools.
func NewToolValidator(tools []Tool) *ToolValidator {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return &ToolValidator{tools: m}
}

// ValidateCall checks a call's arguments. Extra arguments are allowed.
func (tv *ToolValidator) ValidateCall(name string, args map[string]any) error {
	tool, ok := tv.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if len(tool.ParametersSchema) == 0 {
		return nil
	}

	for _, field := range stringList(tool.ParametersSchema["required"]) {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required parameter: %s", field)
		}
	}

	props, _ := tool.ParametersSchema["properties"].(map[string]any)
	for argName, v := range args {
		prop, _ := props[argName].(map[string]any)
		want, _ := prop["type"].(string)
		if want == "" || v == nil {
			continue
		}
		if err := checkType(argName, v, want); err != nil {
			return err
		}
	}
	return nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// checkType matches decoded JSON values (float64, string, bool, []any,
// map[string]any) and their common Go equivalents.
func checkType(name string, v any, want string) error {
	ok := true
	switch want {
	case "string":
		_, ok = v.(string)
	case "boolean":
		_, ok = v.(bool)
	case "number":
		switch v.(type) {
		case float64, float32, int, int64, int32:
		default:
			ok = false
		}
	case "integer":
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("parameter %s: expected integer, got %v", name, n)
			}
		case int, int64, int32:
		default:
			ok = false
		}
	case "array":
		switch v.(type) {
		case []any, []string, []float64, []map[string]any:
		default:
			ok = false
		}
	case "object":
		_, ok = v.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("parameter %s: expected %s, got %T", name, want, v)
	}
	return nil
}
