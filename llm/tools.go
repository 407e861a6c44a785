package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ToolBuilder constructs tools from Go functions, deriving the parameter
// schema from the argument struct.
type ToolBuilder struct {
	tools    []Tool
	handlers map[string]ToolHandler
}

// NewToolBuilder creates a new tool builder.
func NewToolBuilder() *ToolBuilder {
	return &ToolBuilder{handlers: make(map[string]ToolHandler)}
}

// AddFunc registers fn as a tool. fn must have the signature
//
//	func(ctx context.Context, params T) (any, error)
//
// where T is a struct. Field json tags name the properties, fields without
// omitempty are required and the description tag documents them.
func (tb *ToolBuilder) AddFunc(name, description string, fn any) error {
	handler, schema, err := wrapFunction(fn)
	if err != nil {
		return fmt.Errorf("llm: tool %s: %w", name, err)
	}
	tb.AddTool(Tool{Name: name, Description: description, ParametersSchema: schema}, handler)
	return nil
}

// AddTool adds a pre-configured tool and its handler, replacing any tool
// with the same name.
func (tb *ToolBuilder) AddTool(tool Tool, handler ToolHandler) {
	tb.tools = slices.DeleteFunc(tb.tools, func(t Tool) bool { return t.Name == tool.Name })
	tb.tools = append(tb.tools, tool)
	tb.handlers[tool.Name] = handler
}

// Build returns the tools and handlers for use in a request.
func (tb *ToolBuilder) Build() ([]Tool, map[string]ToolHandler) {
	return tb.tools, tb.handlers
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

func wrapFunction(fn any) (ToolHandler, map[string]any, error) {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()

	switch {
	case fnType.Kind() != reflect.Func:
		return nil, nil, errors.New("handler must be a function")
	case fnType.NumIn() != 2 || !fnType.In(0).Implements(ctxType):
		return nil, nil, errors.New("function must take (context.Context, ParamsStruct)")
	case fnType.NumOut() != 2 || !fnType.Out(1).Implements(errType):
		return nil, nil, errors.New("function must return (any, error)")
	case fnType.In(1).Kind() != reflect.Struct:
		return nil, nil, errors.New("second parameter must be a struct")
	}
	paramsType := fnType.In(1)
	schema := structSchema(paramsType)

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal args: %w", err)
		}
		params := reflect.New(paramsType)
		if err := json.Unmarshal(raw, params.Interface()); err != nil {
			return nil, fmt.Errorf("unmarshal args into %s: %w", paramsType.Name(), err)
		}
		out := fnVal.Call([]reflect.Value{reflect.ValueOf(ctx), params.Elem()})
		if errVal, _ := out[1].Interface().(error); errVal != nil {
			return nil, errVal
		}
		return out[0].Interface(), nil
	}
	return handler, schema, nil
}

// structSchema creates a JSON schema object from a struct's fields and tags.
func structSchema(t reflect.Type) map[string]any {
	properties := make(map[string]any)
	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := field.Name
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		if !slices.Contains(parts[1:], "omitempty") {
			required = append(required, name)
		}

		fs := typeSchema(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			fs["description"] = desc
		}
		properties[name] = fs
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// typeSchema maps a Go type to a JSON schema fragment.
func typeSchema(t reflect.Type) map[string]any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem())}
	case reflect.Struct:
		return structSchema(t)
	case reflect.Map:
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}
