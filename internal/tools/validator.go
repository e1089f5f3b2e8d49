package tools

import (
	"fmt"
	"math"
)

// argumentFields lists every argument an action may carry, with its JSON type.
var argumentFields = []SchemaField{
	{Name: "coordinate", Type: "array", Items: "integer"},
	{Name: "text", Type: "string"},
	{Name: "scroll_direction", Type: "string", Enum: []string{"up", "down", "left", "right"}},
	{Name: "direction", Type: "string", Enum: []string{"up", "down", "left", "right"}},
	{Name: "scroll_amount", Type: "integer"},
	{Name: "amount", Type: "integer"},
	{Name: "duration", Type: "number"},
}

func validateAgainstSchema(fields []SchemaField, args map[string]any) error {
	for _, field := range fields {
		val, exists := args[field.Name]
		if field.Required && !exists {
			return fmt.Errorf("%s is required", field.Name)
		}
		if !exists || val == nil {
			continue
		}
		switch field.Type {
		case "string":
			if _, ok := val.(string); !ok {
				return fmt.Errorf("%s must be string", field.Name)
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return fmt.Errorf("%s must be boolean", field.Name)
			}
		case "array":
			items, ok := val.([]any)
			if !ok {
				return fmt.Errorf("%s must be array", field.Name)
			}
			if field.Items == "integer" {
				for _, it := range items {
					if _, ok := asInt(it); !ok {
						return fmt.Errorf("%s must contain integers", field.Name)
					}
				}
			}
		case "integer":
			if _, ok := asInt(val); !ok {
				return fmt.Errorf("%s must be integer", field.Name)
			}
		case "number":
			if _, ok := asFloat(val); !ok {
				return fmt.Errorf("%s must be number", field.Name)
			}
		}
		if len(field.Enum) > 0 {
			s, _ := val.(string)
			valid := false
			for _, allowed := range field.Enum {
				if s == allowed {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("%s must be one of %v", field.Name, field.Enum)
			}
		}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// asInt accepts integral JSON numbers.
func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
