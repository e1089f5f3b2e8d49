package tools

import (
	"fmt"

	"github.com/deskpilot/deskpilot/internal/llm"
)

// Tool names exposed to the model.
const (
	ComputerTool = "computer"
	StepsTool    = "process_documentation"
)

// Schema describes a tool for JSON schema/tool-calling.
type Schema struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []SchemaField `json:"parameters"`
}

// SchemaField describes a single parameter.
type SchemaField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Items       string   `json:"items,omitempty"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Display describes the screen the computer tool operates on.
type Display struct {
	Width  int
	Height int
}

// ComputerSchema describes the desktop control tool.
func ComputerSchema(d Display) Schema {
	return Schema{
		Name: ComputerTool,
		Description: fmt.Sprintf("Use a mouse and keyboard to interact with a computer and take screenshots. "+
			"The screen is %dx%d pixels; coordinates are [x, y] from the top-left corner.", d.Width, d.Height),
		Parameters: []SchemaField{
			{
				Name:        "action",
				Type:        "string",
				Description: "The action to perform",
				Required:    true,
				Enum:        kindNames(computerKinds),
			},
			{Name: "coordinate", Type: "array", Items: "integer", Description: "[x, y] pixel position for pointer actions"},
			{Name: "text", Type: "string", Description: "Text to type, or the key combination for key (e.g. ctrl+l, Return)"},
			{Name: "scroll_direction", Type: "string", Description: "Scroll direction", Enum: []string{"up", "down", "left", "right"}},
			{Name: "scroll_amount", Type: "integer", Description: "Number of scroll steps"},
			{Name: "duration", Type: "number", Description: "Seconds to wait"},
		},
	}
}

// StepsSchema describes the process documentation navigation tool.
func StepsSchema() Schema {
	return Schema{
		Name: StepsTool,
		Description: "You are currently at a specific step of the process documentation. " +
			"Use this tool to navigate the documentation.",
		Parameters: []SchemaField{
			{
				Name:        "action",
				Type:        "string",
				Description: "'next' moves to the next step, 'prev' to the previous one and 'curr' repeats the current step.",
				Required:    true,
				Enum:        kindNames(stepKinds),
			},
		},
	}
}

// ToolSchema renders the schema in the provider-neutral form.
func (s Schema) ToolSchema() llm.ToolSchema {
	props := make(map[string]any, len(s.Parameters))
	var required []string
	for _, f := range s.Parameters {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Type == "array" && f.Items != "" {
			prop["items"] = map[string]any{"type": f.Items}
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return llm.ToolSchema{
		Name:        s.Name,
		Description: s.Description,
		Properties:  props,
		Required:    required,
	}
}

func kindNames(kinds []ActionKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
