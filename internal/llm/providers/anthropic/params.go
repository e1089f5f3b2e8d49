package anthropic

import (
	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/deskpilot/deskpilot/internal/llm"
)

func buildParams(req llm.Request) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  toMessageParams(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}
	return params
}

func toToolParams(schemas []llm.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		param := sdk.ToolParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			InputSchema: sdk.ToolInputSchemaParam{Type: "object", Properties: s.Properties, Required: s.Required},
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &param})
	}
	return out
}

func toMessageParams(msgs []llm.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Content))
		for _, b := range m.Content {
			if p, ok := toBlockParam(b); ok {
				blocks = append(blocks, p)
			}
		}
		if len(blocks) == 0 {
			blocks = append(blocks, sdk.NewTextBlock("(no content)"))
		}
		if m.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func toBlockParam(b llm.Block) (sdk.ContentBlockParamUnion, bool) {
	switch v := b.(type) {
	case *llm.TextBlock:
		if v.Text == "" {
			return sdk.ContentBlockParamUnion{}, false
		}
		return sdk.NewTextBlock(v.Text), true
	case *llm.ImageBlock:
		if v.Data == "" {
			return sdk.NewTextBlock(OmittedImage), true
		}
		return sdk.NewImageBlockBase64(v.MediaType, v.Data), true
	case *llm.ToolUseBlock:
		input := v.Input
		if input == nil {
			input = map[string]any{}
		}
		return sdk.ContentBlockParamUnion{OfToolUse: &sdk.ToolUseBlockParam{ID: v.ID, Name: v.Name, Input: input}}, true
	case *llm.ToolResultBlock:
		return toToolResultParam(v), true
	}
	return sdk.ContentBlockParamUnion{}, false
}

func toToolResultParam(v *llm.ToolResultBlock) sdk.ContentBlockParamUnion {
	param := sdk.ToolResultBlockParam{ToolUseID: v.ToolUseID, IsError: sdk.Bool(v.IsError)}
	for _, c := range v.Content {
		switch cv := c.(type) {
		case *llm.TextBlock:
			if cv.Text == "" {
				continue
			}
			param.Content = append(param.Content, sdk.ToolResultBlockParamContentUnion{OfText: &sdk.TextBlockParam{Text: cv.Text}})
		case *llm.ImageBlock:
			if cv.Data == "" {
				param.Content = append(param.Content, sdk.ToolResultBlockParamContentUnion{OfText: &sdk.TextBlockParam{Text: OmittedImage}})
				continue
			}
			img := sdk.NewImageBlockBase64(cv.MediaType, cv.Data)
			param.Content = append(param.Content, sdk.ToolResultBlockParamContentUnion{OfImage: img.OfImage})
		}
	}
	return sdk.ContentBlockParamUnion{OfToolResult: &param}
}
