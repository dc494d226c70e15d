package llm

import (
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

// Conversions between eino schema types and openai-go request/response types.

func messageToParam(m *schema.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case schema.System:
		return openai.SystemMessage(m.Content)
	case schema.Assistant:
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content)
		}
		msg := &openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			msg.Content.OfString = openai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: msg}
	case schema.Tool:
		return openai.ToolMessage(m.Content, m.ToolCallID)
	default:
		msg := openai.UserMessage(m.Content)
		if m.Name != "" {
			msg.OfUser.Name = openai.String(m.Name)
		}
		return msg
	}
}

var emptyParams = shared.FunctionParameters{"type": "object", "properties": map[string]any{}}

func toolToParam(t *schema.ToolInfo) (openai.ChatCompletionToolParam, error) {
	fn := shared.FunctionDefinitionParam{
		Name:       t.Name,
		Parameters: emptyParams,
	}
	if t.Desc != "" {
		fn.Description = openai.String(t.Desc)
	}
	if t.ParamsOneOf != nil {
		js, err := t.ParamsOneOf.ToJSONSchema()
		if err != nil {
			return openai.ChatCompletionToolParam{}, fmt.Errorf("tool %s schema: %w", t.Name, err)
		}
		if js != nil {
			b, err := json.Marshal(js)
			if err != nil {
				return openai.ChatCompletionToolParam{}, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			var params shared.FunctionParameters
			if err := json.Unmarshal(b, &params); err != nil {
				return openai.ChatCompletionToolParam{}, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			fn.Parameters = params
		}
	}
	return openai.ChatCompletionToolParam{Function: fn}, nil
}

func toolCallsToSchema(calls []openai.ChatCompletionMessageToolCall) []schema.ToolCall {
	var out []schema.ToolCall
	for i, tc := range calls {
		idx := i
		out = append(out, schema.ToolCall{
			Index: &idx,
			ID:    tc.ID,
			Type:  string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

// chunkToCallback converts one stream chunk. ok is false for chunks carrying
// neither a choice nor usage (keep-alives, null payloads).
func chunkToCallback(c openai.ChatCompletionChunk) (*model.CallbackOutput, bool) {
	hasUsage := c.JSON.Usage.Valid()
	if len(c.Choices) == 0 && !hasUsage {
		return nil, false
	}

	msg := &schema.Message{Role: schema.Assistant}
	if len(c.Choices) > 0 {
		ch := c.Choices[0]
		msg.Content = ch.Delta.Content
		for _, tc := range ch.Delta.ToolCalls {
			idx := int(tc.Index)
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				Index: &idx,
				ID:    tc.ID,
				Type:  tc.Type,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		if ch.FinishReason != "" {
			msg.ResponseMeta = &schema.ResponseMeta{FinishReason: ch.FinishReason}
		}
	}

	out := &model.CallbackOutput{Message: msg}
	if hasUsage {
		if msg.ResponseMeta == nil {
			msg.ResponseMeta = &schema.ResponseMeta{}
		}
		msg.ResponseMeta.Usage = usageToSchema(c.Usage)
		out.TokenUsage = usageToCallback(c.Usage)
	}
	return out, true
}

func usageToSchema(u openai.CompletionUsage) *schema.TokenUsage {
	return &schema.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

func usageToCallback(u openai.CompletionUsage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}
