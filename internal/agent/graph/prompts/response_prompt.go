package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/tools"
)

//go:embed template/system.txt
var coreSystemPrompt string

//go:embed template/simple.txt
var simpleSystemPrompt string

//go:embed template/tools.txt
var toolSystemPrompt string

// Per-strategy instructions appended to the core system prompt.
const (
	RAGInstruction      = "请基于提供的搜索结果和工具调用结果来回答用户问题。"
	ThinkingInstruction = "请基于之前的深度思考结果来生成最终回答。"
	EnhancedInstruction = "请提供详细、准确、有帮助的回答。考虑多个角度，提供实用的建议。"
)

// render formats a single system template through the Eino prompt component,
// so prompt callbacks observe every rendered prompt.
func render(ctx context.Context, name, tpl string, vars map[string]any) (string, error) {
	t := prompt.FromMessages(schema.GoTemplate, schema.SystemMessage(tpl))
	msgs, err := t.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs[0].Content, nil
}

// RenderResponseSystem renders the core system prompt followed by instruction, if any.
func RenderResponseSystem(ctx context.Context, instruction string) (string, error) {
	base, err := render(ctx, "response", coreSystemPrompt, map[string]any{})
	if err != nil {
		return "", err
	}
	if instruction == "" {
		return base, nil
	}
	return base + "\n\n" + instruction, nil
}

// RenderSimpleSystem renders the short preamble used for greetings and small talk.
func RenderSimpleSystem(ctx context.Context) (string, error) {
	return render(ctx, "simple", simpleSystemPrompt, map[string]any{})
}

// RenderToolSystem renders the instructions for the function-calling stage.
func RenderToolSystem(ctx context.Context, maxCalls int) (string, error) {
	return render(ctx, "tools", toolSystemPrompt, map[string]any{
		"MaxCalls":   maxCalls,
		"TimeTool":   tools.ToolCurrentTime,
		"SearchTool": tools.ToolSearchConversation,
	})
}
