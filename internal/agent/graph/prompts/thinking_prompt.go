package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
)

//go:embed template/thinking.txt
var thinkingSystemPrompt string

var strategyGuides = map[model.ThinkingStrategy]string{
	model.StrategyFactualAnalysis:     "重点厘清概念的定义、范围和关键事实，区分事实与观点。",
	model.StrategyCreativeThinking:    "尝试从多个不同角度发散思考，提出新颖且可行的想法。",
	model.StrategyProblemSolving:      "明确问题的目标和约束，拆解成可执行的步骤，并评估每种方案的可行性。",
	model.StrategyComparativeAnalysis: "确定比较维度，逐项对比各对象的异同和优劣，最后给出适用场景。",
	model.StrategyGeneralThinking:     "全面理解问题，按照分析、推理、总结的顺序逐步展开。",
}

// StrategyGuide returns the analysis guidance for s.
func StrategyGuide(s model.ThinkingStrategy) string {
	if g, ok := strategyGuides[s]; ok {
		return g
	}
	return strategyGuides[model.StrategyGeneralThinking]
}

// RenderThinkingMessages builds the system and user turns sent to the thinking model.
func RenderThinkingMessages(ctx context.Context, strategy model.ThinkingStrategy, message string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(thinkingSystemPrompt),
		schema.UserMessage("请对以下问题进行深度思考：\n\n{{.Message}}"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Strategy": strategy.Description(),
		"Guide":    StrategyGuide(strategy),
		"Message":  message,
	})
	if err != nil {
		return nil, fmt.Errorf("thinking prompt render: %w", err)
	}
	if len(msgs) != 2 {
		return nil, fmt.Errorf("thinking prompt render: got %d messages", len(msgs))
	}
	return msgs, nil
}
