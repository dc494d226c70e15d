package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/graph/prompts"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/llm/llmtest"
	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
)

type recorder struct {
	events []model.Event
	// failOn makes the n-th Send (1-based) and every later one fail; 0 never fails.
	failOn int
}

func (r *recorder) Send(e model.Event) error {
	if r.failOn > 0 && len(r.events)+1 >= r.failOn {
		return model.ErrCallbackClosed
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) contents() []string {
	var out []string
	for _, e := range r.events {
		if e.Kind == model.EventContent {
			out = append(out, e.Content)
		}
	}
	return out
}

var (
	thinking = &model.ThinkingResult{Steps: []model.ThinkingStep{
		model.NewThinkingStep(model.StepAnalyze, "问题分析", "用户想学习 Go"),
	}}
	toolResult = &model.FunctionCallResult{Invocations: []model.ToolInvocation{
		{ID: "call_1", Name: "get_current_time", Arguments: "{}", Result: `{"time":"10:00"}`},
	}}
	memory = &model.MemoryContext{Compressed: []*schema.Message{
		schema.UserMessage("之前的问题"),
		schema.AssistantMessage("之前的回答", nil),
		schema.SystemMessage("ignored"),
		schema.UserMessage("  "),
	}}
)

func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Strategy
	}{
		{"tools win", Input{Route: model.RouteSimpleChat, Tools: toolResult, Thinking: thinking}, StrategyRAG},
		{"thinking next", Input{Route: model.RouteStandardChat, Thinking: thinking}, StrategyThinking},
		{"empty tool result ignored", Input{Route: model.RouteStandardChat, Tools: &model.FunctionCallResult{}}, StrategyContextAware},
		{"empty thinking ignored", Input{Route: model.RouteSimpleChat, Thinking: &model.ThinkingResult{}}, StrategySimple},
		{"simple", Input{Route: model.RouteSimpleChat}, StrategySimple},
		{"standard", Input{Route: model.RouteStandardChat}, StrategyContextAware},
		{"deep simple", Input{Route: model.RouteDeepThinkingSimple}, StrategyEnhanced},
		{"deep tools", Input{Route: model.RouteDeepThinkingWithTools}, StrategyEnhanced},
		{"no route", Input{}, StrategyStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.in))
		})
	}
}

func roles(msgs []*schema.Message) []schema.RoleType {
	out := make([]schema.RoleType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestBuildMessages(t *testing.T) {
	ctx := context.Background()
	base, err := prompts.RenderResponseSystem(ctx, "")
	require.NoError(t, err)
	in := Input{Message: "问题", Memory: memory, Thinking: thinking, Tools: toolResult}

	t.Run("rag", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategyRAG, in)
		require.NoError(t, err)
		assert.Equal(t, []schema.RoleType{schema.System, schema.System, schema.User}, roles(msgs))
		assert.Equal(t, base+"\n\n"+prompts.RAGInstruction, msgs[0].Content)
		assert.True(t, strings.HasPrefix(msgs[1].Content, "工具调用结果：\n"))
		assert.Contains(t, msgs[1].Content, "get_current_time")
		assert.Equal(t, "问题", msgs[2].Content)
	})

	t.Run("thinking", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategyThinking, in)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "深度思考结果：\n【问题分析】用户想学习 Go", msgs[1].Content)
	})

	t.Run("context aware", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategyContextAware, in)
		require.NoError(t, err)
		assert.Equal(t, []schema.RoleType{schema.System, schema.User, schema.Assistant, schema.User}, roles(msgs))
		assert.Equal(t, base, msgs[0].Content)
		assert.Equal(t, "之前的回答", msgs[2].Content)
	})

	t.Run("enhanced", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategyEnhanced, in)
		require.NoError(t, err)
		assert.Equal(t, []schema.RoleType{schema.System, schema.System, schema.System, schema.User, schema.Assistant, schema.User}, roles(msgs))
		assert.True(t, strings.HasPrefix(msgs[1].Content, "思考过程：\n"))
		assert.True(t, strings.HasPrefix(msgs[2].Content, "工具结果：\n"))

		bare, err := BuildMessages(ctx, StrategyEnhanced, Input{Message: "问题"})
		require.NoError(t, err)
		assert.Len(t, bare, 2)
	})

	t.Run("simple", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategySimple, in)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.NotEqual(t, base, msgs[0].Content)
	})

	t.Run("standard", func(t *testing.T) {
		msgs, err := BuildMessages(ctx, StrategyStandard, in)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, base, msgs[0].Content)
	})
}

func TestGenerateStreamsAndAccumulates(t *testing.T) {
	cm := &llmtest.ChatModel{Replies: []llmtest.Reply{{
		Chunks: []string{"Go ", "是一门", "编程语言"},
		Usage:  &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 6, TotalTokens: 18},
	}}}
	g := NewGenerator(cm, model.DefaultChatModelConfig(), "gpt-4o-mini")
	rec := &recorder{}

	res, err := g.Generate(context.Background(), Input{SessionID: "s1", Message: "什么是 Go", Route: model.RouteDeepThinkingSimple, Thinking: thinking}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Go 是一门编程语言", res.Content)
	assert.Equal(t, StrategyThinking, res.Strategy)
	assert.Equal(t, 18, res.Usage.TotalTokens)
	assert.Equal(t, []string{"基于深度思考结果生成回答...\n\n", "Go ", "是一门", "编程语言"}, rec.contents())
	assert.Equal(t, "gpt-4o-mini", g.ModelName())

	calls := cm.Calls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Options.MaxTokens)
	assert.Equal(t, 2000, *calls[0].Options.MaxTokens)
}

func TestGenerateWithoutPrelude(t *testing.T) {
	g := NewGenerator(llmtest.Text("你好！"), model.ChatModelConfig{}, "m")
	rec := &recorder{}
	res, err := g.Generate(context.Background(), Input{Message: "你好", Route: model.RouteSimpleChat}, rec)
	require.NoError(t, err)
	assert.Equal(t, "你好！", res.Content)
	assert.Equal(t, []string{"你好！"}, rec.contents())
}

func TestGenerateStopsForwardingWhenConsumerLeaves(t *testing.T) {
	cm := &llmtest.ChatModel{Replies: []llmtest.Reply{{Chunks: []string{"a", "b", "c", "d"}}}}
	g := NewGenerator(cm, model.DefaultChatModelConfig(), "m")
	rec := &recorder{failOn: 3}

	res, err := g.Generate(context.Background(), Input{Message: "hi", Route: model.RouteStandardChat}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rec.contents())
	assert.Equal(t, "abc", res.Content)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
	}{
		{"stream refused", llmtest.Reply{Err: errors.New("connection refused")}},
		{"stream broken", llmtest.Reply{Chunks: []string{"partial"}, StreamErr: errors.New("reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(&llmtest.ChatModel{Replies: []llmtest.Reply{tt.reply}}, model.DefaultChatModelConfig(), "m")
			rec := &recorder{}

			res, err := g.Generate(context.Background(), Input{Message: "hi", Route: model.RouteStandardChat}, rec)
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, errx.ErrUpstreamService)

			last := rec.events[len(rec.events)-1]
			assert.Equal(t, model.EventError, last.Kind)
			assert.True(t, strings.HasPrefix(last.Error, ErrorPrefix))
			errorEvents := 0
			for _, e := range rec.events {
				if e.IsTerminal() {
					errorEvents++
				}
			}
			assert.Equal(t, 1, errorEvents)
		})
	}
}

func TestGenerateWithoutModel(t *testing.T) {
	g := NewGenerator(nil, model.ChatModelConfig{}, "")
	_, err := g.Generate(context.Background(), Input{Message: "hi"}, nil)
	assert.ErrorIs(t, err, errx.ErrUpstreamService)
}
