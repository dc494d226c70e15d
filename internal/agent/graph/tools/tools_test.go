package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/repo"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
)

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}
}

func newTestCaller(t *testing.T, maxCalls int) (*Caller, *repo.MemoryConversationRepository) {
	t.Helper()
	ctx := context.Background()
	r := repo.NewMemoryConversationRepository()
	clock := cache.NewManualClock(time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC))
	c, err := NewCaller(ctx, GetQueryTools(r, clock), maxCalls)
	require.NoError(t, err)
	return c, r
}

func TestGetQueryTools(t *testing.T) {
	ctx := context.Background()

	infos, err := GetToolInfos(ctx, GetQueryTools(repo.NewMemoryConversationRepository(), nil))
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, ToolCurrentTime, infos[0].Name)
	assert.Equal(t, ToolSearchConversation, infos[1].Name)

	// search needs a history store
	infos, err = GetToolInfos(ctx, GetQueryTools(nil, nil))
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestCallerCurrentTime(t *testing.T) {
	c, _ := newTestCaller(t, 5)

	res, err := c.Call(context.Background(), "s1", schema.AssistantMessage("", []schema.ToolCall{
		toolCall("call_1", ToolCurrentTime, `{"timezone":"  UTC "}`),
	}))
	require.NoError(t, err)
	require.Len(t, res.Invocations, 1)
	assert.False(t, res.LimitReached)

	var out CurrentTimeOutput
	require.NoError(t, json.Unmarshal([]byte(res.Invocations[0].Result), &out))
	assert.Equal(t, "2026-10-18", out.Date)
	assert.Equal(t, "星期日", out.Weekday)
	assert.Equal(t, "UTC", out.Timezone)
	assert.Empty(t, out.Note)
	assert.Empty(t, res.Invocations[0].Error)
}

func TestCallerUnknownTimezoneFallsBackToUTC(t *testing.T) {
	c, _ := newTestCaller(t, 5)

	res, err := c.Call(context.Background(), "s1", schema.AssistantMessage("", []schema.ToolCall{
		toolCall("call_1", ToolCurrentTime, `{"timezone":"Mars/Olympus"}`),
	}))
	require.NoError(t, err)
	require.Len(t, res.Invocations, 1)

	var out CurrentTimeOutput
	require.NoError(t, json.Unmarshal([]byte(res.Invocations[0].Result), &out))
	assert.Equal(t, "UTC", out.Timezone)
	assert.Contains(t, out.Note, "Mars/Olympus")
}

func TestCallerUnknownTool(t *testing.T) {
	c, _ := newTestCaller(t, 5)

	res, err := c.Call(context.Background(), "s1", schema.AssistantMessage("", []schema.ToolCall{
		toolCall("call_1", "delete_everything", `{}`),
	}))
	require.NoError(t, err)
	require.Len(t, res.Invocations, 1)
	assert.Contains(t, res.Invocations[0].Result, "unknown_tool")
	assert.NotEmpty(t, res.Invocations[0].Error)
}

func TestCallerLimitAndMissingIDs(t *testing.T) {
	c, _ := newTestCaller(t, 1)
	assert.Equal(t, 1, c.MaxCalls())

	res, err := c.Call(context.Background(), "s1", schema.AssistantMessage("", []schema.ToolCall{
		toolCall("", ToolCurrentTime, `{}`),
		toolCall("", ToolCurrentTime, `{}`),
	}))
	require.NoError(t, err)
	assert.True(t, res.LimitReached)
	require.Len(t, res.Invocations, 1)
	assert.NotEmpty(t, res.Invocations[0].ID)
}

func TestCallerNoToolCalls(t *testing.T) {
	c, _ := newTestCaller(t, 0)
	assert.Equal(t, DefaultMaxToolCalls, c.MaxCalls())

	res, err := c.Call(context.Background(), "s1", schema.AssistantMessage("无需工具", nil))
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestCallerSearchConversation(t *testing.T) {
	c, r := newTestCaller(t, 5)
	ctx := context.Background()
	for _, m := range []*schema.Message{
		schema.UserMessage("我想学习 Go 语言"),
		schema.AssistantMessage("Go 是一门简洁的语言", nil),
		schema.UserMessage("今天天气怎么样"),
		schema.AssistantMessage("抱歉，我无法获取天气", nil),
	} {
		require.NoError(t, r.AddMessage(ctx, "s1", m))
	}
	require.NoError(t, r.AddMessage(ctx, "other", schema.UserMessage("go go go")))

	res, err := c.Call(ctx, "s1", schema.AssistantMessage("", []schema.ToolCall{
		toolCall("call_1", ToolSearchConversation, `{"query":" go ","max_results":"1"}`),
	}))
	require.NoError(t, err)
	require.Len(t, res.Invocations, 1)

	var out SearchConversationOutput
	require.NoError(t, json.Unmarshal([]byte(res.Invocations[0].Result), &out))
	require.Equal(t, 1, out.Total)
	// most recent match first
	assert.Equal(t, 1, out.Matches[0].Index)
	assert.Equal(t, "assistant", out.Matches[0].Role)
}

func TestSanitizeArguments(t *testing.T) {
	tests := []struct {
		name string
		tool string
		in   string
		want string
	}{
		{"empty becomes object", ToolCurrentTime, "  ", `{}`},
		{"not json passes through", ToolCurrentTime, "oops", "oops"},
		{"trim timezone", ToolCurrentTime, `{"timezone":" UTC "}`, `{"timezone":"UTC"}`},
		{"drop non-string timezone", ToolCurrentTime, `{"timezone":8}`, `{}`},
		{"coerce query", ToolSearchConversation, `{"query":42}`, `{"query":"42"}`},
		{"clamp max_results", ToolSearchConversation, `{"query":"a","max_results":99}`, `{"max_results":20,"query":"a"}`},
		{"parse string max_results", ToolSearchConversation, `{"query":"a","max_results":"0"}`, `{"max_results":1,"query":"a"}`},
		{"drop bad max_results", ToolSearchConversation, `{"query":"a","max_results":"many"}`, `{"query":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeArguments(context.Background(), tt.tool, tt.in)
			require.NoError(t, err)
			if json.Valid([]byte(tt.want)) {
				assert.JSONEq(t, tt.want, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSessionIDContext(t *testing.T) {
	assert.Empty(t, SessionIDFrom(context.Background()))
	assert.Equal(t, "s1", SessionIDFrom(WithSessionID(context.Background(), "s1")))
}
