package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/Chative-core-poc-v1/assistant/internal/core/error"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) (*ChatModel, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	temp := float32(0.7)
	maxTokens := 2000
	cm, err := NewChatModel(&Config{
		BaseURL:     srv.URL + "/v1/",
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)
	return cm, srv
}

// completionRequest is the subset of the request body the tests inspect.
type completionRequest struct {
	Model         string          `json:"model"`
	Stream        bool            `json:"stream"`
	StreamOptions *map[string]any `json:"stream_options"`
	MaxTokens     *int            `json:"max_tokens"`
	Temperature   *float64        `json:"temperature"`
	Messages      []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
		ToolCalls  []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"function"`
	} `json:"tools"`
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func readStream(t *testing.T, sr *schema.StreamReader[*schema.Message]) ([]*schema.Message, error) {
	t.Helper()
	defer sr.Close()
	var out []*schema.Message
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}

func TestStreamSkipsMalformedChunksAndStopsAtDone(t *testing.T) {
	var got completionRequest
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"你好\"}}]}\n\n")
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, "data: null\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":null}}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"，世界\"},\"finish_reason\":\"stop\"}]}\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":3,\"total_tokens\":8}}\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n")
	})

	sr, err := cm.Stream(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hi"),
	}, model.WithMaxTokens(4000))
	require.NoError(t, err)

	msgs, err := readStream(t, sr)
	require.NoError(t, err)

	full, err := schema.ConcatMessages(msgs)
	require.NoError(t, err)
	assert.Equal(t, "你好，世界", full.Content)
	require.NotNil(t, full.ResponseMeta)
	require.NotNil(t, full.ResponseMeta.Usage)
	assert.Equal(t, 8, full.ResponseMeta.Usage.TotalTokens)

	assert.True(t, got.Stream)
	require.NotNil(t, got.StreamOptions)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 4000, *got.MaxTokens, "per-call option overrides default")
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.7, *got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestGenerateParsesContentAndToolCalls(t *testing.T) {
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Nil(t, req.StreamOptions)
		if assert.Len(t, req.Tools, 1) {
			fn := req.Tools[0].Function
			assert.Equal(t, "function", req.Tools[0].Type)
			assert.Equal(t, "get_current_time", fn.Name)
			assert.Equal(t, "current time", fn.Description)
			assert.Equal(t, "object", fn.Parameters["type"])
		}

		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_current_time","arguments":"{}"}}]},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`)
	})

	info := &schema.ToolInfo{
		Name:        "get_current_time",
		Desc:        "current time",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
	bound, err := cm.WithTools([]*schema.ToolInfo{info})
	require.NoError(t, err)

	msg, err := bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("几点了")})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, msg.Role)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "get_current_time", msg.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", msg.ResponseMeta.FinishReason)
	assert.Equal(t, 12, msg.ResponseMeta.Usage.TotalTokens)

	// binding returns a copy
	assert.Empty(t, cm.tools)
	_, err = cm.WithTools(nil)
	assert.Error(t, err)
}

func TestNon2xxIsUpstreamError(t *testing.T) {
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, `{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`)
	})

	_, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrUpstreamService)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, errx.ErrUpstreamService)
	assert.Contains(t, err.Error(), "429")
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After-Ms", "1")
			writeJSON(w, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"好的"},"finish_reason":"stop"}]}`)
	}))
	t.Cleanup(srv.Close)

	cm, err := NewChatModel(&Config{BaseURL: srv.URL, Model: "gpt-4o-mini", MaxRetries: 1})
	require.NoError(t, err)

	msg, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "好的", msg.Content)
	assert.Nil(t, msg.ResponseMeta.Usage, "usage absent from the response")
	assert.EqualValues(t, 2, calls.Load())
}

func TestGenerateSendsToolHistory(t *testing.T) {
	var got completionRequest
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":"现在是十点"},"finish_reason":"stop"}]}`)
	})

	history := []*schema.Message{
		schema.UserMessage("几点了"),
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "get_current_time", Arguments: "{}"},
		}}),
		schema.ToolMessage("10:00", "call_1"),
	}
	msg, err := cm.Generate(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "现在是十点", msg.Content)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "call_1", got.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "function", got.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, "get_current_time", got.Messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", got.Messages[2].Role)
	assert.Equal(t, "call_1", got.Messages[2].ToolCallID)
	assert.Equal(t, "10:00", got.Messages[2].Content)
}

func TestStreamToolCallDeltas(t *testing.T) {
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_9\",\"type\":\"function\",\"function\":{\"name\":\"calculate\",\"arguments\":\"{\\\"expr\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"ession\\\":\\\"1+1\\\"}\"}}]},\"finish_reason\":\"tool_calls\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	sr, err := cm.Stream(context.Background(), []*schema.Message{schema.UserMessage("1+1")})
	require.NoError(t, err)
	msgs, err := readStream(t, sr)
	require.NoError(t, err)

	full, err := schema.ConcatMessages(msgs)
	require.NoError(t, err)
	require.Len(t, full.ToolCalls, 1)
	assert.Equal(t, "call_9", full.ToolCalls[0].ID)
	assert.Equal(t, "calculate", full.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"expression":"1+1"}`, full.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", full.ResponseMeta.FinishReason)
}

func TestUnreachableIsUpstreamError(t *testing.T) {
	cm, srv := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, errx.ErrUpstreamService)
}

func TestGenerateWithoutChoices(t *testing.T) {
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[]}`)
	})
	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, errx.ErrUpstreamService)
}

func TestNewChatModelValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"no base url", &Config{Model: "m"}},
		{"no model", &Config{BaseURL: "http://x"}},
		{"negative retries", &Config{BaseURL: "http://x", Model: "m", MaxRetries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChatModel(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSSEReader(t *testing.T) {
	body := strings.Join([]string{
		": comment",
		"event: message",
		"data: first",
		"",
		"data:second",
		"data:   ",
		"id: 7",
		"data: [DONE]",
		"data: never",
	}, "\r\n")
	r := newSSEReader(strings.NewReader(body))

	v, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	v, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBindTools(t *testing.T) {
	cm, _ := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {})
	tl, err := utils.InferTool("echo", "echo input", func(ctx context.Context, in struct {
		Text string `json:"text"`
	}) (string, error) {
		return in.Text, nil
	})
	require.NoError(t, err)
	info, err := tl.Info(context.Background())
	require.NoError(t, err)

	bound, err := BindTools(cm, []*schema.ToolInfo{info})
	require.NoError(t, err)
	assert.Len(t, bound.(*ChatModel).tools, 1)
}
