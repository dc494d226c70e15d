package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

const DefaultMaxToolCalls = 5

// Caller executes the tool calls proposed by a chat model, at most maxCalls per round.
type Caller struct {
	node     *compose.ToolsNode
	infos    []*schema.ToolInfo
	maxCalls int
}

// NewCaller builds a sequential tools node over tools.
func NewCaller(ctx context.Context, tools []tool.BaseTool, maxCalls int) (*Caller, error) {
	infos, err := GetToolInfos(ctx, tools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return nil, fmt.Errorf("failed to get tool infos: %w", err)
	}

	node, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:                tools,
		ExecuteSequentially:  true,
		UnknownToolsHandler:  unknownTool,
		ToolArgumentsHandler: sanitizeArguments,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}

	return &Caller{node: node, infos: infos, maxCalls: normalizeMaxToolCalls(maxCalls)}, nil
}

// Infos returns the schemas of the managed tools.
func (c *Caller) Infos() []*schema.ToolInfo { return c.infos }

func (c *Caller) MaxCalls() int { return c.maxCalls }

// Call runs the tool calls carried by msg. Calls beyond the limit are dropped
// and reported through LimitReached.
func (c *Caller) Call(ctx context.Context, sessionID string, msg *schema.Message) (*model.FunctionCallResult, error) {
	result := &model.FunctionCallResult{Timestamp: time.Now()}
	if msg == nil || len(msg.ToolCalls) == 0 {
		return result, nil
	}

	calls := make([]schema.ToolCall, len(msg.ToolCalls))
	copy(calls, msg.ToolCalls)
	if len(calls) > c.maxCalls {
		logx.Warn().
			Str("session_id", sessionID).
			Int("requested", len(calls)).
			Int("max_tool_calls", c.maxCalls).
			Msg("Tool call limit exceeded - dropping extra calls")
		calls = calls[:c.maxCalls]
		result.LimitReached = true
	}
	// some providers omit tool call ids
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = "call_" + uuid.NewString()[:8]
		}
	}

	in := schema.AssistantMessage(msg.Content, calls)
	outs, err := c.node.Invoke(WithSessionID(ctx, sessionID), in)
	if err != nil {
		return nil, fmt.Errorf("execute tools: %w", err)
	}

	byID := make(map[string]string, len(outs))
	for _, o := range outs {
		if o != nil {
			byID[o.ToolCallID] = o.Content
		}
	}
	for _, call := range calls {
		res, ok := byID[call.ID]
		if !ok {
			continue
		}
		inv := model.ToolInvocation{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
			Result:    res,
		}
		if isErrorPayload(res) {
			inv.Error = res
		}
		result.Invocations = append(result.Invocations, inv)
	}

	logx.Debug().
		Str("session_id", sessionID).
		Int("tool_count", len(result.Invocations)).
		Bool("limit_reached", result.LimitReached).
		Msg("Tools executed")
	return result, nil
}

// unknownTool answers hallucinated or malformed tool calls with a structured
// payload the model can read, instead of failing the round.
func unknownTool(ctx context.Context, name, input string) (string, error) {
	logx.Warn().
		Str("tool_name", name).
		Str("arguments", input).
		Msg("Unknown or invalid tool call; returning fallback result")
	return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
}

// sanitizeArguments normalizes known argument shapes. It never fails; input
// that is not a JSON object is passed through unchanged.
func sanitizeArguments(ctx context.Context, name, arguments string) (string, error) {
	if strings.TrimSpace(arguments) == "" {
		return "{}", nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments, nil
	}

	switch name {
	case ToolSearchConversation:
		if v, ok := m["query"]; ok {
			switch vv := v.(type) {
			case string:
				m["query"] = strings.TrimSpace(vv)
			default:
				m["query"] = strings.TrimSpace(fmt.Sprint(v))
			}
		}
		if v, ok := m["max_results"]; ok {
			switch vv := v.(type) {
			case float64:
				m["max_results"] = clampInt(int(vv), 1, maxSearchResults)
			case string:
				if n, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
					m["max_results"] = clampInt(n, 1, maxSearchResults)
				} else {
					delete(m, "max_results")
				}
			default:
				delete(m, "max_results")
			}
		}
	case ToolCurrentTime:
		if v, ok := m["timezone"]; ok {
			if s, isStr := v.(string); isStr {
				m["timezone"] = strings.TrimSpace(s)
			} else {
				delete(m, "timezone")
			}
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments, nil
	}
	return string(b), nil
}

func isErrorPayload(s string) bool {
	var p struct {
		Error string `json:"error"`
	}
	return json.Unmarshal([]byte(s), &p) == nil && p.Error != ""
}

func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
