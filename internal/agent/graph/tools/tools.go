package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
	"github.com/Chative-core-poc-v1/assistant/pkg/cache"
)

const (
	ToolCurrentTime        = "get_current_time"
	ToolSearchConversation = "search_conversation"
)

type sessionKey struct{}

// WithSessionID scopes tool execution to a conversation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionIDFrom returns the session set by WithSessionID, or "".
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// GetQueryTools returns the built-in tool set. A nil clock uses the system clock.
func GetQueryTools(repo model.ConversationRepository, clock cache.Clock) []tool.BaseTool {
	if clock == nil {
		clock = cache.SystemClock
	}
	out := []tool.BaseTool{createCurrentTimeTool(clock)}
	if repo != nil {
		out = append(out, createSearchConversationTool(repo))
	}
	return out
}

// GetToolInfos collects the schema of every tool, for binding to a chat model.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
