package tools

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/Chative-core-poc-v1/assistant/internal/agent/model"
)

const (
	defaultSearchResults = 5
	maxSearchResults     = 20
)

type SearchConversationInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type ConversationMatch struct {
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SearchConversationOutput struct {
	Matches []ConversationMatch `json:"matches"`
	Total   int                 `json:"total"`
}

func createSearchConversationTool(repo model.ConversationRepository) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchConversation,
			Desc: "Search earlier messages of the current conversation by keyword. Returns matching messages, most recent first.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Keywords to look for. Several keywords may be separated by spaces; any of them matches.",
					Required: true,
				},
				"max_results": {
					Type: "number",
					Desc: "Maximum number of messages to return (default: 5, max: 20)",
				},
			}),
		},
		func(ctx context.Context, in *SearchConversationInput) (*SearchConversationOutput, error) {
			out := &SearchConversationOutput{Matches: []ConversationMatch{}}
			terms := strings.Fields(strings.ToLower(in.Query))
			sessionID := SessionIDFrom(ctx)
			if len(terms) == 0 || sessionID == "" {
				return out, nil
			}
			limit := in.MaxResults
			if limit <= 0 {
				limit = defaultSearchResults
			}
			limit = min(limit, maxSearchResults)

			history, err := repo.LoadHistory(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			for i := len(history.Messages) - 1; i >= 0; i-- {
				msg := history.Messages[i]
				if msg == nil || msg.Content == "" {
					continue
				}
				content := strings.ToLower(msg.Content)
				for _, term := range terms {
					if strings.Contains(content, term) {
						out.Matches = append(out.Matches, ConversationMatch{Index: i, Role: string(msg.Role), Content: msg.Content})
						break
					}
				}
				if len(out.Matches) == limit {
					break
				}
			}
			out.Total = len(out.Matches)
			return out, nil
		},
	)
}
