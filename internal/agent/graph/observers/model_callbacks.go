package observers

import (
	"context"
	"errors"
	"io"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

const previewLen = 200

// newModelHandler logs the prompt context and the answer around every chat model call.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			if input == nil {
				return ctx
			}
			ev := logx.Debug().
				Str("component", info.Type).
				Str("name", info.Name).
				Int("messages", len(input.Messages)).
				Int("tools", len(input.Tools))
			if um := lastUserContent(input.Messages); um != "" {
				ev = ev.Str("user", preview(um))
			}
			ev.Msg("Model call started")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			logModelOutput(info, output)
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			go func() {
				defer output.Close()
				var (
					chunks []*schema.Message
					usage  *model.TokenUsage
				)
				for {
					chunk, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						logx.Debug().Str("component", info.Type).Err(err).Msg("Model stream ended with error")
						return
					}
					if chunk == nil {
						continue
					}
					if chunk.Message != nil {
						chunks = append(chunks, chunk.Message)
					}
					if chunk.TokenUsage != nil {
						usage = chunk.TokenUsage
					}
				}
				out := &model.CallbackOutput{TokenUsage: usage}
				if len(chunks) > 0 {
					if msg, err := schema.ConcatMessages(chunks); err == nil {
						out.Message = msg
					}
				}
				logModelOutput(info, out)
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Str("component", info.Type).Str("name", info.Name).Err(err).Msg("Model call failed")
			return ctx
		},
	}
}

func logModelOutput(info *einocb.RunInfo, output *model.CallbackOutput) {
	if output == nil {
		return
	}
	ev := logx.Debug().Str("component", info.Type).Str("name", info.Name)
	if output.Message != nil {
		ev = ev.Str("assistant", preview(output.Message.Content)).Int("tool_calls", len(output.Message.ToolCalls))
	}
	if u := output.TokenUsage; u != nil {
		ev = ev.Int("prompt_tokens", u.PromptTokens).
			Int("completion_tokens", u.CompletionTokens).
			Int("total_tokens", u.TotalTokens)
	}
	ev.Msg("Model call done")
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
