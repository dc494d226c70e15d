package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/prompt"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/Chative-core-poc-v1/assistant/pkg/logger"
)

func newPromptHandler() *callbackHelper.PromptCallbackHandler {
	return &callbackHelper.PromptCallbackHandler{
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *prompt.CallbackOutput) context.Context {
			if output == nil || len(output.Result) == 0 || output.Result[0] == nil {
				return ctx
			}
			logx.Debug().
				Str("component", info.Type).
				Int("messages", len(output.Result)).
				Str("rendered", preview(output.Result[0].Content)).
				Msg("Prompt rendered")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Str("component", info.Type).Err(err).Msg("Prompt render failed")
			return ctx
		},
	}
}
