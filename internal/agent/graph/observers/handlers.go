package observers

import (
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

// NewAllCallbacks aggregates the prompt, chat model and tool observers into one callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Tool(newToolHandler()).
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

var registerOnce sync.Once

// Register installs NewAllCallbacks as a global eino handler. Only the first
// call has an effect.
func Register() {
	registerOnce.Do(func() {
		einocb.AppendGlobalHandlers(NewAllCallbacks())
	})
}
