package observers

import (
	"sync"

	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"
)

var registerOnce sync.Once

// NewAllCallbacks aggregates the model and prompt observers into one handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Handler()
}

// Register installs the observers for every model call and prompt render
// in the process. Only the first call has an effect.
func Register() {
	registerOnce.Do(func() {
		einocb.AppendGlobalHandlers(NewAllCallbacks())
	})
}
