package observers

import (
	"context"
	"errors"
	"io"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/oracle-engine/server/pkg/logger"
)

type startKey struct{}

// newModelHandler logs model calls with prompt size, latency and token usage.
// Prompt and reply bodies are only logged at trace level; drafts are long.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("profile", info.Name)
			if input != nil {
				ev = ev.Int("prompt_chars", promptChars(input.Messages))
				if input.Config != nil {
					ev = ev.Str("model", input.Config.Model)
				}
			}
			ev.Msg("Model call started")
			return context.WithValue(ctx, startKey{}, time.Now())
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", info.Type).Str("profile", info.Name).Dur("elapsed", elapsed(ctx))
			if output != nil {
				if output.TokenUsage != nil {
					ev = ev.Int("tokens_in", output.TokenUsage.PromptTokens).
						Int("tokens_out", output.TokenUsage.CompletionTokens)
				}
				if output.Message != nil {
					ev = ev.Int("reply_chars", len(output.Message.Content))
					logx.Trace().Str("profile", info.Name).Str("reply", output.Message.Content).Msg("Model reply")
				}
			}
			ev.Msg("Model call finished")
			return ctx
		},
		OnEndWithStreamOutput: func(ctx context.Context, info *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			start := elapsedStart(ctx)
			go func() {
				defer output.Close()
				var (
					chunks int
					usage  *model.TokenUsage
				)
				for {
					frame, err := output.Recv()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						logx.Warn().Err(err).Str("profile", info.Name).Msg("Model stream observer stopped")
						return
					}
					chunks++
					if frame != nil && frame.TokenUsage != nil {
						usage = frame.TokenUsage
					}
				}
				ev := logx.Debug().Str("component", info.Type).Str("profile", info.Name).Int("chunks", chunks)
				if !start.IsZero() {
					ev = ev.Dur("elapsed", time.Since(start))
				}
				if usage != nil {
					ev = ev.Int("tokens_in", usage.PromptTokens).Int("tokens_out", usage.CompletionTokens)
				}
				ev.Msg("Model stream finished")
			}()
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Debug().Err(err).Str("component", info.Type).Str("profile", info.Name).Dur("elapsed", elapsed(ctx)).Msg("Model call error")
			return ctx
		},
	}
}

func promptChars(msgs []*schema.Message) int {
	n := 0
	for _, m := range msgs {
		if m != nil {
			n += len(m.Content)
		}
	}
	return n
}

func elapsedStart(ctx context.Context) time.Time {
	t, _ := ctx.Value(startKey{}).(time.Time)
	return t
}

func elapsed(ctx context.Context) time.Duration {
	start := elapsedStart(ctx)
	if start.IsZero() {
		return 0
	}
	return time.Since(start)
}
