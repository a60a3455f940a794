package stages

import (
	"context"
	"fmt"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/prompts"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// DraftInput is everything the writer prompt embeds. Feedback is empty on
// the first pass.
type DraftInput struct {
	OrderText     string
	Topic         string
	TargetLength  int
	MemoryContext string
	Feedback      string
}

// Draft runs the writer with the creative profile. When onChunk is set the
// draft is streamed through it.
func (s *Stages) Draft(ctx context.Context, in DraftInput, onChunk model.ChunkFunc) (string, error) {
	prompt, err := s.prompts.Render(ctx, prompts.Writer, map[string]any{
		"MemoryContext": in.MemoryContext,
		"OrderText":     in.OrderText,
		"Topic":         in.Topic,
		"TargetLength":  in.TargetLength,
		"TimezoneName":  s.loc.String(),
		"Timestamp":     s.Now().Format(timestampLayout),
		"Feedback":      in.Feedback,
	})
	if err != nil {
		return "", fmt.Errorf("draft: %w", err)
	}

	if onChunk != nil {
		return s.gen.Stream(ctx, model.ProfileCreative, prompt, onChunk)
	}
	return s.gen.Invoke(ctx, model.ProfileCreative, prompt)
}
