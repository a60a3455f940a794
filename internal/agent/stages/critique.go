package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/prompts"
)

const (
	// ApprovalSentinel anywhere in the critic's reply approves the draft.
	ApprovalSentinel = "APPROVED"
	// ApprovalAck is the feedback returned with an approval.
	ApprovalAck = "Approved. Excellent."
)

// Verdict is the critic's decision on one draft.
type Verdict struct {
	Approved bool
	Feedback string
}

// Critique runs the reviewer with the factual profile.
func (s *Stages) Critique(ctx context.Context, draft, orderText string, targetLength int) (Verdict, error) {
	prompt, err := s.prompts.Render(ctx, prompts.Critic, map[string]any{
		"Sentinel":     ApprovalSentinel,
		"TargetLength": targetLength,
		"Draft":        draft,
		"OrderText":    orderText,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("critique: %w", err)
	}

	reply, err := s.gen.Invoke(ctx, model.ProfileFactual, prompt)
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(reply), nil
}

// ParseVerdict applies the sentinel contract. A rejection carries the whole
// trimmed reply as revision feedback.
func ParseVerdict(reply string) Verdict {
	if strings.Contains(reply, ApprovalSentinel) {
		return Verdict{Approved: true, Feedback: ApprovalAck}
	}
	return Verdict{Approved: false, Feedback: strings.TrimSpace(reply)}
}
