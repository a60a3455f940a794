package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/parsers"
	"github.com/oracle-engine/server/internal/agent/prompts"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// IdentifyClient extracts a display name from the order text.
func (s *Stages) IdentifyClient(ctx context.Context, orderText string) (string, error) {
	prompt, err := s.prompts.Render(ctx, prompts.IdentifyClient, map[string]any{
		"OrderText": orderText,
	})
	if err != nil {
		return "", fmt.Errorf("identify client: %w", err)
	}

	reply, err := s.gen.Invoke(ctx, model.ProfileFactual, prompt)
	if err != nil {
		return "", err
	}
	return parsers.CleanClientName(reply), nil
}

// ExtractSession summarises an approved reading into a session stamped with
// the current time. If the reply holds no usable JSON, the returned session
// still carries the topic, timestamp and full reading, and err explains why
// the rest is missing.
func (s *Stages) ExtractSession(ctx context.Context, reading, topic string) (model.Session, error) {
	prompt, err := s.prompts.Render(ctx, prompts.MemoryUpdate, map[string]any{
		"Reading": reading,
	})
	if err != nil {
		return model.Session{}, fmt.Errorf("extract session: %w", err)
	}

	reply, err := s.gen.Invoke(ctx, model.ProfileFactual, prompt)
	if err != nil {
		return model.Session{}, err
	}

	session, perr := parsers.ParseSession(reply)
	if perr != nil {
		session = &model.Session{Topic: topic}
		if session.Topic == "" {
			session.Topic = parsers.DefaultTopic
		}
	}
	session.Timestamp = s.Now()
	session.FullReading = reading
	return *session, perr
}

// DeliveryFallback is the message used when the delivery call cannot run.
func DeliveryFallback(clientName string) string {
	return fmt.Sprintf("Hi %s, your reading is ready. Take a quiet moment to receive it.", clientName)
}

// DeliveryMessage phrases the short note that accompanies a reading. A fatal
// model error or an empty reply yields DeliveryFallback; other errors, such
// as cancellation, are returned.
func (s *Stages) DeliveryMessage(ctx context.Context, clientName, topic string) (string, error) {
	prompt, err := s.prompts.Render(ctx, prompts.Delivery, map[string]any{
		"ClientName": clientName,
		"Topic":      topic,
	})
	if err != nil {
		logx.Warn().Err(err).Msg("Delivery prompt failed, using fallback")
		return DeliveryFallback(clientName), nil
	}

	reply, err := s.gen.Invoke(ctx, model.ProfileCreative, prompt)
	var fatal *llm.FatalError
	if errors.As(err, &fatal) {
		logx.Warn().Err(err).Msg("Delivery message failed, using fallback")
		return DeliveryFallback(clientName), nil
	}
	if err != nil {
		return "", err
	}
	if msg := strings.TrimSpace(reply); msg != "" {
		return msg, nil
	}
	return DeliveryFallback(clientName), nil
}
