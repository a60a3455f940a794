package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/oracle-engine/server/internal/agent/model"
	logx "github.com/oracle-engine/server/pkg/logger"
)

// ChatClient is one model endpoint bound to one credential.
type ChatClient interface {
	Generate(ctx context.Context, profile model.Profile, prompt string) (*schema.Message, error)
	Stream(ctx context.Context, profile model.Profile, prompt string) (*schema.StreamReader[*schema.Message], error)
}

// ClientFactory builds a ChatClient for a credential. The invoker calls it
// again after every rotation.
type ClientFactory func(ctx context.Context, credential string) (ChatClient, error)

// ChatModelConfig holds everything except the credential.
type ChatModelConfig struct {
	BaseURL   string
	Model     string
	Creative  model.GenerationConfig
	Factual   model.GenerationConfig
	Callbacks []callbacks.Handler
}

// ChatModels holds the creative and factual Gemini chat models built
// against a single API key.
type ChatModels struct {
	Creative  *gemini.ChatModel
	Factual   *gemini.ChatModel
	ModelName string
	handlers  []callbacks.Handler
}

// GeminiFactory returns a ClientFactory producing ChatModels.
func GeminiFactory(cfg ChatModelConfig) ClientFactory {
	return func(ctx context.Context, credential string) (ChatClient, error) {
		return NewChatModels(ctx, credential, cfg)
	}
}

// NewChatModels creates both chat models for apiKey.
func NewChatModels(ctx context.Context, apiKey string, cfg ChatModelConfig) (*ChatModels, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	creative, err := gemini.NewChatModel(ctx, chatModelConfig(client, cfg.Model, cfg.Creative))
	if err != nil {
		logx.Error().Err(err).Msg("Error creating creative model")
		return nil, fmt.Errorf("error creating creative model: %w", err)
	}

	factual, err := gemini.NewChatModel(ctx, chatModelConfig(client, cfg.Model, cfg.Factual))
	if err != nil {
		logx.Error().Err(err).Msg("Error creating factual model")
		return nil, fmt.Errorf("error creating factual model: %w", err)
	}

	return &ChatModels{
		Creative:  creative,
		Factual:   factual,
		ModelName: cfg.Model,
		handlers:  cfg.Callbacks,
	}, nil
}

func chatModelConfig(client *genai.Client, modelName string, gen model.GenerationConfig) *gemini.Config {
	c := &gemini.Config{
		Client:      client,
		Model:       modelName,
		Temperature: &gen.Temperature,
		TopP:        &gen.TopP,
		TopK:        &gen.TopK,
	}
	if gen.MaxOutputTokens > 0 {
		c.MaxTokens = &gen.MaxOutputTokens
	}
	return c
}

func (cm *ChatModels) pick(profile model.Profile) (*gemini.ChatModel, error) {
	switch profile {
	case model.ProfileCreative:
		return cm.Creative, nil
	case model.ProfileFactual:
		return cm.Factual, nil
	default:
		return nil, fmt.Errorf("%w: unknown generation profile %q", ErrMalformedRequest, profile)
	}
}

// withCallbacks starts a callback run so global and configured handlers
// observe the call.
func (cm *ChatModels) withCallbacks(ctx context.Context, profile model.Profile) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      string(profile),
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	}, cm.handlers...)
}

// Generate sends prompt as a single user message.
func (cm *ChatModels) Generate(ctx context.Context, profile model.Profile, prompt string) (*schema.Message, error) {
	m, err := cm.pick(profile)
	if err != nil {
		return nil, err
	}
	return m.Generate(cm.withCallbacks(ctx, profile), []*schema.Message{schema.UserMessage(prompt)})
}

// Stream is Generate with incremental chunks.
func (cm *ChatModels) Stream(ctx context.Context, profile model.Profile, prompt string) (*schema.StreamReader[*schema.Message], error) {
	m, err := cm.pick(profile)
	if err != nil {
		return nil, err
	}
	return m.Stream(cm.withCallbacks(ctx, profile), []*schema.Message{schema.UserMessage(prompt)})
}

var _ ChatClient = (*ChatModels)(nil)
