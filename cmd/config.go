package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/core"
	errx "github.com/oracle-engine/server/internal/core/error"
	logx "github.com/oracle-engine/server/pkg/logger"
	pkgredis "github.com/oracle-engine/server/pkg/redis"
)

// AppConfig defines every configurable parameter, sourced from environment
// variables (loaded from .env for local runs).
type AppConfig struct {
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider. GEMINI_API_KEYS is an ordered comma separated list;
	// GEMINI_API_KEY is used when it is empty.
	APIKeys   string `envconfig:"GEMINI_API_KEYS"`
	APIKey    string `envconfig:"GEMINI_API_KEY"`
	BaseURL   string `envconfig:"GEMINI_BASE_URL"`
	Model     string `envconfig:"GEMINI_MODEL" default:"gemini-3-pro-preview"`
	PromptDir string `envconfig:"PROMPT_DIR"`

	// Agent configs
	Creative model.CreativeModelConfig
	Factual  model.FactualModelConfig
	Retry    model.RetryConfig
	Pricing  model.PricingConfig
	Cycle    model.CycleConfig
	Memory   model.MemoryConfig
	Queue    model.QueueConfig
}

func loadConfig() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, errx.New(fmt.Errorf("process environment config: %w", err), 400, errx.ConfigErrorMessage)
	}
	return cfg, nil
}

func (c AppConfig) Environment() core.Environment {
	return core.ParseEnvironment(c.Env)
}

// Keys returns the credential list in pool order.
func (c AppConfig) Keys() []string {
	if keys := llm.ParseKeys(c.APIKeys); len(keys) > 0 {
		return keys
	}
	if strings.TrimSpace(c.APIKey) != "" {
		return []string{c.APIKey}
	}
	return nil
}

// Location resolves the cycle time zone, falling back to UTC.
func (c AppConfig) Location() *time.Location {
	if c.Cycle.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Cycle.Timezone)
	if err != nil {
		logx.Warn().Err(err).Str("timezone", c.Cycle.Timezone).Msg("Unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}
