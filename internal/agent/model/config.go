package model

import "time"

// ================ Generation profiles ================

// Profile names one of the two generation configurations.
type Profile string

const (
	// ProfileCreative drives long-form drafting and delivery messages.
	ProfileCreative Profile = "creative"
	// ProfileFactual drives identity extraction, memory extraction and critique.
	ProfileFactual Profile = "factual"
)

// GenerationConfig is an immutable sampling configuration.
// MaxOutputTokens of zero leaves the provider default in place.
type GenerationConfig struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int
}

type CreativeModelConfig struct {
	Temperature     float32 `envconfig:"CREATIVE_TEMPERATURE" default:"1.3"`
	TopP            float32 `envconfig:"CREATIVE_TOP_P" default:"0.95"`
	TopK            int32   `envconfig:"CREATIVE_TOP_K" default:"64"`
	MaxOutputTokens int     `envconfig:"CREATIVE_MAX_OUTPUT_TOKENS" default:"8192"`
}

func (c CreativeModelConfig) Generation() GenerationConfig {
	return GenerationConfig{Temperature: c.Temperature, TopP: c.TopP, TopK: c.TopK, MaxOutputTokens: c.MaxOutputTokens}
}

type FactualModelConfig struct {
	Temperature     float32 `envconfig:"FACTUAL_TEMPERATURE" default:"0.1"`
	TopP            float32 `envconfig:"FACTUAL_TOP_P" default:"0.95"`
	TopK            int32   `envconfig:"FACTUAL_TOP_K" default:"64"`
	MaxOutputTokens int     `envconfig:"FACTUAL_MAX_OUTPUT_TOKENS" default:"0"`
}

func (c FactualModelConfig) Generation() GenerationConfig {
	return GenerationConfig{Temperature: c.Temperature, TopP: c.TopP, TopK: c.TopK, MaxOutputTokens: c.MaxOutputTokens}
}

// ================ Invoker ================

// RetryConfig holds the fixed delays of the resilient invoker.
type RetryConfig struct {
	TransientDelay    time.Duration `envconfig:"RETRY_TRANSIENT_DELAY" default:"5s"`
	UnknownDelay      time.Duration `envconfig:"RETRY_UNKNOWN_DELAY" default:"10s"`
	ExhaustedCooldown time.Duration `envconfig:"RETRY_EXHAUSTED_COOLDOWN" default:"60s"`
	CallTimeout       time.Duration `envconfig:"RETRY_CALL_TIMEOUT" default:"120s"`
}

// DefaultRetryConfig mirrors the envconfig defaults for callers that build
// the invoker by hand.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		TransientDelay:    5 * time.Second,
		UnknownDelay:      10 * time.Second,
		ExhaustedCooldown: 60 * time.Second,
		CallTimeout:       120 * time.Second,
	}
}

// PricingConfig overrides the per-model price table when both values are set.
type PricingConfig struct {
	InputPerM  float64 `envconfig:"PRICE_INPUT_PER_M"`
	OutputPerM float64 `envconfig:"PRICE_OUTPUT_PER_M"`
}

// ================ Cycle ================

type CycleConfig struct {
	// MaxQCRounds caps critique rounds; zero keeps the loop unbounded.
	MaxQCRounds int    `envconfig:"CYCLE_MAX_QC_ROUNDS" default:"0"`
	Timezone    string `envconfig:"CYCLE_TIMEZONE" default:"America/New_York"`
	// DefaultTargetLength is used when a request carries no target length.
	DefaultTargetLength int `envconfig:"CYCLE_DEFAULT_TARGET_LENGTH" default:"8000"`
}

type MemoryConfig struct {
	// ContextSessions is how many recent sessions are rendered into the
	// writer prompt; zero renders the full history.
	ContextSessions int `envconfig:"MEMORY_CONTEXT_SESSIONS" default:"3"`
}

type QueueConfig struct {
	Concurrency int `envconfig:"QUEUE_CONCURRENCY" default:"1"`
}
