package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing holds USD pricing per 1M text tokens (standard tier, short prompts).
var defaultPricing = map[string]Pricing{
	"gemini-3-pro-preview":   {InputPerM: 2.00, OutputPerM: 12.00},
	"gemini-3.1-pro-preview": {InputPerM: 2.00, OutputPerM: 12.00},
	"gemini-2.5-pro":         {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":       {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite":  {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns the price for a model. A complete override wins over
// the table; unknown models price at zero.
func ResolvePricing(model string, override PricingConfig) Pricing {
	if override.InputPerM > 0 && override.OutputPerM > 0 {
		return Pricing{InputPerM: override.InputPerM, OutputPerM: override.OutputPerM}
	}
	return defaultPricing[model]
}

// Cost converts token counts to USD.
func (p Pricing) Cost(tokensIn, tokensOut int64) float64 {
	return float64(tokensIn)/1_000_000.0*p.InputPerM + float64(tokensOut)/1_000_000.0*p.OutputPerM
}

// UsageFromMessage extracts token counts from a model reply. A missing or
// partial usage block counts as zero.
func UsageFromMessage(msg *schema.Message) Usage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return Usage{}
	}
	return UsageFromTokens(msg.ResponseMeta.Usage)
}

func UsageFromTokens(u *schema.TokenUsage) Usage {
	if u == nil {
		return Usage{}
	}
	in := int64(max(u.PromptTokens, 0))
	out := int64(max(u.CompletionTokens, 0))
	total := int64(max(u.TotalTokens, 0))
	if total < in+out {
		total = in + out
	}
	return Usage{TokensIn: in, TokensOut: out, TotalTokens: total}
}
