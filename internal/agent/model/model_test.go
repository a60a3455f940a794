package model

import (
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePricing(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Pricing{InputPerM: 2, OutputPerM: 12}, ResolvePricing("gemini-3-pro-preview", PricingConfig{}))
	assert.Equal(t, Pricing{InputPerM: 1, OutputPerM: 3}, ResolvePricing("gemini-3-pro-preview", PricingConfig{InputPerM: 1, OutputPerM: 3}))
	// a half override is ignored
	assert.Equal(t, Pricing{InputPerM: 2, OutputPerM: 12}, ResolvePricing("gemini-3-pro-preview", PricingConfig{InputPerM: 1}))
	assert.Zero(t, ResolvePricing("unknown-model", PricingConfig{}).Cost(1000, 1000))
}

func TestPricingCost(t *testing.T) {
	t.Parallel()

	p := Pricing{InputPerM: 2, OutputPerM: 12}
	assert.InDelta(t, 14.0, p.Cost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.0032, p.Cost(1000, 100), 1e-12)
}

func TestUsageFromMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Usage{}, UsageFromMessage(nil))
	assert.Equal(t, Usage{}, UsageFromMessage(schema.AssistantMessage("hi", nil)))

	msg := schema.AssistantMessage("hi", nil)
	msg.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 5}}
	assert.Equal(t, Usage{TokensIn: 10, TokensOut: 5, TotalTokens: 15}, UsageFromMessage(msg))

	assert.Equal(t, Usage{TokensIn: 0, TokensOut: 4, TotalTokens: 20},
		UsageFromTokens(&schema.TokenUsage{PromptTokens: -3, CompletionTokens: 4, TotalTokens: 20}))
}

func TestLedger(t *testing.T) {
	t.Parallel()

	l := NewLedger(Pricing{InputPerM: 2, OutputPerM: 12})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add(Usage{TokensIn: 1000, TokensOut: 100, TotalTokens: 1100})
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, 50, snap.APICalls)
	assert.Equal(t, int64(50_000), snap.TokensIn)
	assert.Equal(t, int64(5_000), snap.TokensOut)
	assert.InDelta(t, 0.16, snap.CostUSD, 1e-9)

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	rec := l.Finalize(3, at)
	assert.Equal(t, 3, rec.QCRounds)
	assert.Equal(t, at, rec.CreatedAt)

	// a zero-usage call still counts
	l.Reset()
	l.Add(Usage{})
	assert.Equal(t, 1, l.Snapshot().APICalls)
	assert.Zero(t, l.Snapshot().CostUSD)
}

func TestUsageFilterMatch(t *testing.T) {
	t.Parallel()

	day := func(d int) time.Time { return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC) }
	f := UsageFilter{From: day(18), To: day(20)}

	assert.False(t, f.Match(day(17)))
	assert.True(t, f.Match(day(18)))
	assert.True(t, f.Match(day(19)))
	assert.False(t, f.Match(day(20)))
	assert.True(t, UsageFilter{}.Match(day(1)))
}

func TestUsageTotals(t *testing.T) {
	t.Parallel()

	var totals UsageTotals
	totals.Add(UsageRecord{TokensIn: 10, TokensOut: 5, TotalTokens: 15, APICalls: 5, CostUSD: 0.5, QCRounds: 1})
	totals.Add(UsageRecord{TokensIn: 20, TokensOut: 5, TotalTokens: 25, APICalls: 6, CostUSD: 0.25, QCRounds: 2})
	require.Equal(t, 2, totals.Cycles)
	assert.Equal(t, int64(40), totals.TotalTokens)
	assert.Equal(t, 11, totals.APICalls)
	assert.Equal(t, 3, totals.QCRounds)
	assert.InDelta(t, 0.75, totals.CostUSD, 1e-9)
}
