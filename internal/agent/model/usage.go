package model

import (
	"context"
	"sync"
	"time"
)

// Usage is the token delta of one successful model call.
type Usage struct {
	TokensIn    int64 `json:"tokens_in"`
	TokensOut   int64 `json:"tokens_out"`
	TotalTokens int64 `json:"total_tokens"`
}

// UsageRecord is the finalized ledger of one cycle, as persisted.
type UsageRecord struct {
	CycleID     string    `json:"cycle_id,omitempty"`
	ClientKey   string    `json:"client_key,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Model       string    `json:"model,omitempty"`
	TokensIn    int64     `json:"tokens_in"`
	TokensOut   int64     `json:"tokens_out"`
	TotalTokens int64     `json:"total_tokens"`
	APICalls    int       `json:"api_calls"`
	CostUSD     float64   `json:"cost_usd"`
	QCRounds    int       `json:"qc_rounds"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger accumulates usage for a single cycle run. It is safe for concurrent
// use so a streaming reader and the orchestrator can share it.
type Ledger struct {
	mu      sync.Mutex
	pricing Pricing
	record  UsageRecord
}

func NewLedger(pricing Pricing) *Ledger {
	return &Ledger{pricing: pricing}
}

// Add records one successful call and returns the cost of that call.
func (l *Ledger) Add(u Usage) float64 {
	cost := l.pricing.Cost(u.TokensIn, u.TokensOut)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.record.TokensIn += u.TokensIn
	l.record.TokensOut += u.TokensOut
	l.record.TotalTokens += u.TotalTokens
	l.record.APICalls++
	l.record.CostUSD += cost
	return cost
}

// Reset zeroes every counter.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record = UsageRecord{}
}

// Finalize stamps the QC round count and creation time and returns the record.
func (l *Ledger) Finalize(qcRounds int, at time.Time) UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record.QCRounds = qcRounds
	l.record.CreatedAt = at
	return l.record
}

// Snapshot returns a copy of the current counters.
func (l *Ledger) Snapshot() UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record
}

// UsageFilter restricts an aggregate to records created in [From, To).
// Zero bounds are open.
type UsageFilter struct {
	From time.Time
	To   time.Time
}

func (f UsageFilter) Match(t time.Time) bool {
	if !f.From.IsZero() && t.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Before(f.To) {
		return false
	}
	return true
}

// UsageTotals is the sum over a set of usage records.
type UsageTotals struct {
	Cycles      int     `json:"cycles"`
	TokensIn    int64   `json:"tokens_in"`
	TokensOut   int64   `json:"tokens_out"`
	TotalTokens int64   `json:"total_tokens"`
	APICalls    int     `json:"api_calls"`
	CostUSD     float64 `json:"cost_usd"`
	QCRounds    int     `json:"qc_rounds"`
}

func (t *UsageTotals) Add(r UsageRecord) {
	t.Cycles++
	t.TokensIn += r.TokensIn
	t.TokensOut += r.TokensOut
	t.TotalTokens += r.TotalTokens
	t.APICalls += r.APICalls
	t.CostUSD += r.CostUSD
	t.QCRounds += r.QCRounds
}

type UsageRepository interface {
	// Append persists one finalized cycle record.
	Append(ctx context.Context, record UsageRecord) error

	// Aggregate sums every record matching the filter.
	Aggregate(ctx context.Context, filter UsageFilter) (UsageTotals, error)
}
