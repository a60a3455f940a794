package cycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/llm/llmtest"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/prompts"
	"github.com/oracle-engine/server/internal/agent/repo"
	"github.com/oracle-engine/server/internal/agent/stages"
)

const sessionJSON = `{"topic":"Career","key_prediction":"A new role by spring","hook_left":"A letter","client_mood":"Hopeful"}`

// endpoint answers each prompt kind from its own queue of replies. An
// exhausted queue repeats its last reply.
type endpoint struct {
	mu      sync.Mutex
	replies map[string][]llmtest.Reply
	counts  map[string]int
}

func newEndpoint() *endpoint {
	return &endpoint{
		replies: map[string][]llmtest.Reply{
			"identify": {llmtest.Text("Maria", 50, 2)},
			"writer":   {llmtest.Text("Dear Maria, the path ahead opens.", 900, 2500)},
			"critic":   {llmtest.Text("All checks pass. APPROVED", 2600, 20)},
			"memory":   {llmtest.Text(sessionJSON, 2500, 80)},
			"delivery": {llmtest.Text("Maria, your reading is ready.", 40, 20)},
		},
		counts: map[string]int{},
	}
}

func (e *endpoint) set(kind string, replies ...llmtest.Reply) *endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replies[kind] = replies
	return e
}

func (e *endpoint) count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[kind]
}

func kindOf(prompt string) string {
	switch {
	case strings.Contains(prompt, "Find the client's NAME"):
		return "identify"
	case strings.Contains(prompt, "You are the quality reviewer"):
		return "critic"
	case strings.Contains(prompt, "You are the memory of the reader"):
		return "memory"
	case strings.Contains(prompt, "delivery message"):
		return "delivery"
	default:
		return "writer"
	}
}

func (e *endpoint) respond(call llmtest.Call) llmtest.Reply {
	kind := kindOf(call.Prompt)

	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.counts[kind]
	e.counts[kind]++
	queue := e.replies[kind]
	if n >= len(queue) {
		return queue[len(queue)-1]
	}
	return queue[n]
}

type fixture struct {
	orch     *Orchestrator
	endpoint *endpoint
	script   *llmtest.Script
	memory   *repo.RedisMemoryRepository
	usage    *repo.RedisUsageRepository
}

func newFixture(t *testing.T, ep *endpoint, mutate func(*Config)) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pool, err := llm.NewPool([]string{"key-a", "key-b"})
	require.NoError(t, err)

	script := &llmtest.Script{Respond: ep.respond}
	f := &fixture{
		endpoint: ep,
		script:   script,
		memory:   repo.NewRedisMemoryRepository(rdb),
		usage:    repo.NewRedisUsageRepository(rdb),
	}

	cfg := Config{
		Model:   "gemini-3-pro-preview",
		Pricing: model.ResolvePricing("gemini-3-pro-preview", model.PricingConfig{}),
		Retry:   model.RetryConfig{},
		Cycle:   model.CycleConfig{DefaultTargetLength: 8000},
		Memory:  model.MemoryConfig{ContextSessions: 3},
		Now:     func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f.orch = New(Deps{
		Pool:     pool,
		Factory:  script.Factory(),
		Memory:   f.memory,
		Usage:    f.usage,
		Identity: repo.NewRedisIdentityCache(rdb),
	}, cfg)
	return f
}

func TestRunEndToEndNewClient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newEndpoint(), nil)
	var progress []string

	res, err := f.orch.Run(context.Background(), model.ReadingRequest{
		OrderText:    "Client: Maria, wants career guidance",
		Topic:        "Career",
		TargetLength: 8000,
	}, func(msg string) { progress = append(progress, msg) }, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Draft)
	assert.NotEmpty(t, res.DeliveryMessage)
	assert.GreaterOrEqual(t, res.Usage.APICalls, 3)
	assert.Greater(t, res.Usage.CostUSD, 0.0)
	assert.Equal(t, 1, res.Usage.QCRounds)
	assert.Equal(t, "Maria", res.ClientName)
	assert.Equal(t, "Maria", res.MemoryKey)
	assert.Equal(t, "Reading_Maria_Career_1792411200.html", res.Filename)
	assert.NotEmpty(t, progress)
	assert.Contains(t, progress, "Client identified: Maria")

	rec, err := f.memory.Load(context.Background(), "Maria")
	require.NoError(t, err)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, "A new role by spring", rec.Sessions[0].KeyPrediction)
	assert.Equal(t, res.Draft, rec.Sessions[0].FullReading)

	totals, err := f.usage.Aggregate(context.Background(), model.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, totals.Cycles)
	assert.Equal(t, res.Usage.APICalls, totals.APICalls)
}

func TestRunUsageAccountingWithKnownClient(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("critic",
		llmtest.Text("1. Too short.\nREVISE", 10, 10),
		llmtest.Text("APPROVED", 10, 10),
	)
	f := newFixture(t, ep, nil)

	ctx := context.Background()
	require.NoError(t, f.memory.Save(ctx, "maria@example.com", &model.MemoryRecord{ClientName: "Maria"}))

	res, err := f.orch.Run(ctx, model.ReadingRequest{
		OrderText:   "Another question about my job",
		Topic:       "Career",
		ClientEmail: " Maria@Example.com ",
	}, nil, nil)
	require.NoError(t, err)

	// Identification is skipped for a known email: draft, critique
	// (rejected), revised draft, critique (approved), extraction, delivery.
	assert.Zero(t, ep.count("identify"))
	assert.Equal(t, 2, ep.count("writer"))
	assert.Equal(t, 2, ep.count("critic"))
	assert.Equal(t, 6, res.Usage.APICalls)
	assert.Equal(t, 2, res.Usage.QCRounds)
	assert.Equal(t, "maria@example.com", res.MemoryKey)
	assert.Equal(t, "Maria", res.ClientName)

	// The revision prompt carries the rejection text.
	var revision string
	for _, c := range f.script.Calls() {
		if kindOf(c.Prompt) == "writer" {
			revision = c.Prompt
		}
	}
	assert.Contains(t, revision, "1. Too short.\nREVISE")
}

// The ledger counts successful metered calls, one per call, regardless of
// which stage made it.
func TestLedgerCountsEveryStageCall(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("critic",
		llmtest.Text("REVISE", 10, 10),
		llmtest.Text("APPROVED", 10, 10),
	)
	script := &llmtest.Script{Respond: ep.respond}
	pool, err := llm.NewPool([]string{"k"})
	require.NoError(t, err)

	ledger := model.NewLedger(model.Pricing{InputPerM: 2, OutputPerM: 12})
	inv := llm.NewInvoker(llm.InvokerConfig{Pool: pool, Factory: script.Factory(), Ledger: ledger})
	st := stages.New(inv, prompts.Default(), nil, nil)

	ctx := context.Background()
	draft, err := st.Draft(ctx, stages.DraftInput{OrderText: "o", Topic: "t", TargetLength: 100}, nil)
	require.NoError(t, err)
	rounds := 0
	for _, want := range []bool{false, true} {
		rounds++
		v, err := st.Critique(ctx, draft, "o", 100)
		require.NoError(t, err)
		assert.Equal(t, want, v.Approved)
	}
	_, err = st.ExtractSession(ctx, draft, "t")
	require.NoError(t, err)
	_, err = st.DeliveryMessage(ctx, "Maria", "t")
	require.NoError(t, err)

	usage := ledger.Finalize(rounds, time.Now())
	assert.Equal(t, 5, usage.APICalls)
	assert.Equal(t, 2, usage.QCRounds)
}

func TestRunIdempotentKeyDerivation(t *testing.T) {
	t.Parallel()

	// The model answers differently each time it is asked.
	ep := newEndpoint().set("identify",
		llmtest.Text("Maria", 5, 1),
		llmtest.Text("Maria the Seeker", 5, 1),
	)
	f := newFixture(t, ep, nil)
	req := model.ReadingRequest{OrderText: "Client: Maria, wants career guidance", Topic: "Career"}

	first, err := f.orch.Run(context.Background(), req, nil, nil)
	require.NoError(t, err)

	req.OrderText = "  client: maria,   wants career guidance\n"
	second, err := f.orch.Run(context.Background(), req, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.MemoryKey, second.MemoryKey)
	assert.Equal(t, 1, ep.count("identify"))

	rec, err := f.memory.Load(context.Background(), first.MemoryKey)
	require.NoError(t, err)
	assert.Len(t, rec.Sessions, 2)
}

func TestRunFatalAbortPersistsNothing(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("critic", llmtest.Fail(llm.ErrMalformedRequest))
	f := newFixture(t, ep, nil)

	_, err := f.orch.Run(context.Background(), model.ReadingRequest{
		OrderText: "Client: Maria, wants career guidance",
		Topic:     "Career",
	}, nil, nil)
	require.Error(t, err)

	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageCritique, cerr.Stage)
	assert.Equal(t, 2, cerr.Usage.APICalls) // identify + draft
	var fatal *llm.FatalError
	assert.ErrorAs(t, err, &fatal)
	assert.Equal(t, 1, ep.count("critic"))

	clients, err := f.memory.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clients)

	totals, err := f.usage.Aggregate(context.Background(), model.UsageFilter{})
	require.NoError(t, err)
	assert.Zero(t, totals.Cycles)
}

func TestRunCritiqueRoundCap(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("critic", llmtest.Text("REVISE everything", 1, 1))
	f := newFixture(t, ep, func(c *Config) { c.Cycle.MaxQCRounds = 3 })

	_, err := f.orch.Run(context.Background(), model.ReadingRequest{OrderText: "Client: Maria", Topic: "Love"}, nil, nil)
	require.ErrorIs(t, err, ErrCritiqueRoundsExhausted)

	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Usage.QCRounds)
	assert.Equal(t, 3, ep.count("critic"))
	assert.Equal(t, 3, ep.count("writer"))
}

func TestRunStreamsDraftChunks(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("writer", llmtest.Reply{
		Chunks: []string{"Dear ", "Maria"},
		Usage:  llmtest.Text("", 100, 200).Usage,
	})
	f := newFixture(t, ep, nil)

	var chunks []string
	res, err := f.orch.Run(context.Background(), model.ReadingRequest{OrderText: "Client: Maria", Topic: "Career"}, nil,
		func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)

	assert.Equal(t, "Dear Maria", res.Draft)
	assert.Equal(t, []string{"Dear ", "Maria"}, chunks)
	for _, c := range f.script.Calls() {
		assert.Equal(t, kindOf(c.Prompt) == "writer", c.Stream)
	}
}

func TestRunUnreadableExtractionStillSaves(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("memory", llmtest.Text("I cannot summarise this.", 1, 1))
	f := newFixture(t, ep, nil)

	res, err := f.orch.Run(context.Background(), model.ReadingRequest{OrderText: "Client: Maria", Topic: "Career"}, nil, nil)
	require.NoError(t, err)

	rec, err := f.memory.Load(context.Background(), res.MemoryKey)
	require.NoError(t, err)
	require.Len(t, rec.Sessions, 1)
	assert.Equal(t, "Career", rec.Sessions[0].Topic)
	assert.Equal(t, res.Draft, rec.Sessions[0].FullReading)
}

func TestRunDeliveryFallback(t *testing.T) {
	t.Parallel()

	ep := newEndpoint().set("delivery", llmtest.Fail(llm.ErrMalformedRequest))
	f := newFixture(t, ep, nil)

	res, err := f.orch.Run(context.Background(), model.ReadingRequest{OrderText: "Client: Maria", Topic: "Career"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, stages.DeliveryFallback("Maria"), res.DeliveryMessage)
}

func TestRunRejectsEmptyOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newEndpoint(), nil)
	_, err := f.orch.Run(context.Background(), model.ReadingRequest{OrderText: "   "}, nil, nil)
	require.True(t, errors.Is(err, ErrEmptyOrder))
	assert.Empty(t, f.script.Calls())
}

func TestReadingFilename(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)
	assert.Equal(t, "Reading_MariaLopez_LoveRelationshi_1700000000.html", ReadingFilename("Maria Lopez", "Love & Relationships", at))
	assert.Equal(t, "Reading_Client_Reading_1700000000.html", ReadingFilename("", "", at))
}
