// Package cycle runs one reading request from client identification to the
// delivery message.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/memory"
	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/parsers"
	"github.com/oracle-engine/server/internal/agent/prompts"
	"github.com/oracle-engine/server/internal/agent/stages"
	logx "github.com/oracle-engine/server/pkg/logger"
	"github.com/oracle-engine/server/pkg/metrics"
)

const (
	feedbackPreview     = 100
	defaultTargetLength = 8000
)

// Deps are the collaborators an Orchestrator needs. Pool may be shared by
// several orchestrators. Identity is optional.
type Deps struct {
	Pool     *llm.Pool
	Factory  llm.ClientFactory
	Prompts  *prompts.Library
	Memory   model.MemoryRepository
	Usage    model.UsageRepository
	Identity model.IdentityCache
}

type Config struct {
	Model    string
	Pricing  model.Pricing
	Retry    model.RetryConfig
	Cycle    model.CycleConfig
	Memory   model.MemoryConfig
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator holds no per-cycle state, so Run may be called concurrently.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	memory *memory.Manager
}

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		memory: memory.NewManager(deps.Memory, cfg.Memory, cfg.Location),
	}
}

// run is the state of one cycle.
type run struct {
	id       string
	req      model.ReadingRequest
	ledger   *model.Ledger
	stages   *stages.Stages
	progress model.ProgressFunc
	onChunk  model.ChunkFunc
	start    time.Time

	clientName string
	key        string
	record     *model.MemoryRecord
	rounds     int
}

// Run executes one cycle. Progress and onChunk may be nil. Any error is a
// *CycleError; on error nothing is written to the memory or usage stores.
func (o *Orchestrator) Run(ctx context.Context, req model.ReadingRequest, progress model.ProgressFunc, onChunk model.ChunkFunc) (*model.CycleResult, error) {
	r := &run{
		id:       uuid.NewString(),
		req:      normalizeRequest(req, o.cfg.Cycle),
		ledger:   model.NewLedger(o.cfg.Pricing),
		progress: progress,
		onChunk:  onChunk,
		start:    o.cfg.Now(),
	}
	inv := llm.NewInvoker(llm.InvokerConfig{
		Pool:     o.deps.Pool,
		Factory:  o.deps.Factory,
		Ledger:   r.ledger,
		Retry:    o.cfg.Retry,
		Progress: r.notify,
	})
	r.stages = stages.New(inv, o.deps.Prompts, o.cfg.Location, o.cfg.Now)

	logx.Info().Str("cycle_id", r.id).Str("topic", r.req.Topic).Int("target_length", r.req.TargetLength).Msg("Reading cycle started")

	if strings.TrimSpace(r.req.OrderText) == "" {
		return nil, o.fail(r, StageValidate, ErrEmptyOrder)
	}

	if stage, err := o.resolveClient(ctx, r); err != nil {
		return nil, o.fail(r, stage, err)
	}

	memoryContext := o.memory.FormatContext(r.record)
	r.notify(fmt.Sprintf("Memory loaded (%d past sessions)", len(r.record.Sessions)))

	draft, stage, err := o.draftUntilApproved(ctx, r, memoryContext)
	if err != nil {
		return nil, o.fail(r, stage, err)
	}

	r.notify("Saving the session to memory...")
	session, err := r.stages.ExtractSession(ctx, draft, r.req.Topic)
	if err != nil {
		var fatal *llm.FatalError
		if errors.As(err, &fatal) || session.FullReading == "" {
			return nil, o.fail(r, StageExtract, err)
		}
		logx.Warn().Err(err).Str("cycle_id", r.id).Msg("Session extraction unreadable, keeping a minimal session")
		r.notify("Memory summary was unreadable; saving the reading without a summary")
	}

	r.notify("Preparing the delivery message...")
	delivery, err := r.stages.DeliveryMessage(ctx, r.clientName, r.req.Topic)
	if err != nil {
		return nil, o.fail(r, StageDeliver, err)
	}

	now := o.cfg.Now()
	usage := r.ledger.Finalize(r.rounds, now)
	usage.CycleID = r.id
	usage.ClientKey = r.key
	usage.Topic = r.req.Topic
	usage.Model = o.cfg.Model

	o.persist(ctx, r, session, usage)

	metrics.CycleTotal.WithLabelValues("completed").Inc()
	metrics.CycleQCRounds.Observe(float64(r.rounds))
	metrics.CycleDuration.Observe(now.Sub(r.start).Seconds())
	logx.Info().
		Str("cycle_id", r.id).
		Str("client_key", r.key).
		Int("qc_rounds", r.rounds).
		Int("api_calls", usage.APICalls).
		Float64("cost_usd", usage.CostUSD).
		Msg("Reading cycle completed")

	return &model.CycleResult{
		Draft:           draft,
		DeliveryMessage: delivery,
		Usage:           usage,
		ClientName:      r.clientName,
		MemoryKey:       r.key,
		Filename:        ReadingFilename(r.clientName, r.req.Topic, now),
	}, nil
}

// resolveClient settles the display name and memory key and loads the
// client's record.
func (o *Orchestrator) resolveClient(ctx context.Context, r *run) (string, error) {
	email := memory.NormalizeEmail(r.req.ClientEmail)
	if email != "" {
		rec, err := o.memory.Load(ctx, email)
		if err != nil {
			return StageLoadMemory, err
		}
		r.record = rec
		if !parsers.IsPlaceholderName(rec.ClientName, email) {
			r.clientName = rec.ClientName
		}
	}

	if r.clientName == "" {
		r.notify("Identifying the client...")
		name, err := o.identify(ctx, r)
		if err != nil {
			return StageIdentify, err
		}
		r.clientName = name
	}
	r.notify(fmt.Sprintf("Client identified: %s", r.clientName))

	r.key = memory.Key(email, r.clientName)
	if r.record == nil {
		rec, err := o.memory.Load(ctx, r.key)
		if err != nil {
			return StageLoadMemory, err
		}
		r.record = rec
	}
	return "", nil
}

// identify extracts the client name, reusing the name cached for identical
// order text so the derived key never changes between runs.
func (o *Orchestrator) identify(ctx context.Context, r *run) (string, error) {
	digest := memory.OrderDigest(r.req.OrderText)
	if o.deps.Identity != nil {
		name, ok, err := o.deps.Identity.Get(ctx, digest)
		if err != nil {
			logx.Warn().Err(err).Str("cycle_id", r.id).Msg("Identity cache read failed")
		}
		if ok && name != "" {
			return name, nil
		}
	}

	name, err := r.stages.IdentifyClient(ctx, r.req.OrderText)
	if err != nil {
		return "", err
	}
	if o.deps.Identity != nil {
		if err := o.deps.Identity.Put(ctx, digest, name); err != nil {
			logx.Warn().Err(err).Str("cycle_id", r.id).Msg("Identity cache write failed")
		}
		// Another cycle may have stored a name first; use that one.
		if cached, ok, err := o.deps.Identity.Get(ctx, digest); err == nil && ok && cached != "" {
			name = cached
		}
	}
	return name, nil
}

// draftUntilApproved alternates drafting and critique until the critic
// approves. Without a round cap it never gives up.
func (o *Orchestrator) draftUntilApproved(ctx context.Context, r *run, memoryContext string) (string, string, error) {
	in := stages.DraftInput{
		OrderText:     r.req.OrderText,
		Topic:         r.req.Topic,
		TargetLength:  r.req.TargetLength,
		MemoryContext: memoryContext,
	}

	r.notify("Drafting the reading...")
	draft, err := r.stages.Draft(ctx, in, r.onChunk)
	if err != nil {
		return "", StageDraft, err
	}

	for {
		r.rounds++
		r.notify(fmt.Sprintf("Quality review in progress (round %d)", r.rounds))

		verdict, err := r.stages.Critique(ctx, draft, r.req.OrderText, r.req.TargetLength)
		if err != nil {
			return "", StageCritique, err
		}
		if verdict.Approved {
			r.notify(fmt.Sprintf("Approved in round %d", r.rounds))
			return draft, "", nil
		}

		if limit := o.cfg.Cycle.MaxQCRounds; limit > 0 && r.rounds >= limit {
			return "", StageCritique, fmt.Errorf("%w after %d rounds", ErrCritiqueRoundsExhausted, r.rounds)
		}

		r.notify(fmt.Sprintf("Revision needed (round %d): %s", r.rounds, preview(verdict.Feedback)))
		in.Feedback = verdict.Feedback
		draft, err = r.stages.Draft(ctx, in, r.onChunk)
		if err != nil {
			return "", StageDraft, err
		}
	}
}

// persist writes the session and the usage record. Failures are reported
// but do not undo a finished reading.
func (o *Orchestrator) persist(ctx context.Context, r *run, session model.Session, usage model.UsageRecord) {
	if err := o.memory.AppendSession(ctx, r.key, r.clientName, session); err != nil {
		logx.Error().Err(err).Str("cycle_id", r.id).Str("client_key", r.key).Msg("Failed to save session")
		r.notify("Warning: the session could not be saved to memory")
	}
	if o.deps.Usage == nil {
		return
	}
	if err := o.deps.Usage.Append(ctx, usage); err != nil {
		logx.Error().Err(err).Str("cycle_id", r.id).Msg("Failed to save usage record")
		r.notify("Warning: the usage record could not be saved")
	}
}

func (o *Orchestrator) fail(r *run, stage string, err error) error {
	usage := r.ledger.Snapshot()
	usage.CycleID = r.id
	usage.ClientKey = r.key
	usage.Topic = r.req.Topic
	usage.Model = o.cfg.Model
	usage.QCRounds = r.rounds

	metrics.CycleTotal.WithLabelValues("failed").Inc()
	logx.Error().
		Err(err).
		Str("cycle_id", r.id).
		Str("stage", stage).
		Int("api_calls", usage.APICalls).
		Float64("cost_usd", usage.CostUSD).
		Msg("Reading cycle aborted")
	return &CycleError{Stage: stage, Usage: usage, Err: err}
}

func (r *run) notify(msg string) {
	logx.Debug().Str("cycle_id", r.id).Msg(msg)
	r.progress.Notify(msg)
}

func normalizeRequest(req model.ReadingRequest, cfg model.CycleConfig) model.ReadingRequest {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		req.Topic = parsers.DefaultTopic
	}
	if req.TargetLength <= 0 {
		req.TargetLength = cfg.DefaultTargetLength
	}
	if req.TargetLength <= 0 {
		req.TargetLength = defaultTargetLength
	}
	return req
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= feedbackPreview {
		return s
	}
	return string([]rune(s)[:feedbackPreview]) + "..."
}
