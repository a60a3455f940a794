package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oracle-engine/server/internal/agent/model"
	logx "github.com/oracle-engine/server/pkg/logger"
	"github.com/oracle-engine/server/pkg/metrics"
)

// InvokerConfig wires an Invoker. Pool and Factory may be shared across
// cycles; Ledger and Progress belong to one cycle.
type InvokerConfig struct {
	Pool     *Pool
	Factory  ClientFactory
	Ledger   *model.Ledger
	Retry    model.RetryConfig
	Progress model.ProgressFunc
}

// Invoker applies the retry and failover policy around a MeteredClient.
// Only *FatalError and parent context errors escape it.
type Invoker struct {
	pool     *Pool
	factory  ClientFactory
	ledger   *model.Ledger
	retry    model.RetryConfig
	progress model.ProgressFunc

	mu     sync.Mutex
	client *MeteredClient
	bound  int // pool index the client was built for
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	return &Invoker{
		pool:     cfg.Pool,
		factory:  cfg.Factory,
		ledger:   cfg.Ledger,
		retry:    cfg.Retry,
		progress: cfg.Progress,
		bound:    -1,
	}
}

// Invoke returns the full reply text for prompt.
func (inv *Invoker) Invoke(ctx context.Context, profile model.Profile, prompt string) (string, error) {
	var text string
	err := inv.do(ctx, profile, func(callCtx context.Context, client *MeteredClient) error {
		out, _, err := client.Invoke(callCtx, profile, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

// Stream behaves like Invoke but hands every chunk to onChunk as it arrives.
// A stream that fails part way is not resumed: the whole call is retried
// and onChunk sees the text again from the beginning.
func (inv *Invoker) Stream(ctx context.Context, profile model.Profile, prompt string, onChunk model.ChunkFunc) (string, error) {
	var sb strings.Builder
	err := inv.do(ctx, profile, func(callCtx context.Context, client *MeteredClient) error {
		sb.Reset()
		for chunk, err := range client.Stream(callCtx, profile, prompt) {
			if err != nil {
				if sb.Len() > 0 {
					inv.progress.Notify("Stream interrupted, restarting the draft from scratch")
				}
				return err
			}
			sb.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// acquire returns the client bound to the pool's current credential,
// rebuilding it when the cursor has moved since the last call.
func (inv *Invoker) acquire(ctx context.Context) (*MeteredClient, int, error) {
	key, idx := inv.pool.Current()

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.client != nil && inv.bound == idx {
		return inv.client, idx, nil
	}
	client, err := inv.factory(ctx, key)
	if err != nil {
		return nil, idx, fmt.Errorf("build client for credential #%d: %w", idx+1, err)
	}
	inv.client = NewMeteredClient(client, inv.ledger)
	inv.bound = idx
	return inv.client, idx, nil
}

func (inv *Invoker) do(ctx context.Context, profile model.Profile, call func(context.Context, *MeteredClient) error) error {
	policy := &policyBackOff{}
	attempt := 0
	var (
		class Class
		idx   int
	)

	op := func() error {
		attempt++
		client, i, err := inv.acquire(ctx)
		idx = i
		if err != nil {
			return backoff.Permanent(&FatalError{Profile: string(profile), Err: err})
		}

		callCtx, cancel := inv.callContext(ctx)
		defer cancel()

		err = call(callCtx, client)
		if err == nil {
			inv.pool.ClearExhaustion()
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		class = Classify(err)
		metrics.RetryTotal.WithLabelValues(class.String()).Inc()

		switch class {
		case ClassMalformed:
			logx.Error().Err(err).Str("profile", string(profile)).Int("attempt", attempt).Msg("Malformed model request, giving up")
			return backoff.Permanent(&FatalError{Profile: string(profile), Err: err})
		case ClassQuota:
			policy.next = inv.rotate(idx)
		case ClassTransient:
			policy.next = inv.retry.TransientDelay
			inv.progress.Notify(fmt.Sprintf("Model temporarily unavailable, retrying in %s", inv.retry.TransientDelay))
		default:
			policy.next = inv.retry.UnknownDelay
			inv.progress.Notify(fmt.Sprintf("Unexpected model error, retrying in %s: %v", inv.retry.UnknownDelay, err))
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		ev := logx.Warn()
		if class != ClassUnknown {
			ev = logx.Info()
		}
		ev.Err(err).
			Str("profile", string(profile)).
			Str("class", class.String()).
			Int("credential_index", idx).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Model call failed, retrying")
	}

	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}

// rotate moves the pool past the failed credential and returns the delay
// before the next attempt. A finished lap means every credential is
// throttled, so the sweep restarts after the cooldown.
func (inv *Invoker) rotate(failed int) time.Duration {
	_, next, err := inv.pool.Rotate(failed)
	if errors.Is(err, ErrPoolExhausted) {
		inv.pool.ClearExhaustion()
		metrics.PoolCooldowns.Inc()
		logx.Warn().Int("pool_size", inv.pool.Size()).Dur("cooldown", inv.retry.ExhaustedCooldown).Msg("All credentials exhausted, cooling down")
		inv.progress.Notify(fmt.Sprintf("All %d API keys exhausted, cooling down for %s", inv.pool.Size(), inv.retry.ExhaustedCooldown))
		return inv.retry.ExhaustedCooldown
	}
	if next != failed {
		metrics.CredentialRotations.Inc()
		inv.progress.Notify(fmt.Sprintf("Quota hit on API key #%d, switching to key #%d", failed+1, next+1))
	}
	return 0
}

func (inv *Invoker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if inv.retry.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, inv.retry.CallTimeout)
}

// policyBackOff never stops on its own; the operation picks the delay of
// the next attempt from the class of the error it just saw.
type policyBackOff struct {
	next time.Duration
}

func (b *policyBackOff) NextBackOff() time.Duration {
	return b.next
}

func (b *policyBackOff) Reset() {
	b.next = 0
}
