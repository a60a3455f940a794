package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/pkg/metrics"
)

// MeteredClient wraps one ChatClient and charges every successful call to a
// shared ledger.
type MeteredClient struct {
	client ChatClient
	ledger *model.Ledger
}

func NewMeteredClient(client ChatClient, ledger *model.Ledger) *MeteredClient {
	return &MeteredClient{client: client, ledger: ledger}
}

// Invoke runs a blocking call and returns the reply text with its usage delta.
func (m *MeteredClient) Invoke(ctx context.Context, profile model.Profile, prompt string) (string, model.Usage, error) {
	start := time.Now()
	msg, err := m.client.Generate(ctx, profile, prompt)
	if err == nil && msg == nil {
		err = fmt.Errorf("%w: empty model response", ErrTransient)
	}
	if err != nil {
		m.observeFailure(profile, start)
		return "", model.Usage{}, err
	}

	usage := model.UsageFromMessage(msg)
	m.record(profile, start, usage)
	return msg.Content, usage, nil
}

// Stream yields text chunks as they arrive. Usage is charged once the stream
// ends cleanly, from the last usage block the provider attached. Providers
// that attach none are charged zero tokens but still count as one call.
func (m *MeteredClient) Stream(ctx context.Context, profile model.Profile, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start := time.Now()
		sr, err := m.client.Stream(ctx, profile, prompt)
		if err != nil {
			m.observeFailure(profile, start)
			yield("", err)
			return
		}
		defer sr.Close()

		var usage *schema.TokenUsage
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				m.observeFailure(profile, start)
				yield("", err)
				return
			}
			if msg == nil {
				continue
			}
			if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
				usage = msg.ResponseMeta.Usage
			}
			if msg.Content == "" {
				continue
			}
			if !yield(msg.Content, nil) {
				return
			}
		}
		m.record(profile, start, model.UsageFromTokens(usage))
	}
}

func (m *MeteredClient) record(profile model.Profile, start time.Time, usage model.Usage) {
	cost := m.ledger.Add(usage)

	p := string(profile)
	metrics.LLMCallTotal.WithLabelValues(p, "success").Inc()
	metrics.LLMCallDuration.WithLabelValues(p).Observe(time.Since(start).Seconds())
	metrics.LLMTokensUsed.WithLabelValues(p, "prompt").Add(float64(usage.TokensIn))
	metrics.LLMTokensUsed.WithLabelValues(p, "completion").Add(float64(usage.TokensOut))
	metrics.LLMCostUSD.Add(cost)
}

func (m *MeteredClient) observeFailure(profile model.Profile, start time.Time) {
	p := string(profile)
	metrics.LLMCallTotal.WithLabelValues(p, "error").Inc()
	metrics.LLMCallDuration.WithLabelValues(p).Observe(time.Since(start).Seconds())
}
