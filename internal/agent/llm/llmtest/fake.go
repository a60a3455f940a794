// Package llmtest provides a scripted ChatClient for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/oracle-engine/server/internal/agent/llm"
	"github.com/oracle-engine/server/internal/agent/model"
)

// Reply is one scripted endpoint response. Err fails the call before any
// output. For streams, Chunks are sent first and StreamErr, if set, breaks
// the stream after them.
type Reply struct {
	Text      string
	Chunks    []string
	Usage     *schema.TokenUsage
	Err       error
	StreamErr error
}

// Text is a successful reply with the given token counts.
func Text(text string, tokensIn, tokensOut int) Reply {
	return Reply{
		Text: text,
		Usage: &schema.TokenUsage{
			PromptTokens:     tokensIn,
			CompletionTokens: tokensOut,
			TotalTokens:      tokensIn + tokensOut,
		},
	}
}

// Fail is a reply that fails the call with err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Call records one request seen by the endpoint.
type Call struct {
	Credential string
	Profile    model.Profile
	Prompt     string
	Stream     bool
}

// Script hands out queued replies in order. Once the queue is empty,
// Respond is consulted; without it calls return an empty reply.
type Script struct {
	Respond func(call Call) Reply
	// BuildErr makes the factory fail.
	BuildErr error

	mu     sync.Mutex
	queue  []Reply
	calls  []Call
	builds []string
}

func (s *Script) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, replies...)
}

// Factory builds clients that all answer from this script.
func (s *Script) Factory() llm.ClientFactory {
	return func(_ context.Context, credential string) (llm.ChatClient, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.builds = append(s.builds, credential)
		if s.BuildErr != nil {
			return nil, s.BuildErr
		}
		return &client{script: s, credential: credential}, nil
	}
}

func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Builds lists the credential of every client the factory produced.
func (s *Script) Builds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.builds...)
}

func (s *Script) next(call Call) Reply {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	if len(s.queue) > 0 {
		r := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		return r
	}
	respond := s.Respond
	s.mu.Unlock()

	if respond != nil {
		return respond(call)
	}
	return Reply{}
}

type client struct {
	script     *Script
	credential string
}

func (c *client) Generate(ctx context.Context, profile model.Profile, prompt string) (*schema.Message, error) {
	r := c.script.next(Call{Credential: c.credential, Profile: profile, Prompt: prompt})
	if r.Err != nil {
		return nil, r.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(r.Text, nil)
	if r.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: r.Usage}
	}
	return msg, nil
}

func (c *client) Stream(_ context.Context, profile model.Profile, prompt string) (*schema.StreamReader[*schema.Message], error) {
	r := c.script.next(Call{Credential: c.credential, Profile: profile, Prompt: prompt, Stream: true})
	if r.Err != nil {
		return nil, r.Err
	}

	chunks := r.Chunks
	if len(chunks) == 0 && r.Text != "" {
		chunks = []string{r.Text}
	}

	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 2)
	go func() {
		defer sw.Close()
		for _, chunk := range chunks {
			sw.Send(schema.AssistantMessage(chunk, nil), nil)
		}
		if r.StreamErr != nil {
			sw.Send(nil, r.StreamErr)
			return
		}
		if r.Usage != nil {
			sw.Send(&schema.Message{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{Usage: r.Usage}}, nil)
		}
	}()
	return sr, nil
}
