// Package stages builds the prompt of each model call in a reading cycle and
// interprets its reply.
package stages

import (
	"context"
	"time"

	"github.com/oracle-engine/server/internal/agent/model"
	"github.com/oracle-engine/server/internal/agent/prompts"
)

// Generator is the call surface of the resilient invoker.
type Generator interface {
	Invoke(ctx context.Context, profile model.Profile, prompt string) (string, error)
	Stream(ctx context.Context, profile model.Profile, prompt string, onChunk model.ChunkFunc) (string, error)
}

type Stages struct {
	gen     Generator
	prompts *prompts.Library
	loc     *time.Location
	now     func() time.Time
}

// New wires the stages. A nil loc means UTC and a nil now means time.Now.
func New(gen Generator, lib *prompts.Library, loc *time.Location, now func() time.Time) *Stages {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Stages{gen: gen, prompts: lib, loc: loc, now: now}
}

// Now is the current time in the configured zone.
func (s *Stages) Now() time.Time {
	return s.now().In(s.loc)
}
