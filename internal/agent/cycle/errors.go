package cycle

import (
	"errors"
	"fmt"

	"github.com/oracle-engine/server/internal/agent/model"
)

// Stage names reported by CycleError.
const (
	StageValidate   = "validate"
	StageIdentify   = "identify_client"
	StageLoadMemory = "load_memory"
	StageDraft      = "draft"
	StageCritique   = "critique"
	StageExtract    = "extract_session"
	StageDeliver    = "deliver"
)

var (
	// ErrEmptyOrder rejects a request without order text.
	ErrEmptyOrder = errors.New("order text is empty")
	// ErrCritiqueRoundsExhausted is returned when a round cap is configured
	// and the critic rejected every draft.
	ErrCritiqueRoundsExhausted = errors.New("critique rounds exhausted without approval")
)

// CycleError reports the stage a cycle died in. Usage holds what was spent
// up to that point; it is not persisted.
type CycleError struct {
	Stage string
	Usage model.UsageRecord
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("reading cycle failed at %s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
