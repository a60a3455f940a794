package llm

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrNoCredentials is returned when a pool holds no usable credential.
	ErrNoCredentials = errors.New("credential pool has no usable credential")
	// ErrPoolExhausted is returned by Rotate when a full lap produced no
	// credential able to complete a call.
	ErrPoolExhausted = errors.New("credential pool exhausted")
)

// Pool is an ordered, fixed set of API credentials with a rotating cursor.
// A single Pool may be shared by concurrent cycles; every method is guarded
// by one mutex.
type Pool struct {
	mu       sync.Mutex
	keys     []string
	cursor   int
	lapStart int // index where the current exhaustion lap began; -1 when clear
}

// NewPool builds a pool from keys in order. Blank entries are kept in place
// but never selected.
func NewPool(keys []string) (*Pool, error) {
	trimmed := make([]string, len(keys))
	first := -1
	for i, k := range keys {
		trimmed[i] = strings.TrimSpace(k)
		if first < 0 && trimmed[i] != "" {
			first = i
		}
	}
	if first < 0 {
		return nil, ErrNoCredentials
	}
	return &Pool{keys: trimmed, cursor: first, lapStart: -1}, nil
}

// ParseKeys splits a comma separated key list.
func ParseKeys(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	return strings.Split(list, ",")
}

// Current returns the active credential and its index.
func (p *Pool) Current() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keys[p.cursor], p.cursor
}

// Size is the number of usable credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k != "" {
			n++
		}
	}
	return n
}

// Rotate advances past the credential at index failed. If another caller has
// already moved the cursor away from failed, the current credential is
// returned unchanged so concurrent cycles never skip a key. When the advance
// would land back on the index where this exhaustion lap started,
// ErrPoolExhausted is returned and the cursor stays put.
func (p *Pool) Rotate(failed int) (string, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if failed != p.cursor {
		return p.keys[p.cursor], p.cursor, nil
	}
	if p.lapStart < 0 {
		p.lapStart = p.cursor
	}

	next := p.cursor
	for range p.keys {
		next = (next + 1) % len(p.keys)
		if p.keys[next] != "" {
			break
		}
	}
	if next == p.lapStart {
		p.cursor = next
		return p.keys[p.cursor], p.cursor, ErrPoolExhausted
	}
	p.cursor = next
	return p.keys[p.cursor], p.cursor, nil
}

// ClearExhaustion ends the current lap. The invoker calls it after any
// successful call and after each cooldown.
func (p *Pool) ClearExhaustion() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lapStart = -1
}
