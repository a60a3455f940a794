package model

import (
	"context"
	"time"
)

// Session is the structured summary of one approved reading.
type Session struct {
	Timestamp            time.Time `json:"timestamp"`
	Topic                string    `json:"topic"`
	TargetName           string    `json:"target_name,omitempty"`
	KeyPrediction        string    `json:"key_prediction"`
	HookLeft             string    `json:"hook_left"`
	ClientMood           string    `json:"client_mood"`
	SpecificDetails      string    `json:"specific_details,omitempty"`
	PromisesMade         string    `json:"promises_made,omitempty"`
	PhysicalDescriptions string    `json:"physical_descriptions,omitempty"`
	ReadingSummary       string    `json:"reading_summary,omitempty"`
	FullReading          string    `json:"full_reading,omitempty"`
}

// MemoryRecord is the persisted history of one client. Sessions are kept in
// creation order and only ever appended to.
type MemoryRecord struct {
	ClientName string    `json:"client_name"`
	Sessions   []Session `json:"sessions"`
}

// ClientSummary is a row of the client listing.
type ClientSummary struct {
	Key          string `json:"key"`
	ClientName   string `json:"client_name"`
	SessionCount int    `json:"session_count"`
}

type MemoryRepository interface {
	// Load returns the record stored under key, or an empty record named
	// after the key when none exists.
	Load(ctx context.Context, key string) (*MemoryRecord, error)

	// Save replaces the record stored under key.
	Save(ctx context.Context, key string, record *MemoryRecord) error

	// List returns a summary of every stored client.
	List(ctx context.Context) ([]ClientSummary, error)

	// Delete removes a client; it reports whether anything was removed.
	Delete(ctx context.Context, key string) (bool, error)
}

// IdentityCache remembers the client name extracted for an order text digest.
type IdentityCache interface {
	Get(ctx context.Context, digest string) (string, bool, error)
	Put(ctx context.Context, digest, name string) error
}
