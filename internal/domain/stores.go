package domain

import (
	"context"
	"time"
)

// Filter narrows ListByFilter results. Nil/zero fields are ignored.
type Filter struct {
	Type          *MemoryType
	Tier          *Tier
	Tag           string
	MinImportance float64
	State         *MemoryState
	// Tombstoned records are excluded unless IncludeTombstones is set.
	IncludeTombstones bool
	Limit             int
}

// ScoredRecord pairs a record with a search relevance score in [0,1].
type ScoredRecord struct {
	Record
	Score float64 `json:"score"`
}

// TierBackend is the contract every storage tier satisfies. Operations are
// single-record and idempotent by id. Backends do not enforce lifecycle
// invariants; the core does.
type TierBackend interface {
	Put(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	ListByFilter(ctx context.Context, f Filter) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Capabilities() Capabilities
}

// VectorSearcher is implemented by backends that can rank by embedding
// similarity (the warm tier).
type VectorSearcher interface {
	SearchVector(ctx context.Context, embedding []float32, k int) ([]ScoredRecord, error)
}

// KeywordSearcher is implemented by backends that can rank by text match
// (the cold tier).
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query string, k int) ([]ScoredRecord, error)
}

// TTLPutter is implemented by backends that support TTL-on-write (the hot
// tier).
type TTLPutter interface {
	PutTTL(ctx context.Context, r *Record, ttl time.Duration) error
}

// Embedder turns text into a fixed-dimension vector. The dimension is
// constant per deployment; mismatches are rejected as invalid input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer rewrites a set of member contents into one. Output is capped at
// MaxContentBytes and should be stable for identical input.
type Summarizer interface {
	Summarize(ctx context.Context, contents []string) (string, error)
}
