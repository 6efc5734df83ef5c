package service

import (
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
)

func newTestTiers() Tiers {
	return Tiers{
		Hot: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: false, TypicalLatencyMS: 2, Durability: domain.DurabilitySession,
		}),
		Warm: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: true, TypicalLatencyMS: 15, Durability: domain.DurabilityDurable,
		}),
		Cold: store.NewMemory(domain.Capabilities{
			SupportsVectorSearch: false, TypicalLatencyMS: 40, Durability: domain.DurabilityArchival,
		}),
	}
}

func newTestRouter(tiers Tiers) *Router {
	return NewRouter(tiers, 24*time.Hour, 800*time.Millisecond, zap.NewNop())
}

func newTestPlacement(tiers Tiers, access *accessTracker) *PlacementEngine {
	return NewPlacementEngine(tiers, newLockTable(), access,
		6*time.Hour, 3*time.Hour, 24*time.Hour, zap.NewNop())
}

func newServiceRecord(t *testing.T, id string, tier domain.Tier, opts func(*domain.Record)) *domain.Record {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	r := &domain.Record{
		ID:           id,
		Content:      "remember this",
		Type:         domain.MemoryTypeSemantic,
		Embedding:    []float32{1, 0, 0},
		Importance:   0.5,
		Strength:     1.0,
		CreatedAt:    now,
		LastAccessed: now,
		LastDecayed:  now,
		Tier:         tier,
		State:        domain.StateActive,
	}
	if opts != nil {
		opts(r)
	}
	return r
}
