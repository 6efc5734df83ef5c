package service

import (
	"context"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

const ewmaAlpha = 0.2

// Stats aggregates operational numbers for the stats endpoint. Latencies are
// exponentially weighted moving averages fed by the memory service.
type Stats struct {
	mu          sync.Mutex
	opLatencyMS map[string]float64
	lastCycle   time.Duration
	lastCycleAt time.Time
}

func NewStats() *Stats {
	return &Stats{opLatencyMS: make(map[string]float64)}
}

// ObserveLatency folds one operation latency into the EWMA for op.
func (s *Stats) ObserveLatency(op string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.opLatencyMS[op]
	if !ok {
		s.opLatencyMS[op] = ms
		return
	}
	s.opLatencyMS[op] = ewmaAlpha*ms + (1-ewmaAlpha)*prev
}

// ObserveCycle records the duration of the last maintenance cycle.
func (s *Stats) ObserveCycle(d time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycle = d
	s.lastCycleAt = at
}

// TierStats is the per-tier slice of a snapshot.
type TierStats struct {
	Count        int                 `json:"count"`
	Bytes        int64               `json:"bytes"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// Snapshot is the stats endpoint payload.
type Snapshot struct {
	Tiers         map[domain.Tier]TierStats `json:"tiers"`
	LatencyMS     map[string]float64        `json:"latency_ms"`
	OverflowDepth int                       `json:"overflow_depth"`
	LastCycleMS   int64                     `json:"last_cycle_ms"`
	LastCycleAt   *time.Time                `json:"last_cycle_at,omitempty"`
}

// Snapshot gathers live tier counts and sizes plus the collected averages.
func (s *Stats) Snapshot(ctx context.Context, tiers Tiers, overflow *OverflowLog) (*Snapshot, error) {
	snap := &Snapshot{Tiers: make(map[domain.Tier]TierStats)}

	for _, tier := range domain.AllTiers() {
		backend := tiers.Backend(tier)
		ts := TierStats{Capabilities: backend.Capabilities()}
		if n, err := backend.Count(ctx); err == nil {
			ts.Count = n
		}
		if records, err := backend.ListByFilter(ctx, domain.Filter{IncludeTombstones: true}); err == nil {
			for i := range records {
				ts.Bytes += recordBytes(&records[i])
			}
		}
		snap.Tiers[tier] = ts
	}

	if overflow != nil {
		if depth, err := overflow.Depth(); err == nil {
			snap.OverflowDepth = depth
		}
	}

	s.mu.Lock()
	snap.LatencyMS = make(map[string]float64, len(s.opLatencyMS))
	for op, ms := range s.opLatencyMS {
		snap.LatencyMS[op] = ms
	}
	snap.LastCycleMS = s.lastCycle.Milliseconds()
	if !s.lastCycleAt.IsZero() {
		at := s.lastCycleAt
		snap.LastCycleAt = &at
	}
	s.mu.Unlock()

	return snap, nil
}
