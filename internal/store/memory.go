package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
)

// Memory is an in-process backend. It backs tests and single-node dev runs
// and doubles as the reference implementation of the tier contract.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*domain.Record
	expiry  map[string]time.Time
	caps    domain.Capabilities
}

func NewMemory(caps domain.Capabilities) *Memory {
	return &Memory{
		records: make(map[string]*domain.Record),
		expiry:  make(map[string]time.Time),
		caps:    caps,
	}
}

func (m *Memory) Put(ctx context.Context, r *domain.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is empty", domain.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r.Clone()
	delete(m.expiry, r.ID)
	return nil
}

func (m *Memory) PutTTL(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	if err := m.Put(ctx, r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry[r.ID] = time.Now().Add(ttl)
	return nil
}

func (m *Memory) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if exp, has := m.expiry[id]; has && time.Now().After(exp) {
		return nil, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	delete(m.expiry, id)
	return nil
}

func (m *Memory) ListByFilter(ctx context.Context, f domain.Filter) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Record
	for _, r := range m.records {
		if !matchFilter(r, f) {
			continue
		}
		out = append(out, *r.Clone())
	}

	// Oldest last_accessed first, so consolidation sampling is deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAccessed.Before(out[j].LastAccessed)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchFilter(r *domain.Record, f domain.Filter) bool {
	if r.Tombstoned() && !f.IncludeTombstones {
		return false
	}
	if f.Type != nil && r.Type != *f.Type {
		return false
	}
	if f.Tier != nil && r.Tier != *f.Tier {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	if f.MinImportance > 0 && r.Importance < f.MinImportance {
		return false
	}
	if f.State != nil && r.State != *f.State {
		return false
	}
	return true
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *Memory) Capabilities() domain.Capabilities {
	return m.caps
}

func (m *Memory) SearchVector(ctx context.Context, embedding []float32, k int) ([]domain.ScoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredRecord
	for _, r := range m.records {
		if r.Tombstoned() || len(r.Embedding) == 0 {
			continue
		}
		score := (scoring.Cosine(embedding, r.Embedding) + 1) / 2
		out = append(out, domain.ScoredRecord{Record: *r.Clone(), Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *Memory) SearchKeyword(ctx context.Context, query string, k int) ([]domain.ScoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ScoredRecord
	for _, r := range m.records {
		if r.Tombstoned() {
			continue
		}
		score := KeywordScore(query, r.Content)
		if score == 0 {
			continue
		}
		out = append(out, domain.ScoredRecord{Record: *r.Clone(), Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// KeywordScore is the token overlap ratio between query and content, used by
// backends without a native relevance ranking.
func KeywordScore(query, content string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	lc := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lc, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
