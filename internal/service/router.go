package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"github.com/mnemo-ai/mnemo/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100

	// Merge weights for combined search ranking.
	searchRelevanceWeight  = 0.6
	searchImportanceWeight = 0.4

	// Cold hits this frequent or this relevant belong higher; the placement
	// pass picks the queued promotion up on the next cycle.
	coldPromotionAccessCount = 10
	coldPromotionRelevance   = 0.8
)

// Tiers bundles the three backends. Any of them may be a BreakerBackend.
type Tiers struct {
	Hot  domain.TierBackend
	Warm domain.TierBackend
	Cold domain.TierBackend
}

func (t Tiers) Backend(tier domain.Tier) domain.TierBackend {
	switch tier {
	case domain.TierHot:
		return t.Hot
	case domain.TierWarm:
		return t.Warm
	default:
		return t.Cold
	}
}

// Router owns cross-tier reads and searches. Writes go through the placement
// rules in domain.TierForWrite; reads probe hot, warm, cold in order so the
// fast path wins when the record is where it should be.
type Router struct {
	tiers          Tiers
	hotTTL         time.Duration
	searchDeadline time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	promotions map[string]domain.Tier
}

func NewRouter(tiers Tiers, hotTTL, searchDeadline time.Duration, logger *zap.Logger) *Router {
	return &Router{
		tiers:          tiers,
		hotTTL:         hotTTL,
		searchDeadline: searchDeadline,
		logger:         logger,
		promotions:     make(map[string]domain.Tier),
	}
}

// Write stores the record in the tier the placement rules choose, with
// TTL-on-write for the hot tier.
func (rt *Router) Write(ctx context.Context, r *domain.Record) (domain.Tier, error) {
	tier := domain.TierForWrite(r)
	r.Tier = tier

	backend := rt.tiers.Backend(tier)
	if tier == domain.TierHot {
		if tp, ok := backend.(domain.TTLPutter); ok {
			return tier, tp.PutTTL(ctx, r, rt.hotTTL)
		}
	}
	return tier, backend.Put(ctx, r)
}

// Get probes tiers in latency order. A hit found below its recorded tier is
// reported as-is; reconciliation is the placement engine's job. Backend
// outages skip to the next tier rather than failing the read.
func (rt *Router) Get(ctx context.Context, id string) (*domain.Record, domain.Tier, error) {
	var lastErr error
	for _, tier := range domain.AllTiers() {
		r, err := rt.tiers.Backend(tier).GetByID(ctx, id)
		if err == nil {
			rt.noteHit(r, tier)
			return r, tier, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", domain.ErrNotFound
}

// noteHit queues a promotion review when a frequently accessed record is
// found in cold.
func (rt *Router) noteHit(r *domain.Record, tier domain.Tier) {
	if tier != domain.TierCold || r.AccessCount < coldPromotionAccessCount {
		return
	}
	rt.mu.Lock()
	rt.promotions[r.ID] = domain.TierWarm
	rt.mu.Unlock()
}

// PendingPromotions drains the queued cold-hit promotions.
func (rt *Router) PendingPromotions() map[string]domain.Tier {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := rt.promotions
	rt.promotions = make(map[string]domain.Tier)
	return out
}

// SearchRequest narrows a retrieval query. SessionScope widens the fan-out
// to include the hot tier, which otherwise only serves direct reads.
type SearchRequest struct {
	Query         string
	Embedding     []float32
	Limit         int
	Type          *domain.MemoryType
	Tag           string
	MinImportance float64
	SessionScope  bool
}

// SearchResult carries the merged ranking plus a partial flag when one or
// more tiers missed the deadline or errored.
type SearchResult struct {
	Records []domain.ScoredRecord `json:"records"`
	Partial bool                  `json:"partial"`
}

// Search fans out to warm and cold in parallel under a deadline and merges
// results ranked by 0.6*relevance + 0.4*importance. The hot tier joins the
// fan-out only for session-scoped queries. Tiers without a native index fall
// back to list plus in-process scoring.
func (rt *Router) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}
	if req.Limit > maxSearchLimit {
		req.Limit = maxSearchLimit
	}

	tiers := []domain.Tier{domain.TierWarm, domain.TierCold}
	if req.SessionScope {
		tiers = domain.AllTiers()
	}

	ctx, cancel := context.WithTimeout(ctx, rt.searchDeadline)
	defer cancel()

	type tierHits struct {
		tier domain.Tier
		hits []domain.ScoredRecord
	}
	results := make(chan tierHits, len(tiers))

	var partial sync.Once
	isPartial := false
	markPartial := func() { partial.Do(func() { isPartial = true }) }

	g, gctx := errgroup.WithContext(ctx)
	for _, tier := range tiers {
		tier := tier
		g.Go(func() error {
			hits, err := rt.searchTier(gctx, tier, req)
			if err != nil {
				rt.logger.Warn("tier search failed",
					zap.String("tier", string(tier)), zap.Error(err))
				markPartial()
				return nil
			}
			results <- tierHits{tier: tier, hits: hits}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	seen := make(map[string]struct{})
	var merged []domain.ScoredRecord
	for th := range results {
		for _, hit := range th.hits {
			if _, dup := seen[hit.ID]; dup {
				continue
			}
			seen[hit.ID] = struct{}{}
			if hit.Tier == domain.TierCold && hit.Score >= coldPromotionRelevance {
				rt.mu.Lock()
				rt.promotions[hit.ID] = domain.TierWarm
				rt.mu.Unlock()
			}
			hit.Score = searchRelevanceWeight*hit.Score + searchImportanceWeight*hit.Importance
			merged = append(merged, hit)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score == merged[j].Score {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > req.Limit {
		merged = merged[:req.Limit]
	}

	return &SearchResult{Records: merged, Partial: isPartial}, nil
}

func (rt *Router) searchTier(ctx context.Context, tier domain.Tier, req SearchRequest) ([]domain.ScoredRecord, error) {
	backend := rt.tiers.Backend(tier)
	k := req.Limit * 2

	var hits []domain.ScoredRecord
	var err error
	switch {
	case len(req.Embedding) > 0 && backend.Capabilities().SupportsVectorSearch:
		vs, ok := backend.(domain.VectorSearcher)
		if !ok {
			return nil, domain.ErrInternal
		}
		hits, err = vs.SearchVector(ctx, req.Embedding, k)
	case len(req.Embedding) > 0:
		if vs, ok := backend.(domain.VectorSearcher); ok {
			// Backend offers a brute-force fallback of its own.
			hits, err = vs.SearchVector(ctx, req.Embedding, k)
			if errors.Is(err, domain.ErrInvalidInput) {
				// Wrappers expose the method even when the inner backend
				// lacks it.
				hits, err = rt.bruteForce(ctx, backend, req.Embedding, k)
			}
		} else {
			hits, err = rt.bruteForce(ctx, backend, req.Embedding, k)
		}
	case req.Query != "":
		if ks, ok := backend.(domain.KeywordSearcher); ok {
			hits, err = ks.SearchKeyword(ctx, req.Query, k)
			if errors.Is(err, domain.ErrInvalidInput) {
				hits, err = rt.keywordScan(ctx, backend, req.Query, k)
			}
		} else {
			hits, err = rt.keywordScan(ctx, backend, req.Query, k)
		}
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return filterHits(hits, req), nil
}

func (rt *Router) bruteForce(ctx context.Context, backend domain.TierBackend, embedding []float32, k int) ([]domain.ScoredRecord, error) {
	records, err := backend.ListByFilter(ctx, domain.Filter{})
	if err != nil {
		return nil, err
	}
	var out []domain.ScoredRecord
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		score := (scoring.Cosine(embedding, r.Embedding) + 1) / 2
		out = append(out, domain.ScoredRecord{Record: r, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (rt *Router) keywordScan(ctx context.Context, backend domain.TierBackend, query string, k int) ([]domain.ScoredRecord, error) {
	records, err := backend.ListByFilter(ctx, domain.Filter{})
	if err != nil {
		return nil, err
	}
	var out []domain.ScoredRecord
	for _, r := range records {
		score := store.KeywordScore(query, r.Content)
		if score == 0 {
			continue
		}
		out = append(out, domain.ScoredRecord{Record: r, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func filterHits(hits []domain.ScoredRecord, req SearchRequest) []domain.ScoredRecord {
	var out []domain.ScoredRecord
	for _, hit := range hits {
		if hit.Tombstoned() {
			continue
		}
		if req.Type != nil && hit.Type != *req.Type {
			continue
		}
		if req.Tag != "" && !hit.HasTag(req.Tag) {
			continue
		}
		if req.MinImportance > 0 && hit.Importance < req.MinImportance {
			continue
		}
		out = append(out, hit)
	}
	return out
}
