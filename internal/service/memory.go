package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"go.uber.org/zap"
)

// Durability outcomes reported by Create.
const (
	DurabilityStored  = "stored"
	DurabilityPending = "pending"
)

// CreateRequest is the Create input.
type CreateRequest struct {
	Content  string           `json:"content"`
	Type     string           `json:"type"`
	Tags     []string         `json:"tags,omitempty"`
	Salience *domain.Salience `json:"salience,omitempty"`
}

// CreateResponse reports where the record landed. Durability is "pending"
// when every tier was down and the record went to the overflow log instead.
type CreateResponse struct {
	Record     *domain.Record `json:"record"`
	Tier       domain.Tier    `json:"tier,omitempty"`
	TierReason string         `json:"tier_reason,omitempty"`
	Durability string         `json:"durability"`
}

// UpdateRequest carries the mutable fields. Nil means leave unchanged.
type UpdateRequest struct {
	Content  *string          `json:"content,omitempty"`
	Tags     []string         `json:"tags,omitempty"`
	Salience *domain.Salience `json:"salience,omitempty"`
}

// MemoryService is the public facade: create, get, search, update, delete.
// It owns scoring on write, reinforcement on read, and the overflow fallback.
type MemoryService struct {
	router   *Router
	tiers    Tiers
	scorer   *scoring.Engine
	embedder domain.Embedder
	overflow *OverflowLog
	locks    *lockTable
	access   *accessTracker
	cache    *embedCache
	stats    *Stats
	logger   *zap.Logger

	now func() time.Time
}

func NewMemoryService(router *Router, tiers Tiers, scorer *scoring.Engine, embedder domain.Embedder, overflow *OverflowLog, stats *Stats, cacheBytes int, logger *zap.Logger) *MemoryService {
	if stats == nil {
		stats = NewStats()
	}
	return &MemoryService{
		router:   router,
		tiers:    tiers,
		scorer:   scorer,
		embedder: embedder,
		overflow: overflow,
		locks:    newLockTable(),
		access:   newAccessTracker(),
		cache:    newEmbedCache(cacheBytes),
		stats:    stats,
		logger:   logger,
		now:      time.Now,
	}
}

// Collaborators exposes the internals the engines share.
func (s *MemoryService) Collaborators() (*lockTable, *accessTracker) {
	return s.locks, s.access
}

func (s *MemoryService) Stats() *Stats {
	if s.stats == nil {
		s.stats = NewStats()
	}
	return s.stats
}

// Create validates, scores, embeds, and stores a new record. Storage failures
// across every tier fall back to the overflow log so the write is never lost.
func (s *MemoryService) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	started := s.now()
	defer func() { s.stats.ObserveLatency("create", s.now().Sub(started)) }()

	if !domain.ValidMemoryType(req.Type) {
		return nil, fmt.Errorf("%w: unknown memory type %q", domain.ErrInvalidInput, req.Type)
	}
	typ := domain.MemoryType(req.Type)
	if err := domain.ValidateContent(typ, req.Content); err != nil {
		return nil, err
	}

	now := s.now()
	r := &domain.Record{
		ID:          domain.NewID(now),
		Content:     req.Content,
		Type:        typ,
		Tags:        req.Tags,
		Salience:    req.Salience,
		Strength:    1.0,
		State:       domain.StateActive,
		CreatedAt:   now,
		LastDecayed: now,
	}
	r.Privacy = scoring.DetectPrivacy(req.Content, req.Tags)

	imp, err := s.scorer.Importance(scoring.ImportanceInputs{Salience: req.Salience})
	if err != nil {
		return nil, err
	}
	r.Importance = imp
	if imp >= reviewMinImportance {
		InitReview(r, now)
	}

	if vec, err := s.embedder.Embed(ctx, req.Content); err != nil {
		// A record without an embedding still stores and keyword-searches.
		s.logger.Warn("embed failed, storing without embedding",
			zap.String("id", r.ID), zap.Error(err))
	} else {
		r.Embedding = vec
		s.cache.Put(r.ID, 0, vec)
	}

	tier, err := s.router.Write(ctx, r)
	if err != nil {
		if stored, fallbackTier := s.writeFallback(ctx, r, tier); stored {
			tier = fallbackTier
		} else {
			if oerr := s.overflow.Append(r); oerr != nil {
				return nil, fmt.Errorf("all tiers failed and overflow append failed: %w", oerr)
			}
			s.logger.Warn("record deferred to overflow log", zap.String("id", r.ID))
			return &CreateResponse{Record: r, Durability: DurabilityPending}, nil
		}
	}

	s.access.Record(r.ID, now)
	return &CreateResponse{
		Record:     r,
		Tier:       tier,
		TierReason: domain.TierReason(r),
		Durability: DurabilityStored,
	}, nil
}

// writeFallback tries the remaining tiers in durability order.
func (s *MemoryService) writeFallback(ctx context.Context, r *domain.Record, failed domain.Tier) (bool, domain.Tier) {
	for _, tier := range []domain.Tier{domain.TierWarm, domain.TierCold, domain.TierHot} {
		if tier == failed {
			continue
		}
		r.Tier = tier
		if err := s.tiers.Backend(tier).Put(ctx, r); err == nil {
			s.logger.Warn("record stored in fallback tier",
				zap.String("id", r.ID),
				zap.String("intended", string(failed)),
				zap.String("actual", string(tier)))
			return true, tier
		}
	}
	return false, ""
}

// Get retrieves a record by id and reinforces it: strength boost, access
// count, recomputed importance, and a completed review if one was due.
func (s *MemoryService) Get(ctx context.Context, id string) (*domain.Record, error) {
	started := s.now()
	defer func() { s.stats.ObserveLatency("get", s.now().Sub(started)) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	r, tier, err := s.router.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Tombstoned() {
		return nil, domain.ErrPrivacyExpired
	}

	now := s.now()
	s.scorer.Reinforce(r, now)
	// Reinforcement can pull a weak or archived record back above a state
	// threshold; the state follows the new strength right away.
	r.State = domain.StateForStrength(r.Strength)
	if r.Review != nil && !now.Before(r.Review.NextReviewAt) {
		RecordReview(r, now)
	}
	if imp, err := s.scorer.Importance(scoring.ImportanceInputs{
		AgeDays:     r.AgeDays(now),
		AccessCount: r.AccessCount,
		Salience:    r.Salience,
	}); err == nil {
		r.Importance = imp
	}

	if err := s.tiers.Backend(tier).Put(ctx, r); err != nil {
		// Reinforcement is best-effort; the read still succeeds.
		s.logger.Warn("reinforcement write failed",
			zap.String("id", id), zap.Error(err))
	}
	s.access.Record(id, now)
	return r, nil
}

// Search embeds the query and fans out across tiers via the router.
func (s *MemoryService) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	started := s.now()
	defer func() { s.stats.ObserveLatency("search", s.now().Sub(started)) }()

	if req.Query == "" && len(req.Embedding) == 0 {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}

	if req.Query != "" && len(req.Embedding) == 0 {
		if vec, ok := s.cache.Get("q:"+req.Query, 0); ok {
			req.Embedding = vec
		} else if vec, err := s.embedder.Embed(ctx, req.Query); err == nil {
			req.Embedding = vec
			s.cache.Put("q:"+req.Query, 0, vec)
		} else {
			s.logger.Warn("query embed failed, keyword search only", zap.Error(err))
		}
	}

	return s.router.Search(ctx, req)
}

// Update patches the mutable fields. A content change re-validates,
// re-detects privacy, re-embeds, and re-scores.
func (s *MemoryService) Update(ctx context.Context, id string, req UpdateRequest) (*domain.Record, error) {
	started := s.now()
	defer func() { s.stats.ObserveLatency("update", s.now().Sub(started)) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	r, tier, err := s.router.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Tombstoned() {
		return nil, domain.ErrPrivacyExpired
	}

	now := s.now()
	if req.Tags != nil {
		r.Tags = req.Tags
	}
	if req.Salience != nil {
		r.Salience = req.Salience
	}

	if req.Content != nil && *req.Content != r.Content {
		if err := domain.ValidateContent(r.Type, *req.Content); err != nil {
			return nil, err
		}
		r.Content = *req.Content
		r.Privacy = scoring.DetectPrivacy(r.Content, r.Tags)

		if vec, err := s.embedder.Embed(ctx, r.Content); err != nil {
			s.logger.Warn("re-embed failed, keeping record without embedding",
				zap.String("id", id), zap.Error(err))
			r.Embedding = nil
			s.cache.Delete(id)
		} else {
			r.Embedding = vec
			s.cache.Put(id, r.AccessCount, vec)
		}
	}

	if imp, err := s.scorer.Importance(scoring.ImportanceInputs{
		AgeDays:     r.AgeDays(now),
		AccessCount: r.AccessCount,
		Salience:    r.Salience,
	}); err == nil {
		r.Importance = imp
	}

	if err := s.tiers.Backend(tier).Put(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete tombstones by default. With force it removes the record from every
// tier immediately, protections permitting none: an explicit forced delete
// always wins.
func (s *MemoryService) Delete(ctx context.Context, id string, force bool) error {
	started := s.now()
	defer func() { s.stats.ObserveLatency("delete", s.now().Sub(started)) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	if force {
		found := false
		for _, tier := range domain.AllTiers() {
			err := s.tiers.Backend(tier).Delete(ctx, id)
			if err == nil {
				found = true
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}
		if !found {
			return domain.ErrNotFound
		}
		s.cache.Delete(id)
		s.access.Forget(id)
		return nil
	}

	r, tier, err := s.router.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Tombstoned() {
		return nil
	}

	now := s.now()
	r.DeletedAt = &now
	r.State = domain.StateDeleted
	return s.tiers.Backend(tier).Put(ctx, r)
}
