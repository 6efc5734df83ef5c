package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"go.uber.org/zap"
)

// Spaced-repetition constants.
const (
	reviewInitialIntervalDays = 1.0
	reviewSecondIntervalMin   = 6.0
	reviewEFBase              = 1.3
	reviewEFSlope             = 1.7
	reviewEFMax               = 3.0
	reviewOverdueCapDays      = 30.0
	reviewDueBoost            = 1.5

	// Records at least this important are worth scheduling.
	reviewMinImportance = 0.5
)

// ReviewScheduler maintains spaced-repetition state so important memories
// surface before they decay away.
type ReviewScheduler struct {
	tiers  Tiers
	locks  *lockTable
	logger *zap.Logger
}

func NewReviewScheduler(tiers Tiers, locks *lockTable, logger *zap.Logger) *ReviewScheduler {
	return &ReviewScheduler{tiers: tiers, locks: locks, logger: logger}
}

// InitReview schedules the first review one day out. The easiness factor
// scales with importance: important memories earn longer intervals sooner.
func InitReview(r *domain.Record, now time.Time) {
	ef := reviewEFBase + reviewEFSlope*r.Importance
	if ef > reviewEFMax {
		ef = reviewEFMax
	}
	r.Review = &domain.ReviewState{
		IntervalDays:   reviewInitialIntervalDays,
		EasinessFactor: ef,
		NextReviewAt:   now.Add(24 * time.Hour),
		ReviewCount:    1,
	}
}

// RecordReview advances the schedule after a completed review. Intervals are
// monotonically non-decreasing.
func RecordReview(r *domain.Record, now time.Time) {
	if r.Review == nil {
		InitReview(r, now)
		return
	}
	rv := r.Review
	rv.ReviewCount++
	switch {
	case rv.ReviewCount == 2:
		rv.IntervalDays = math.Max(reviewSecondIntervalMin, rv.IntervalDays*rv.EasinessFactor)
	case rv.ReviewCount >= 3:
		rv.IntervalDays *= rv.EasinessFactor
	}
	rv.NextReviewAt = now.Add(time.Duration(rv.IntervalDays * 24 * float64(time.Hour)))
}

// Priority ranks a scheduled record for review: how overdue it is, how
// important, and how far its strength has slipped.
func Priority(r *domain.Record, now time.Time) float64 {
	if r.Review == nil {
		return 0
	}
	overdueDays := now.Sub(r.Review.NextReviewAt).Hours() / 24
	overdue := 0.0
	if overdueDays > 0 {
		overdue = math.Min(1, math.Log(1+overdueDays)/math.Log(reviewOverdueCapDays))
	}
	return 0.4*overdue + 0.3*r.Importance + 0.3*(1-r.Strength)
}

// ContextPriority boosts due records when review is triggered by relevant
// context rather than the schedule alone.
func ContextPriority(r *domain.Record, now time.Time) float64 {
	p := Priority(r, now)
	if r.Review != nil && !now.Before(r.Review.NextReviewAt) {
		return reviewDueBoost * p
	}
	return p
}

// QueryRank blends search relevance with review priority.
func QueryRank(relevance, priority float64) float64 {
	return 0.6*relevance + 0.4*priority
}

// DueNow returns up to limit due records across all tiers, highest priority
// first.
func (s *ReviewScheduler) DueNow(ctx context.Context, now time.Time, limit int) ([]domain.Record, error) {
	var due []domain.Record
	for _, tier := range domain.AllTiers() {
		records, err := s.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{})
		if err != nil {
			s.logger.Warn("review scan failed",
				zap.String("tier", string(tier)), zap.Error(err))
			continue
		}
		for _, r := range records {
			if r.Review != nil && !now.Before(r.Review.NextReviewAt) {
				due = append(due, r)
			}
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := Priority(&due[i], now), Priority(&due[j], now)
		if pi == pj {
			return due[i].ID < due[j].ID
		}
		return pi > pj
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Refresh initializes review state for qualifying records that lack it.
// Returns the number of records scheduled.
func (s *ReviewScheduler) Refresh(ctx context.Context, now time.Time) int {
	scheduled := 0
	for _, tier := range domain.AllTiers() {
		records, err := s.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{MinImportance: reviewMinImportance})
		if err != nil {
			continue
		}
		for i := range records {
			if ctx.Err() != nil {
				return scheduled
			}
			r := &records[i]
			if r.Review != nil {
				continue
			}
			unlock := s.locks.Lock(r.ID)
			InitReview(r, now)
			if err := s.tiers.Backend(tier).Put(ctx, r); err != nil {
				s.logger.Warn("review init write failed",
					zap.String("id", r.ID), zap.Error(err))
			} else {
				scheduled++
			}
			unlock()
		}
	}
	return scheduled
}
