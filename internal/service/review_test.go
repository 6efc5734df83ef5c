package service

import (
	"context"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReview_Schedule(t *testing.T) {
	now := time.Now()
	r := newServiceRecord(t, "mem_1_aaaaaaaa", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.5
	})

	InitReview(r, now)
	require.NotNil(t, r.Review)
	assert.InDelta(t, 2.15, r.Review.EasinessFactor, 1e-9)
	assert.Equal(t, 1.0, r.Review.IntervalDays)
	assert.Equal(t, now.Add(24*time.Hour).Unix(), r.Review.NextReviewAt.Unix())

	// Second review: interval jumps to the 6-day floor, due around day 7.
	day1 := now.Add(24 * time.Hour)
	RecordReview(r, day1)
	assert.Equal(t, 2, r.Review.ReviewCount)
	assert.Equal(t, 6.0, r.Review.IntervalDays)
	assert.Equal(t, day1.Add(6*24*time.Hour).Unix(), r.Review.NextReviewAt.Unix())

	// Third review: interval multiplies by the easiness factor.
	day7 := day1.Add(6 * 24 * time.Hour)
	RecordReview(r, day7)
	assert.Equal(t, 3, r.Review.ReviewCount)
	assert.InDelta(t, 12.9, r.Review.IntervalDays, 1e-9)
}

func TestReview_EFClamped(t *testing.T) {
	now := time.Now()

	low := newServiceRecord(t, "mem_1_bbbbbbbb", domain.TierWarm, func(r *domain.Record) { r.Importance = 0 })
	InitReview(low, now)
	assert.Equal(t, 1.3, low.Review.EasinessFactor)

	high := newServiceRecord(t, "mem_2_cccccccc", domain.TierWarm, func(r *domain.Record) { r.Importance = 1 })
	InitReview(high, now)
	assert.Equal(t, 3.0, high.Review.EasinessFactor)
}

func TestReview_IntervalMonotonic(t *testing.T) {
	now := time.Now()
	r := newServiceRecord(t, "mem_1_dddddddd", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.5
	})
	InitReview(r, now)

	prev := r.Review.IntervalDays
	prevCount := r.Review.ReviewCount
	for i := 0; i < 10; i++ {
		now = r.Review.NextReviewAt
		RecordReview(r, now)
		assert.GreaterOrEqual(t, r.Review.IntervalDays, prev)
		assert.Greater(t, r.Review.ReviewCount, prevCount)
		prev = r.Review.IntervalDays
		prevCount = r.Review.ReviewCount
	}
}

func TestReview_Priority(t *testing.T) {
	now := time.Now()

	r := newServiceRecord(t, "mem_1_eeeeeeee", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.5
		r.Strength = 0.5
	})
	InitReview(r, now)

	// Not yet due: no overdue component.
	assert.InDelta(t, 0.3*0.5+0.3*0.5, Priority(r, now), 1e-9)

	// Overdue component grows with lateness and caps at 1.
	overdue := Priority(r, now.Add(10*24*time.Hour))
	veryOverdue := Priority(r, now.Add(100*24*time.Hour))
	assert.Greater(t, overdue, Priority(r, now))
	assert.GreaterOrEqual(t, veryOverdue, overdue)
	assert.LessOrEqual(t, veryOverdue, 0.4+0.3*0.5+0.3*0.5+1e-9)

	// Context trigger boosts a due record by half.
	due := now.Add(2 * 24 * time.Hour)
	assert.InDelta(t, 1.5*Priority(r, due), ContextPriority(r, due), 1e-9)

	// No review state means no priority.
	bare := newServiceRecord(t, "mem_2_ffffffff", domain.TierWarm, nil)
	assert.Equal(t, 0.0, Priority(bare, now))
}

func TestReview_DueNowOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s := NewReviewScheduler(tiers, newLockTable(), zap.NewNop())
	now := time.Now()

	urgent := newServiceRecord(t, "mem_1_00000000", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.9
		r.Strength = 0.2
		r.Review = &domain.ReviewState{IntervalDays: 1, EasinessFactor: 2, NextReviewAt: now.Add(-5 * 24 * time.Hour), ReviewCount: 1}
	})
	mild := newServiceRecord(t, "mem_2_11111111", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.3
		r.Strength = 0.9
		r.Review = &domain.ReviewState{IntervalDays: 1, EasinessFactor: 2, NextReviewAt: now.Add(-time.Hour), ReviewCount: 1}
	})
	notDue := newServiceRecord(t, "mem_3_22222222", domain.TierWarm, func(r *domain.Record) {
		r.Review = &domain.ReviewState{IntervalDays: 1, EasinessFactor: 2, NextReviewAt: now.Add(24 * time.Hour), ReviewCount: 1}
	})
	for _, r := range []*domain.Record{mild, urgent, notDue} {
		require.NoError(t, tiers.Warm.Put(ctx, r))
	}

	due, err := s.DueNow(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, urgent.ID, due[0].ID)
	assert.Equal(t, mild.ID, due[1].ID)
}

func TestReview_RefreshInitializesImportantRecords(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	s := NewReviewScheduler(tiers, newLockTable(), zap.NewNop())
	now := time.Now()

	important := newServiceRecord(t, "mem_1_33333333", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.7
	})
	trivial := newServiceRecord(t, "mem_2_44444444", domain.TierWarm, func(r *domain.Record) {
		r.Importance = 0.2
	})
	require.NoError(t, tiers.Warm.Put(ctx, important))
	require.NoError(t, tiers.Warm.Put(ctx, trivial))

	scheduled := s.Refresh(ctx, now)
	assert.Equal(t, 1, scheduled)

	got, err := tiers.Warm.GetByID(ctx, important.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Review)

	got, err = tiers.Warm.GetByID(ctx, trivial.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Review)

	// Idempotent.
	assert.Equal(t, 0, s.Refresh(ctx, now))
}
