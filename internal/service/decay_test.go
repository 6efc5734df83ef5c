package service

import (
	"context"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDecay(tiers Tiers) *DecayEngine {
	return NewDecayEngine(tiers, scoring.NewEngine(scoring.Weights{}), newLockTable(), 1000, zap.NewNop())
}

func TestDecay_ReducesStrengthAndUpdatesState(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	d := newTestDecay(tiers)
	now := time.Now()

	// Episodic, never accessed, importance 0: rate 0.15/day. Ten days
	// drops strength from 1.0 to -0.5, clamped to 0 and state deleted.
	r := newServiceRecord(t, "mem_1_aaaaaaaa", domain.TierWarm, func(r *domain.Record) {
		r.Type = domain.MemoryTypeEpisodic
		r.Importance = 0
		r.LastAccessed = time.Time{}
		r.CreatedAt = now.Add(-10 * 24 * time.Hour)
		r.LastDecayed = now.Add(-10 * 24 * time.Hour)
	})
	require.NoError(t, tiers.Warm.Put(ctx, r))

	res, changed := d.Run(ctx, now)
	assert.Equal(t, 1, res.Decayed)
	assert.Equal(t, 1, res.StateChanged)
	assert.Equal(t, []string{r.ID}, changed)

	got, err := tiers.Warm.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Strength)
	assert.Equal(t, domain.StateDeleted, got.State)
	assert.True(t, got.Tombstoned())
	assert.Equal(t, now.Unix(), got.LastDecayed.Unix())
}

func TestDecay_DeletedStateIsTombstoned(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	d := newTestDecay(tiers)
	now := time.Now()

	r := newServiceRecord(t, "mem_1_dddddddd", domain.TierCold, func(r *domain.Record) {
		r.Type = domain.MemoryTypeEpisodic
		r.Importance = 0
		r.LastAccessed = time.Time{}
		r.CreatedAt = now.Add(-10 * 24 * time.Hour)
		r.LastDecayed = now.Add(-10 * 24 * time.Hour)
	})
	require.NoError(t, tiers.Cold.Put(ctx, r))

	d.Run(ctx, now)

	got, err := tiers.Cold.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.True(t, got.Tombstoned())

	// Tombstones are excluded from listings and purged by the forgetting
	// pass once the grace window elapses.
	listed, err := tiers.Cold.ListByFilter(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	f := NewForgettingEngine(tiers, newLockTable(), 7*24*time.Hour, zap.NewNop())
	res := f.Run(ctx, now.Add(8*24*time.Hour))
	assert.Equal(t, 1, res.Purged)
	_, err = tiers.Cold.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecay_NeverForgetBottomsOutAtArchived(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	d := newTestDecay(tiers)
	now := time.Now()

	r := newServiceRecord(t, "mem_1_eeeeeeee", domain.TierCold, func(r *domain.Record) {
		r.Type = domain.MemoryTypeEpisodic
		r.Importance = 0
		r.Strength = 0.06
		r.LastAccessed = time.Time{}
		r.CreatedAt = now.Add(-10 * 24 * time.Hour)
		r.LastDecayed = now.Add(-10 * 24 * time.Hour)
		r.AddTag(domain.TagProtected)
	})
	require.NoError(t, tiers.Cold.Put(ctx, r))

	d.Run(ctx, now)

	got, err := tiers.Cold.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, got.State)
	assert.Equal(t, domain.ArchivedThreshold, got.Strength)
	assert.False(t, got.Tombstoned())

	// Repeated passes hold the floor.
	d.Run(ctx, now.Add(48*time.Hour))
	got, err = tiers.Cold.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateArchived, got.State)
	assert.False(t, got.Tombstoned())
}

func TestDecay_SkipsRecentlyDecayed(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	d := newTestDecay(tiers)
	now := time.Now()

	r := newServiceRecord(t, "mem_1_bbbbbbbb", domain.TierWarm, func(r *domain.Record) {
		r.LastDecayed = now.Add(-time.Hour)
	})
	require.NoError(t, tiers.Warm.Put(ctx, r))

	res, _ := d.Run(ctx, now)
	assert.Equal(t, 1, res.Examined)
	assert.Equal(t, 0, res.Decayed)
}

func TestDecay_StateLadder(t *testing.T) {
	tests := []struct {
		strength float64
		want     domain.MemoryState
	}{
		{0.5, domain.StateActive},
		{0.30, domain.StateActive},
		{0.29, domain.StateWeak},
		{0.15, domain.StateWeak},
		{0.10, domain.StateArchived},
		{0.05, domain.StateArchived},
		{0.04, domain.StateDeleted},
		{0.0, domain.StateDeleted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.StateForStrength(tt.strength), "strength %v", tt.strength)
	}
}
