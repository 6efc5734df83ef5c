package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlacement_DesiredTier(t *testing.T) {
	tiers := newTestTiers()
	access := newAccessTracker()
	p := newTestPlacement(tiers, access)
	now := time.Now()

	t.Run("cold promotes on weekly accesses", func(t *testing.T) {
		r := newServiceRecord(t, "mem_1_aaaaaaaa", domain.TierCold, nil)
		for i := 0; i < 3; i++ {
			access.Record(r.ID, now.Add(-time.Duration(i)*24*time.Hour))
		}
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierWarm, dest)
	})

	t.Run("cold stays without traffic", func(t *testing.T) {
		r := newServiceRecord(t, "mem_2_bbbbbbbb", domain.TierCold, nil)
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})

	t.Run("warm promotes on daily accesses and strength", func(t *testing.T) {
		r := newServiceRecord(t, "mem_3_cccccccc", domain.TierWarm, func(r *domain.Record) {
			r.Strength = 0.8
		})
		for i := 0; i < 5; i++ {
			access.Record(r.ID, now.Add(-time.Duration(i)*time.Hour))
		}
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierHot, dest)
	})

	t.Run("warm with weak strength stays despite traffic", func(t *testing.T) {
		r := newServiceRecord(t, "mem_4_dddddddd", domain.TierWarm, func(r *domain.Record) {
			r.Strength = 0.5
		})
		for i := 0; i < 5; i++ {
			access.Record(r.ID, now.Add(-time.Duration(i)*time.Hour))
		}
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})

	t.Run("warm demotes on low strength", func(t *testing.T) {
		r := newServiceRecord(t, "mem_5_eeeeeeee", domain.TierWarm, func(r *domain.Record) {
			r.Strength = 0.2
		})
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierCold, dest)
	})

	t.Run("warm demotes when old and untouched", func(t *testing.T) {
		r := newServiceRecord(t, "mem_6_ffffffff", domain.TierWarm, func(r *domain.Record) {
			r.CreatedAt = now.Add(-100 * 24 * time.Hour)
		})
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierCold, dest)
	})

	t.Run("hot demotes after ttl", func(t *testing.T) {
		r := newServiceRecord(t, "mem_7_00000000", domain.TierHot, func(r *domain.Record) {
			r.LastAccessed = now.Add(-7 * time.Hour)
		})
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierWarm, dest)
	})

	t.Run("hot ttl extends per access", func(t *testing.T) {
		r := newServiceRecord(t, "mem_8_11111111", domain.TierHot, func(r *domain.Record) {
			r.LastAccessed = now.Add(-7 * time.Hour)
			r.AccessCount = 2
		})
		// 6h base + 2*3h = 12h allowance.
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})

	t.Run("hot ttl caps at a day", func(t *testing.T) {
		r := newServiceRecord(t, "mem_9_22222222", domain.TierHot, func(r *domain.Record) {
			r.LastAccessed = now.Add(-25 * time.Hour)
			r.AccessCount = 100
		})
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierWarm, dest)
	})

	t.Run("hot demotes on a quiet window", func(t *testing.T) {
		// TTL still alive, but two accesses in the trailing window is
		// below the residency bar.
		r := newServiceRecord(t, "mem_b_44444444", domain.TierHot, func(r *domain.Record) {
			r.CreatedAt = now.Add(-48 * time.Hour)
			r.LastAccessed = now.Add(-time.Hour)
		})
		for i := 0; i < 2; i++ {
			access.Record(r.ID, now.Add(-time.Duration(i+1)*time.Hour))
		}
		dest, move := p.DesiredTier(r, now)
		require.True(t, move)
		assert.Equal(t, domain.TierWarm, dest)
	})

	t.Run("hot stays on a busy window", func(t *testing.T) {
		r := newServiceRecord(t, "mem_c_55555555", domain.TierHot, func(r *domain.Record) {
			r.CreatedAt = now.Add(-48 * time.Hour)
			r.LastAccessed = now.Add(-time.Hour)
		})
		for i := 0; i < 5; i++ {
			access.Record(r.ID, now.Add(-time.Duration(i)*time.Hour))
		}
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})

	t.Run("fresh hot writes exempt from the traffic bar", func(t *testing.T) {
		r := newServiceRecord(t, "mem_d_66666666", domain.TierHot, nil)
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})

	t.Run("session records pinned hot", func(t *testing.T) {
		r := newServiceRecord(t, "mem_a_33333333", domain.TierHot, func(r *domain.Record) {
			r.LastAccessed = now.Add(-48 * time.Hour)
			r.AddTag(domain.TagSessionActive)
		})
		_, move := p.DesiredTier(r, now)
		assert.False(t, move)
	})
}

func TestPlacement_MovePutVerifyDelete(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	p := newTestPlacement(tiers, newAccessTracker())

	r := newServiceRecord(t, "mem_1_aaaaaaaa", domain.TierCold, nil)
	require.NoError(t, tiers.Cold.Put(ctx, r))

	require.NoError(t, p.Move(ctx, r, domain.TierWarm))
	assert.Equal(t, domain.TierWarm, r.Tier)

	got, err := tiers.Warm.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierWarm, got.Tier)

	_, err = tiers.Cold.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlacement_MoveFailedDestination(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	tiers.Warm = &failingBackend{}
	p := newTestPlacement(tiers, newAccessTracker())

	r := newServiceRecord(t, "mem_1_bbbbbbbb", domain.TierCold, nil)
	require.NoError(t, tiers.Cold.Put(ctx, r))

	err := p.Move(ctx, r, domain.TierWarm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBackendUnavailable))

	// Source copy untouched.
	_, err = tiers.Cold.GetByID(ctx, r.ID)
	assert.NoError(t, err)
}

func TestPlacement_ReconcileRemovesStaleCopies(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	p := newTestPlacement(tiers, newAccessTracker())

	// Simulate an interrupted move: record claims warm and exists in both
	// warm and cold.
	r := newServiceRecord(t, "mem_1_cccccccc", domain.TierWarm, nil)
	require.NoError(t, tiers.Warm.Put(ctx, r))
	require.NoError(t, tiers.Cold.Put(ctx, r))

	cleaned := p.Reconcile(ctx)
	assert.Equal(t, 1, cleaned)

	_, err := tiers.Cold.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = tiers.Warm.GetByID(ctx, r.ID)
	assert.NoError(t, err)
}

func TestPlacement_RunAppliesQueuedPromotions(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers()
	p := newTestPlacement(tiers, newAccessTracker())

	r := newServiceRecord(t, "mem_1_dddddddd", domain.TierCold, nil)
	require.NoError(t, tiers.Cold.Put(ctx, r))

	res := p.Run(ctx, time.Now(), map[string]domain.Tier{r.ID: domain.TierWarm})
	assert.Equal(t, 1, res.Promoted)

	got, err := tiers.Warm.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierWarm, got.Tier)
}
