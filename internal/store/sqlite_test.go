package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cold.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	r := testRecord("mem_1_aaaaaaaa", domain.MemoryTypeSemantic)
	r.Tier = domain.TierCold
	r.Review = &domain.ReviewState{IntervalDays: 1, EasinessFactor: 2.5, NextReviewAt: time.Now().UTC()}
	r.Salience = &domain.Salience{Emotional: 3, Novelty: 7}
	r.Links = []string{"mem_0_99999999"}
	require.NoError(t, s.Put(ctx, r))

	got, err := s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Content, got.Content)
	assert.Equal(t, r.Embedding, got.Embedding)
	assert.Equal(t, r.Tags, got.Tags)
	assert.Equal(t, r.Links, got.Links)
	require.NotNil(t, got.Review)
	assert.Equal(t, r.Review.EasinessFactor, got.Review.EasinessFactor)
	require.NotNil(t, got.Salience)
	assert.Equal(t, r.Salience.Novelty, got.Salience.Novelty)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)

	// Upsert overwrites in place.
	r.Content = "updated"
	r.AccessCount = 3
	require.NoError(t, s.Put(ctx, r))
	got, err = s.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)
	assert.Equal(t, 3, got.AccessCount)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, r.ID))
	_, err = s.GetByID(ctx, r.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, r.ID), domain.ErrNotFound)
}

func TestSQLite_ListByFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := testRecord("mem_1_bbbbbbbb", domain.MemoryTypeSemantic)
	older.LastAccessed = now.Add(-2 * time.Hour)
	newer := testRecord("mem_2_cccccccc", domain.MemoryTypeEpisodic)
	newer.LastAccessed = now.Add(-time.Hour)
	tombstone := testRecord("mem_3_dddddddd", domain.MemoryTypeEpisodic)
	deleted := now.Add(-time.Minute)
	tombstone.DeletedAt = &deleted

	for _, r := range []*domain.Record{newer, older, tombstone} {
		require.NoError(t, s.Put(ctx, r))
	}

	out, err := s.ListByFilter(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, older.ID, out[0].ID)

	out, err = s.ListByFilter(ctx, domain.Filter{IncludeTombstones: true})
	require.NoError(t, err)
	assert.Len(t, out, 3)

	st := domain.StateActive
	out, err = s.ListByFilter(ctx, domain.Filter{State: &st, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = s.ListByFilter(ctx, domain.Filter{Tag: "infra"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestSQLite_SearchKeyword(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	a := testRecord("mem_1_eeeeeeee", domain.MemoryTypeSemantic)
	a.Content = "postgres connection pooling guidance"
	b := testRecord("mem_2_ffffffff", domain.MemoryTypeSemantic)
	b.Content = "birthday reminder for saturday"
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	out, err := s.SearchKeyword(ctx, "postgres pooling", 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a.ID, out[0].ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-9)
}

func TestSQLite_SearchVectorFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	a := testRecord("mem_1_00000000", domain.MemoryTypeSemantic)
	a.Embedding = []float32{1, 0, 0}
	b := testRecord("mem_2_11111111", domain.MemoryTypeSemantic)
	b.Embedding = []float32{0, 1, 0}
	require.NoError(t, s.Put(ctx, a))
	require.NoError(t, s.Put(ctx, b))

	out, err := s.SearchVector(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, a.ID, out[0].ID)
	assert.InDelta(t, 1.0, out[0].Score, 1e-6)
}

func TestSQLite_VectorRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125}
	assert.Equal(t, in, decodeVector(encodeVector(in)))
	assert.Nil(t, encodeVector(nil))
	assert.Nil(t, decodeVector(nil))
	assert.Nil(t, decodeVector([]byte{1, 2, 3}))
}
