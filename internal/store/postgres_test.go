package store

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRow feeds canned column values to the scan helpers, standing in for a
// live pgx row.
type stubRow struct {
	values []any
}

func (s stubRow) Scan(dest ...any) error {
	if len(dest) != len(s.values) {
		return fmt.Errorf("scan arity: %d targets for %d columns", len(dest), len(s.values))
	}
	for i, d := range dest {
		if s.values[i] == nil {
			continue
		}
		rv := reflect.ValueOf(d).Elem()
		rv.Set(reflect.ValueOf(s.values[i]).Convert(rv.Type()))
	}
	return nil
}

func stubRecordValues(now time.Time, embedding *pgvector.Vector) []any {
	return []any{
		"mem_1_aaaaaaaa",         // id
		"payload",                // content
		domain.MemoryTypeSemantic, // type
		embedding,                // embedding
		0.7,                      // importance
		0.9,                      // strength
		3,                        // access_count
		now,                      // created_at
		&now,                     // last_accessed
		&now,                     // last_decayed
		[]string{"infra"},        // tags
		domain.TierWarm,          // tier
		nil,                      // review
		nil,                      // salience
		0.2,                      // pii_score
		0.1,                      // financial_score
		domain.StateActive,       // state
		[]string{"mem_2_bbbbbbbb"}, // links
		nil, // deleted_at
	}
}

func TestPostgres_RecordColumnsCoverEveryField(t *testing.T) {
	cols := strings.Split(recordColumns, ", ")
	assert.Len(t, cols, 19)
	assert.Contains(t, cols, "embedding")
	assert.Contains(t, cols, "links")
	assert.Contains(t, cols, "deleted_at")
}

func TestPostgres_ScanRecordSurfacesEmbedding(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})

	r, err := scanRecord(stubRow{values: stubRecordValues(now, &vec)})
	require.NoError(t, err)

	assert.Equal(t, "mem_1_aaaaaaaa", r.ID)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, r.Embedding)
	assert.Equal(t, 3, r.AccessCount)
	assert.Equal(t, now, r.LastAccessed)
	assert.Equal(t, []string{"infra"}, r.Tags)
	assert.Equal(t, []string{"mem_2_bbbbbbbb"}, r.Links)
	assert.Equal(t, domain.StateActive, r.State)
	assert.InDelta(t, 0.2, r.Privacy.PIIScore, 1e-9)
	assert.Nil(t, r.DeletedAt)
}

func TestPostgres_ScanRecordNullEmbedding(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	r, err := scanRecord(stubRow{values: stubRecordValues(now, nil)})
	require.NoError(t, err)
	assert.Nil(t, r.Embedding)
}

func TestPostgres_ScanScoredRecordCarriesScore(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.3})

	values := append(stubRecordValues(now, &vec), 0.83)
	sr, err := scanScoredRecord(stubRow{values: values})
	require.NoError(t, err)

	assert.Equal(t, []float32{0.1, 0.2, 0.3}, sr.Embedding)
	assert.InDelta(t, 0.83, sr.Score, 1e-9)
}
