package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mnemo-ai/mnemo/internal/domain"
	pgvector "github.com/pgvector/pgvector-go"
)

// Postgres is the warm tier backend: durable storage with native vector
// search via pgvector.
type Postgres struct {
	db  *pgxpool.Pool
	dim int
}

func NewPostgres(db *pgxpool.Pool, embeddingDim int) *Postgres {
	return &Postgres{db: db, dim: embeddingDim}
}

// Migrate creates the records table and vector index if missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
			id            TEXT PRIMARY KEY,
			content       TEXT NOT NULL,
			type          TEXT NOT NULL,
			embedding     vector(%d),
			importance    DOUBLE PRECISION NOT NULL DEFAULT 0,
			strength      DOUBLE PRECISION NOT NULL DEFAULT 1,
			access_count  INTEGER NOT NULL DEFAULT 0,
			created_at    TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ,
			last_decayed  TIMESTAMPTZ,
			tags          TEXT[] NOT NULL DEFAULT '{}',
			tier          TEXT NOT NULL DEFAULT 'warm',
			review        JSONB,
			salience      JSONB,
			pii_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
			financial_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			state         TEXT NOT NULL DEFAULT 'active',
			links         TEXT[] NOT NULL DEFAULT '{}',
			deleted_at    TIMESTAMPTZ
		)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_records_state ON records(state)`,
		`CREATE INDEX IF NOT EXISTS idx_records_last_accessed ON records(last_accessed)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate records: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Put(ctx context.Context, r *domain.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is empty", domain.ErrInvalidInput)
	}

	var embedding *pgvector.Vector
	if len(r.Embedding) > 0 {
		v := pgvector.NewVector(r.Embedding)
		embedding = &v
	}

	review, err := marshalNullable(r.Review)
	if err != nil {
		return err
	}
	salience, err := marshalNullable(r.Salience)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO records (id, content, type, embedding, importance, strength, access_count, created_at, last_accessed, last_decayed, tags, tier, review, salience, pii_score, financial_score, state, links, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content, type = EXCLUDED.type, embedding = EXCLUDED.embedding,
			importance = EXCLUDED.importance, strength = EXCLUDED.strength,
			access_count = EXCLUDED.access_count, last_accessed = EXCLUDED.last_accessed,
			last_decayed = EXCLUDED.last_decayed, tags = EXCLUDED.tags, tier = EXCLUDED.tier,
			review = EXCLUDED.review, salience = EXCLUDED.salience,
			pii_score = EXCLUDED.pii_score, financial_score = EXCLUDED.financial_score,
			state = EXCLUDED.state, links = EXCLUDED.links, deleted_at = EXCLUDED.deleted_at`,
		r.ID, r.Content, r.Type, embedding, r.Importance, r.Strength, r.AccessCount,
		r.CreatedAt, nullableTime(r.LastAccessed), nullableTime(r.LastDecayed),
		r.Tags, r.Tier, review, salience,
		r.Privacy.PIIScore, r.Privacy.FinancialScore, r.State, r.Links, r.DeletedAt,
	)
	if err != nil {
		return wrapPgErr(err)
	}
	return nil
}

const recordColumns = `id, content, type, embedding, importance, strength, access_count, created_at, last_accessed, last_decayed, tags, tier, review, salience, pii_score, financial_score, state, links, deleted_at`

func (s *Postgres) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1`, id)

	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapPgErr(err)
	}
	return r, nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return wrapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Postgres) ListByFilter(ctx context.Context, f domain.Filter) ([]domain.Record, error) {
	var conditions []string
	var args []any

	if !f.IncludeTombstones {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if f.Type != nil {
		args = append(args, string(*f.Type))
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.Tier != nil {
		args = append(args, string(*f.Tier))
		conditions = append(conditions, fmt.Sprintf("tier = $%d", len(args)))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	if f.MinImportance > 0 {
		args = append(args, f.MinImportance)
		conditions = append(conditions, fmt.Sprintf("importance >= $%d", len(args)))
	}
	if f.State != nil {
		args = append(args, string(*f.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := ""
	if f.Limit > 0 {
		args = append(args, f.Limit)
		limit = fmt.Sprintf("LIMIT $%d", len(args))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM records %s ORDER BY last_accessed ASC NULLS FIRST, id ASC %s`,
		recordColumns, where, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, wrapPgErr(err)
	}
	return count, nil
}

// SearchVector ranks non-tombstoned records by cosine similarity.
func (s *Postgres) SearchVector(ctx context.Context, embedding []float32, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+`, 1 - (embedding <=> $1) AS score
		 FROM records
		 WHERE embedding IS NOT NULL AND deleted_at IS NULL
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		vec, k,
	)
	if err != nil {
		return nil, wrapPgErr(err)
	}
	defer rows.Close()

	var out []domain.ScoredRecord
	for rows.Next() {
		sr, err := scanScoredRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

func (s *Postgres) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsVectorSearch: true,
		TypicalLatencyMS:     15,
		Durability:           domain.DurabilityDurable,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	r := &domain.Record{}
	var embedding *pgvector.Vector
	var lastAccessed, lastDecayed *time.Time
	var review, salience []byte

	err := row.Scan(&r.ID, &r.Content, &r.Type, &embedding, &r.Importance, &r.Strength,
		&r.AccessCount, &r.CreatedAt, &lastAccessed, &lastDecayed, &r.Tags,
		&r.Tier, &review, &salience, &r.Privacy.PIIScore, &r.Privacy.FinancialScore,
		&r.State, &r.Links, &r.DeletedAt)
	if err != nil {
		return nil, err
	}

	if embedding != nil {
		r.Embedding = embedding.Slice()
	}
	if lastAccessed != nil {
		r.LastAccessed = *lastAccessed
	}
	if lastDecayed != nil {
		r.LastDecayed = *lastDecayed
	}
	if err := unmarshalNullable(review, &r.Review); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(salience, &r.Salience); err != nil {
		return nil, err
	}
	return r, nil
}

func scanScoredRecord(row rowScanner) (*domain.ScoredRecord, error) {
	sr := &domain.ScoredRecord{}
	var embedding *pgvector.Vector
	var lastAccessed, lastDecayed *time.Time
	var review, salience []byte

	err := row.Scan(&sr.ID, &sr.Content, &sr.Type, &embedding, &sr.Importance, &sr.Strength,
		&sr.AccessCount, &sr.CreatedAt, &lastAccessed, &lastDecayed, &sr.Tags,
		&sr.Tier, &review, &salience, &sr.Privacy.PIIScore, &sr.Privacy.FinancialScore,
		&sr.State, &sr.Links, &sr.DeletedAt, &sr.Score)
	if err != nil {
		return nil, err
	}

	if embedding != nil {
		sr.Embedding = embedding.Slice()
	}
	if lastAccessed != nil {
		sr.LastAccessed = *lastAccessed
	}
	if lastDecayed != nil {
		sr.LastDecayed = *lastDecayed
	}
	if err := unmarshalNullable(review, &sr.Review); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(salience, &sr.Salience); err != nil {
		return nil, err
	}
	return sr, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch x := v.(type) {
	case *domain.ReviewState:
		if x == nil {
			return nil, nil
		}
	case *domain.Salience:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal field: %w", err)
	}
	return b, nil
}

func unmarshalNullable[T any](b []byte, dst **T) error {
	if len(b) == 0 {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal field: %w", err)
	}
	*dst = v
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func wrapPgErr(err error) error {
	return fmt.Errorf("%w: postgres: %v", domain.ErrBackendUnavailable, err)
}
