package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	_ "modernc.org/sqlite"
)

// vectorFallbackWindow bounds the brute-force cosine scan when the cold tier
// is asked for vector search it has no index for.
const vectorFallbackWindow = 512

// SQLite is the cold tier backend: durable, cheap, keyword search only.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cold db: %w", err)
	}

	// Single connection avoids write contention for our scale.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cold db: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id              TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL,
			embedding       BLOB,
			importance      REAL NOT NULL DEFAULT 0,
			strength        REAL NOT NULL DEFAULT 1,
			access_count    INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			last_accessed   INTEGER NOT NULL DEFAULT 0,
			last_decayed    INTEGER NOT NULL DEFAULT 0,
			tags            TEXT NOT NULL DEFAULT '[]',
			tier            TEXT NOT NULL DEFAULT 'cold',
			review          TEXT,
			salience        TEXT,
			pii_score       REAL NOT NULL DEFAULT 0,
			financial_score REAL NOT NULL DEFAULT 0,
			state           TEXT NOT NULL DEFAULT 'active',
			links           TEXT NOT NULL DEFAULT '[]',
			deleted_at      INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_records_state ON records(state);
		CREATE INDEX IF NOT EXISTS idx_records_last_accessed ON records(last_accessed);
	`)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Put(ctx context.Context, r *domain.Record) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is empty", domain.ErrInvalidInput)
	}

	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	links, err := json.Marshal(r.Links)
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}

	var review, salience any
	if r.Review != nil {
		b, err := json.Marshal(r.Review)
		if err != nil {
			return fmt.Errorf("marshal review: %w", err)
		}
		review = string(b)
	}
	if r.Salience != nil {
		b, err := json.Marshal(r.Salience)
		if err != nil {
			return fmt.Errorf("marshal salience: %w", err)
		}
		salience = string(b)
	}

	var deletedAt any
	if r.DeletedAt != nil {
		deletedAt = r.DeletedAt.UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, content, type, embedding, importance, strength, access_count, created_at, last_accessed, last_decayed, tags, tier, review, salience, pii_score, financial_score, state, links, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content, type = excluded.type, embedding = excluded.embedding,
			importance = excluded.importance, strength = excluded.strength,
			access_count = excluded.access_count, last_accessed = excluded.last_accessed,
			last_decayed = excluded.last_decayed, tags = excluded.tags, tier = excluded.tier,
			review = excluded.review, salience = excluded.salience,
			pii_score = excluded.pii_score, financial_score = excluded.financial_score,
			state = excluded.state, links = excluded.links, deleted_at = excluded.deleted_at`,
		r.ID, r.Content, string(r.Type), encodeVector(r.Embedding),
		r.Importance, r.Strength, r.AccessCount,
		r.CreatedAt.UnixMilli(), r.LastAccessed.UnixMilli(), r.LastDecayed.UnixMilli(),
		string(tags), string(r.Tier), review, salience,
		r.Privacy.PIIScore, r.Privacy.FinancialScore, string(r.State), string(links), deletedAt,
	)
	if err != nil {
		return wrapSQLiteErr(err)
	}
	return nil
}

const sqliteColumns = `id, content, type, embedding, importance, strength, access_count, created_at, last_accessed, last_decayed, tags, tier, review, salience, pii_score, financial_score, state, links, deleted_at`

func (s *SQLite) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM records WHERE id = ?`, id)

	r, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapSQLiteErr(err)
	}
	return r, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return wrapSQLiteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLite) ListByFilter(ctx context.Context, f domain.Filter) ([]domain.Record, error) {
	query := `SELECT ` + sqliteColumns + ` FROM records`
	var conditions []string
	var args []any

	if !f.IncludeTombstones {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if f.Type != nil {
		conditions = append(conditions, "type = ?")
		args = append(args, string(*f.Type))
	}
	if f.Tier != nil {
		conditions = append(conditions, "tier = ?")
		args = append(args, string(*f.Tier))
	}
	if f.MinImportance > 0 {
		conditions = append(conditions, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, string(*f.State))
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY last_accessed ASC, id ASC"
	// Tag filtering happens in process (tags are a JSON column), so the SQL
	// limit only applies when no tag is requested.
	if f.Limit > 0 && f.Tag == "" {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		if f.Tag != "" && !r.HasTag(f.Tag) {
			continue
		}
		out = append(out, *r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, wrapSQLiteErr(err)
	}
	return count, nil
}

// SearchKeyword ranks by token overlap after a LIKE prefilter on the first
// query term.
func (s *SQLite) SearchKeyword(ctx context.Context, query string, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM records WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	defer rows.Close()

	var out []domain.ScoredRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		score := KeywordScore(query, r.Content)
		if score == 0 {
			continue
		}
		out = append(out, domain.ScoredRecord{Record: *r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// SearchVector is the brute-force fallback over a sampled window of the most
// recently accessed records; the cold tier has no vector index.
func (s *SQLite) SearchVector(ctx context.Context, embedding []float32, k int) ([]domain.ScoredRecord, error) {
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM records
		 WHERE deleted_at IS NULL AND embedding IS NOT NULL
		 ORDER BY last_accessed DESC LIMIT ?`, vectorFallbackWindow)
	if err != nil {
		return nil, wrapSQLiteErr(err)
	}
	defer rows.Close()

	var out []domain.ScoredRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		score := (scoring.Cosine(embedding, r.Embedding) + 1) / 2
		out = append(out, domain.ScoredRecord{Record: *r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *SQLite) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsVectorSearch: false,
		TypicalLatencyMS:     40,
		Durability:           domain.DurabilityArchival,
	}
}

func scanSQLiteRecord(row rowScanner) (*domain.Record, error) {
	r := &domain.Record{}
	var embedding []byte
	var createdAt, lastAccessed, lastDecayed int64
	var deletedAt sql.NullInt64
	var tags, links string
	var review, salience sql.NullString
	var typ, tier, state string

	err := row.Scan(&r.ID, &r.Content, &typ, &embedding, &r.Importance, &r.Strength,
		&r.AccessCount, &createdAt, &lastAccessed, &lastDecayed, &tags, &tier,
		&review, &salience, &r.Privacy.PIIScore, &r.Privacy.FinancialScore,
		&state, &links, &deletedAt)
	if err != nil {
		return nil, err
	}

	r.Type = domain.MemoryType(typ)
	r.Tier = domain.Tier(tier)
	r.State = domain.MemoryState(state)
	r.Embedding = decodeVector(embedding)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lastAccessed > 0 {
		r.LastAccessed = time.UnixMilli(lastAccessed).UTC()
	}
	if lastDecayed > 0 {
		r.LastDecayed = time.UnixMilli(lastDecayed).UTC()
	}
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		r.DeletedAt = &t
	}

	if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(links), &r.Links); err != nil {
		return nil, fmt.Errorf("unmarshal links: %w", err)
	}
	if review.Valid {
		r.Review = &domain.ReviewState{}
		if err := json.Unmarshal([]byte(review.String), r.Review); err != nil {
			return nil, fmt.Errorf("unmarshal review: %w", err)
		}
	}
	if salience.Valid {
		r.Salience = &domain.Salience{}
		if err := json.Unmarshal([]byte(salience.String), r.Salience); err != nil {
			return nil, fmt.Errorf("unmarshal salience: %w", err)
		}
	}
	return r, nil
}

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func wrapSQLiteErr(err error) error {
	return fmt.Errorf("%w: sqlite: %v", domain.ErrBackendUnavailable, err)
}
