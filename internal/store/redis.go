package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "mem:"
	redisIndexKey  = "mem:index"
)

// Redis is the hot tier backend: low latency, session durability, native
// TTL-on-write. Records are stored as JSON values with an id index set.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func NewRedisFromAddr(addr string) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Put(ctx context.Context, r *domain.Record) error {
	return s.put(ctx, r, 0)
}

func (s *Redis) PutTTL(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	return s.put(ctx, r, ttl)
}

func (s *Redis) put(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	if r.ID == "" {
		return fmt.Errorf("%w: record id is empty", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(redisRecord{Record: r, Embedding: r.Embedding})
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+r.ID, payload, ttl)
	pipe.SAdd(ctx, redisIndexKey, r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr(err)
	}
	return nil
}

// redisRecord re-exposes the embedding, which the domain type hides from
// JSON responses.
type redisRecord struct {
	*domain.Record
	Embedding []float32 `json:"embedding,omitempty"`
}

func (s *Redis) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, wrapRedisErr(err)
	}

	var rr redisRecord
	rr.Record = &domain.Record{}
	if err := json.Unmarshal(payload, &rr); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	rr.Record.Embedding = rr.Embedding
	return rr.Record, nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, redisKeyPrefix+id)
	pipe.SRem(ctx, redisIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedisErr(err)
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByFilter loads the id index and filters in process. The hot tier is
// small by construction, so the round trip stays cheap.
func (s *Redis) ListByFilter(ctx context.Context, f domain.Filter) ([]domain.Record, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}

	var out []domain.Record
	for _, id := range ids {
		r, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// TTL-expired entry still in the index; drop it lazily.
				s.client.SRem(ctx, redisIndexKey, id)
				continue
			}
			return nil, err
		}
		if !matchFilter(r, f) {
			continue
		}
		out = append(out, *r)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Redis) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, wrapRedisErr(err)
	}
	return int(n), nil
}

func (s *Redis) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		SupportsVectorSearch: false,
		TypicalLatencyMS:     2,
		Durability:           domain.DurabilitySession,
	}
}

func wrapRedisErr(err error) error {
	return fmt.Errorf("%w: redis: %v", domain.ErrBackendUnavailable, err)
}
