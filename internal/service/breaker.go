package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerBackend wraps a tier backend with a circuit breaker so a dead
// backend fails fast instead of stalling every request on its timeout.
// ErrNotFound and ErrInvalidInput do not count as failures.
type BreakerBackend struct {
	inner domain.TierBackend
	cb    *gobreaker.CircuitBreaker
}

func NewBreakerBackend(name string, inner domain.TierBackend, logger *zap.Logger) *BreakerBackend {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("tier breaker state change",
				zap.String("tier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, domain.ErrInvalidInput)
		},
	})
	return &BreakerBackend{inner: inner, cb: cb}
}

func (b *BreakerBackend) execute(op func() (any, error)) (any, error) {
	out, err := b.cb.Execute(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrBackendUnavailable, err)
	}
	return out, err
}

func (b *BreakerBackend) Put(ctx context.Context, r *domain.Record) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Put(ctx, r)
	})
	return err
}

func (b *BreakerBackend) PutTTL(ctx context.Context, r *domain.Record, ttl time.Duration) error {
	tp, ok := b.inner.(domain.TTLPutter)
	if !ok {
		return b.Put(ctx, r)
	}
	_, err := b.execute(func() (any, error) {
		return nil, tp.PutTTL(ctx, r, ttl)
	})
	return err
}

func (b *BreakerBackend) GetByID(ctx context.Context, id string) (*domain.Record, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.Record), nil
}

func (b *BreakerBackend) Delete(ctx context.Context, id string) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.Delete(ctx, id)
	})
	return err
}

func (b *BreakerBackend) ListByFilter(ctx context.Context, f domain.Filter) ([]domain.Record, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.ListByFilter(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.Record), nil
}

func (b *BreakerBackend) Count(ctx context.Context) (int, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Count(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func (b *BreakerBackend) Capabilities() domain.Capabilities {
	return b.inner.Capabilities()
}

func (b *BreakerBackend) SearchVector(ctx context.Context, embedding []float32, k int) ([]domain.ScoredRecord, error) {
	vs, ok := b.inner.(domain.VectorSearcher)
	if !ok {
		return nil, fmt.Errorf("%w: backend has no vector search", domain.ErrInvalidInput)
	}
	out, err := b.execute(func() (any, error) {
		return vs.SearchVector(ctx, embedding, k)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.ScoredRecord), nil
}

func (b *BreakerBackend) SearchKeyword(ctx context.Context, query string, k int) ([]domain.ScoredRecord, error) {
	ks, ok := b.inner.(domain.KeywordSearcher)
	if !ok {
		return nil, fmt.Errorf("%w: backend has no keyword search", domain.ErrInvalidInput)
	}
	out, err := b.execute(func() (any, error) {
		return ks.SearchKeyword(ctx, query, k)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.ScoredRecord), nil
}

var _ domain.TierBackend = (*BreakerBackend)(nil)
