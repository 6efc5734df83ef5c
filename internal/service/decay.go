package service

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"go.uber.org/zap"
)

// decayMinElapsed keeps decay idempotent within a day: a record decayed less
// than this long ago is skipped.
const decayMinElapsed = 24 * time.Hour

// DecayResult summarizes one decay pass.
type DecayResult struct {
	Examined     int `json:"examined"`
	Decayed      int `json:"decayed"`
	StateChanged int `json:"state_changed"`
}

// DecayEngine applies strength decay across all tiers and walks records down
// the state ladder. Records crossing a state boundary are reported back so
// the placement pass can re-evaluate their tier.
type DecayEngine struct {
	tiers     Tiers
	scorer    *scoring.Engine
	locks     *lockTable
	logger    *zap.Logger
	batchSize int
}

func NewDecayEngine(tiers Tiers, scorer *scoring.Engine, locks *lockTable, batchSize int, logger *zap.Logger) *DecayEngine {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &DecayEngine{
		tiers:     tiers,
		scorer:    scorer,
		locks:     locks,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run decays up to batchSize records per tier, oldest last_accessed first, so
// repeated passes make progress through a large corpus. Returns the result
// plus the ids whose state changed and need a placement review.
func (d *DecayEngine) Run(ctx context.Context, now time.Time) (*DecayResult, []string) {
	res := &DecayResult{}
	var reviewIDs []string

	for _, tier := range domain.AllTiers() {
		records, err := d.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{Limit: d.batchSize})
		if err != nil {
			d.logger.Warn("decay scan failed",
				zap.String("tier", string(tier)), zap.Error(err))
			continue
		}

		for i := range records {
			if ctx.Err() != nil {
				return res, reviewIDs
			}
			r := &records[i]
			res.Examined++

			anchor := r.LastDecayed
			if anchor.IsZero() {
				anchor = r.CreatedAt
			}
			if now.Sub(anchor) < decayMinElapsed {
				continue
			}

			unlock := d.locks.Lock(r.ID)
			newStrength := d.scorer.Decay(r, now)
			newState := domain.StateForStrength(newStrength)
			if newState == domain.StateDeleted {
				if r.NeverForget() {
					// Protected records bottom out at archived.
					newStrength = domain.ArchivedThreshold
					newState = domain.StateArchived
				} else if !r.Tombstoned() {
					// A deleted state is always a tombstone, so the
					// forgetting pass purges it after the grace window.
					deletedAt := now
					r.DeletedAt = &deletedAt
				}
			}
			changed := newState != r.State

			r.Strength = newStrength
			r.LastDecayed = now
			if changed {
				r.State = newState
			}

			if err := d.tiers.Backend(tier).Put(ctx, r); err != nil {
				unlock()
				d.logger.Warn("decay write failed",
					zap.String("id", r.ID), zap.Error(err))
				continue
			}
			unlock()

			res.Decayed++
			if changed {
				res.StateChanged++
				reviewIDs = append(reviewIDs, r.ID)
			}
		}
	}

	return res, reviewIDs
}
