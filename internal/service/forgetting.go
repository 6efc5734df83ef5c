package service

import (
	"context"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/scoring"
	"go.uber.org/zap"
)

// Forgetting rule thresholds.
const (
	piiExpiryScore   = 0.5
	piiExpiryAgeDays = 30

	financialExpiryScore   = 0.5
	financialExpiryAgeDays = 90

	staleEpisodicMaxImp  = 0.3
	staleEpisodicAgeDays = 180

	immediateRiskThreshold = 0.7
)

// ForgettingResult summarizes one forgetting pass.
type ForgettingResult struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

// ForgettingEngine expires records that privacy or staleness rules condemn.
// Expiry is a tombstone first: the record stays retrievable as a
// privacy-expired stub for the grace period, then is purged for good.
type ForgettingEngine struct {
	tiers  Tiers
	locks  *lockTable
	logger *zap.Logger
	grace  time.Duration
}

func NewForgettingEngine(tiers Tiers, locks *lockTable, grace time.Duration, logger *zap.Logger) *ForgettingEngine {
	if grace <= 0 {
		grace = 7 * 24 * time.Hour
	}
	return &ForgettingEngine{tiers: tiers, locks: locks, grace: grace, logger: logger}
}

// ShouldExpire applies the forgetting rules. Protected records never expire.
func ShouldExpire(r *domain.Record, now time.Time) bool {
	if r.NeverForget() {
		return false
	}
	age := r.AgeDays(now)

	if r.Privacy.PIIScore > piiExpiryScore && age > piiExpiryAgeDays {
		return true
	}
	if r.Privacy.FinancialScore > financialExpiryScore && age > financialExpiryAgeDays {
		return true
	}
	if r.Type == domain.MemoryTypeEpisodic && r.Importance < staleEpisodicMaxImp && age > staleEpisodicAgeDays {
		return true
	}
	return scoring.PrivacyRisk(r.Privacy, age) > immediateRiskThreshold
}

// Run tombstones expired records and purges tombstones past the grace
// period.
func (f *ForgettingEngine) Run(ctx context.Context, now time.Time) *ForgettingResult {
	res := &ForgettingResult{}

	for _, tier := range domain.AllTiers() {
		records, err := f.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{IncludeTombstones: true})
		if err != nil {
			f.logger.Warn("forgetting scan failed",
				zap.String("tier", string(tier)), zap.Error(err))
			continue
		}

		for i := range records {
			if ctx.Err() != nil {
				return res
			}
			r := &records[i]

			if r.Tombstoned() {
				if now.Sub(*r.DeletedAt) >= f.grace {
					unlock := f.locks.Lock(r.ID)
					if err := f.tiers.Backend(tier).Delete(ctx, r.ID); err != nil {
						f.logger.Warn("purge failed",
							zap.String("id", r.ID), zap.Error(err))
					} else {
						res.Purged++
					}
					unlock()
				}
				continue
			}

			if !ShouldExpire(r, now) {
				continue
			}

			unlock := f.locks.Lock(r.ID)
			deleted := now
			r.DeletedAt = &deleted
			r.State = domain.StateDeleted
			if err := f.tiers.Backend(tier).Put(ctx, r); err != nil {
				f.logger.Warn("tombstone write failed",
					zap.String("id", r.ID), zap.Error(err))
			} else {
				res.Expired++
			}
			unlock()
		}
	}

	if res.Expired > 0 || res.Purged > 0 {
		f.logger.Info("forgetting complete",
			zap.Int("expired", res.Expired),
			zap.Int("purged", res.Purged))
	}
	return res
}
