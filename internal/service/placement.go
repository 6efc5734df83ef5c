package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Placement rule thresholds (per maintenance cycle).
const (
	promoteColdWeeklyAccesses = 3
	promoteWarmDailyAccesses  = 5
	promoteWarmMinStrength    = 0.6
	demoteWarmMaxStrength     = domain.ActiveThreshold
	demoteWarmMaxAgeDays      = 90
	hotWindowMinAccesses      = 5
)

var moveBackoffSteps = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second}

// PlacementResult summarizes one placement pass.
type PlacementResult struct {
	Promoted   int `json:"promoted"`
	Demoted    int `json:"demoted"`
	Reconciled int `json:"reconciled"`
	Failed     int `json:"failed"`
}

// PlacementEngine moves records between tiers according to the access-pattern
// rules. Moves are put-verify-delete so a crash can duplicate a record across
// tiers but never lose it; Reconcile cleans duplicates up trusting the tier
// recorded on the record itself.
type PlacementEngine struct {
	tiers  Tiers
	locks  *lockTable
	access *accessTracker
	logger *zap.Logger

	hotTTLBase      time.Duration
	hotTTLPerAccess time.Duration
	hotTTLMax       time.Duration
}

func NewPlacementEngine(tiers Tiers, locks *lockTable, access *accessTracker, hotTTLBase, hotTTLPerAccess, hotTTLMax time.Duration, logger *zap.Logger) *PlacementEngine {
	return &PlacementEngine{
		tiers:           tiers,
		locks:           locks,
		access:          access,
		logger:          logger,
		hotTTLBase:      hotTTLBase,
		hotTTLPerAccess: hotTTLPerAccess,
		hotTTLMax:       hotTTLMax,
	}
}

// hotDeadline is when a hot record's residency lapses: base TTL plus an
// extension per access, capped, measured from the last touch.
func (p *PlacementEngine) hotDeadline(r *domain.Record) time.Time {
	allowed := p.hotTTLBase + time.Duration(r.AccessCount)*p.hotTTLPerAccess
	if allowed > p.hotTTLMax {
		allowed = p.hotTTLMax
	}
	anchor := r.LastAccessed
	if anchor.IsZero() {
		anchor = r.CreatedAt
	}
	return anchor.Add(allowed)
}

// DesiredTier applies the placement rules to a record in its current tier.
// The second return is false when the record should stay put.
func (p *PlacementEngine) DesiredTier(r *domain.Record, now time.Time) (domain.Tier, bool) {
	switch r.Tier {
	case domain.TierCold:
		if p.access.CountLastWeek(r.ID, now) >= promoteColdWeeklyAccesses {
			return domain.TierWarm, true
		}
	case domain.TierWarm:
		if p.access.CountLastDay(r.ID, now) >= promoteWarmDailyAccesses && r.Strength >= promoteWarmMinStrength {
			return domain.TierHot, true
		}
		if r.Strength < demoteWarmMaxStrength {
			return domain.TierCold, true
		}
		if r.AgeDays(now) > demoteWarmMaxAgeDays && p.access.CountSince(r.ID, now.Add(-accessWindowMonth)) == 0 {
			return domain.TierCold, true
		}
	case domain.TierHot:
		// Session-scoped records stay hot for the session's lifetime.
		if r.HasTag(domain.TagSessionActive) {
			return "", false
		}
		if now.After(p.hotDeadline(r)) {
			return domain.TierWarm, true
		}
		// Low traffic demotes before the deadline: a record past its first
		// TTL window with fewer than five accesses in the trailing window
		// has not earned hot residency. Fresh writes are exempt until one
		// full window has elapsed.
		if now.Sub(r.CreatedAt) >= p.hotTTLBase &&
			p.access.CountSince(r.ID, now.Add(-p.hotTTLBase)) < hotWindowMinAccesses {
			return domain.TierWarm, true
		}
	}
	return "", false
}

// Move relocates a record: write to destination, verify it landed, then
// delete the source copy. Each step is retried with backoff. A failed source
// delete leaves a duplicate that Reconcile removes next cycle.
func (p *PlacementEngine) Move(ctx context.Context, r *domain.Record, dest domain.Tier) error {
	if r.Tier == dest {
		return nil
	}
	unlock := p.locks.Lock(r.ID)
	defer unlock()

	src := r.Tier
	moved := r.Clone()
	moved.Tier = dest

	put := func(ctx context.Context) error {
		backend := p.tiers.Backend(dest)
		if dest == domain.TierHot {
			if tp, ok := backend.(domain.TTLPutter); ok {
				return retryIfUnavailable(tp.PutTTL(ctx, moved, p.hotTTLMax))
			}
		}
		return retryIfUnavailable(backend.Put(ctx, moved))
	}
	if err := retry.Do(ctx, moveBackoff(), put); err != nil {
		return fmt.Errorf("move %s to %s: put: %w", r.ID, dest, err)
	}

	verify := func(ctx context.Context) error {
		_, err := p.tiers.Backend(dest).GetByID(ctx, r.ID)
		return retryIfUnavailable(err)
	}
	if err := retry.Do(ctx, moveBackoff(), verify); err != nil {
		return fmt.Errorf("move %s to %s: verify: %w", r.ID, dest, err)
	}

	del := func(ctx context.Context) error {
		err := p.tiers.Backend(src).Delete(ctx, r.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return retryIfUnavailable(err)
	}
	if err := retry.Do(ctx, moveBackoff(), del); err != nil {
		// Destination holds the truth now; the stale source copy is
		// cleaned up by reconciliation.
		p.logger.Warn("source delete failed after move, duplicate left for reconcile",
			zap.String("id", r.ID),
			zap.String("src", string(src)),
			zap.String("dest", string(dest)),
			zap.Error(err))
	}

	r.Tier = dest
	return nil
}

// Run applies the rules to every tier plus any queued promotions.
func (p *PlacementEngine) Run(ctx context.Context, now time.Time, pending map[string]domain.Tier) *PlacementResult {
	res := &PlacementResult{}

	for _, tier := range domain.AllTiers() {
		records, err := p.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{})
		if err != nil {
			p.logger.Warn("placement scan failed",
				zap.String("tier", string(tier)), zap.Error(err))
			res.Failed++
			continue
		}
		for i := range records {
			r := &records[i]
			dest, move := p.DesiredTier(r, now)
			if !move {
				if queued, ok := pending[r.ID]; ok && tierRank(queued) > tierRank(r.Tier) {
					dest, move = queued, true
				}
			}
			if !move {
				continue
			}
			if err := p.Move(ctx, r, dest); err != nil {
				p.logger.Warn("placement move failed",
					zap.String("id", r.ID), zap.Error(err))
				res.Failed++
				continue
			}
			if tierRank(dest) > tierRank(tier) {
				res.Promoted++
			} else {
				res.Demoted++
			}
		}
	}

	p.access.Compact(now)
	return res
}

// Reconcile removes copies of a record from every tier other than the one the
// record itself claims. Run after moves so interrupted moves converge.
func (p *PlacementEngine) Reconcile(ctx context.Context) int {
	seen := make(map[string]domain.Tier)
	cleaned := 0

	for _, tier := range domain.AllTiers() {
		records, err := p.tiers.Backend(tier).ListByFilter(ctx, domain.Filter{IncludeTombstones: true})
		if err != nil {
			continue
		}
		for i := range records {
			r := &records[i]
			if r.Tier == tier {
				seen[r.ID] = tier
				continue
			}
			// Found outside its recorded tier: the recorded tier is the
			// destination of the last move, so this copy is stale if the
			// destination actually has it.
			if _, err := p.tiers.Backend(r.Tier).GetByID(ctx, r.ID); err != nil {
				continue
			}
			unlock := p.locks.Lock(r.ID)
			if err := p.tiers.Backend(tier).Delete(ctx, r.ID); err == nil {
				cleaned++
			}
			unlock()
		}
	}
	return cleaned
}

func tierRank(t domain.Tier) int {
	switch t {
	case domain.TierHot:
		return 2
	case domain.TierWarm:
		return 1
	default:
		return 0
	}
}

func moveBackoff() retry.Backoff {
	i := 0
	var b retry.BackoffFunc = func() (time.Duration, bool) {
		if i >= len(moveBackoffSteps) {
			return 0, true
		}
		d := moveBackoffSteps[i]
		i++
		return d, false
	}
	return b
}

// retryIfUnavailable marks transient backend errors retryable; everything
// else aborts the retry loop.
func retryIfUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrBackendUnavailable) {
		return retry.RetryableError(err)
	}
	return err
}
